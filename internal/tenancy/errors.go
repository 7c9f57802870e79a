package tenancy

import "errors"

var (
	// ErrMissingTenantContext is returned when a tenant-scoped operation runs
	// on a request that has no tenant bound.
	ErrMissingTenantContext = errors.New("tenant context required")

	// ErrUnknownTenant is returned by a Directory when no tenant has the code.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrInactiveTenant is returned when a tenant exists but is deactivated or expired.
	ErrInactiveTenant = errors.New("tenant is inactive")

	// ErrInvalidCode is returned when a candidate code fails normalization.
	ErrInvalidCode = errors.New("invalid tenant code")

	// ErrTenantAlreadyBound is returned when Set is called twice on the same slot.
	ErrTenantAlreadyBound = errors.New("tenant already bound for this request")

	// ErrInvalidIdentity is returned when Set receives a nil id or empty code.
	ErrInvalidIdentity = errors.New("invalid tenant identity")
)

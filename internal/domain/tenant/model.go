package tenant

import (
	"time"

	"github.com/google/uuid"

	"github.com/hbys/hbys/internal/tenancy"
)

// Type is the deployment model of a tenant.
type Type string

const (
	TypeSaaS      Type = "saas"
	TypeOnPremise Type = "on_premise"
	TypeGroup     Type = "group"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSaaS, TypeOnPremise, TypeGroup:
		return true
	}
	return false
}

// Tenant maps to the tenants table. Code is immutable once created.
type Tenant struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	Name        string     `db:"name" json:"name"`
	DisplayName *string    `db:"display_name" json:"display_name,omitempty"`
	Type        Type       `db:"type" json:"type"`
	Active      bool       `db:"is_active" json:"is_active"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Entry projects the tenant onto the resolver's view.
func (t *Tenant) Entry() *tenancy.Entry {
	return &tenancy.Entry{ID: t.ID, Code: t.Code, Active: t.Active, ExpiresAt: t.ExpiresAt}
}

// IsUsable reports whether requests may bind to the tenant at now.
func (t *Tenant) IsUsable(now time.Time) bool {
	return t.Entry().Usable(now)
}

// Identity returns the tenant as a context identity.
func (t *Tenant) Identity() tenancy.Identity {
	return tenancy.Identity{ID: t.ID, Code: t.Code}
}

// CreateRequest is the input for Service.Create.
type CreateRequest struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	DisplayName *string    `json:"display_name,omitempty"`
	Type        Type       `json:"type,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpdateInfoRequest changes descriptive fields. Nil fields are left alone.
type UpdateInfoRequest struct {
	Name        *string `json:"name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Type        *Type   `json:"type,omitempty"`
}

// ListFilter narrows Service.List.
type ListFilter struct {
	Active *bool
	Search string
}

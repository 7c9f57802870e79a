package license

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// ErrInvalid reports rejected input.
var ErrInvalid = errors.New("invalid license")

type Type string

const (
	TypeTrial        Type = "trial"
	TypeStandard     Type = "standard"
	TypeProfessional Type = "professional"
	TypeEnterprise   Type = "enterprise"
)

func (t Type) Valid() bool {
	switch t {
	case TypeTrial, TypeStandard, TypeProfessional, TypeEnterprise:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// License grants a tenant one module. At most one exists per (tenant, module).
type License struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Module     string     `db:"module" json:"module"`
	Type       Type       `db:"type" json:"type"`
	Status     Status     `db:"status" json:"status"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	ExpiryDate *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	MaxUsers   *int       `db:"max_users" json:"max_users,omitempty"`
	MaxRecords *int       `db:"max_records" json:"max_records,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	Features   []*Feature `db:"-" json:"features,omitempty"`
}

// IsExpired reports whether the expiry date has passed at now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiryDate != nil && !l.ExpiryDate.After(now)
}

// IsActive is true only for an active status with no passed expiry. The
// stored status alone is not authoritative once time has moved on.
func (l *License) IsActive(now time.Time) bool {
	return l.Status == StatusActive && !l.IsExpired(now)
}

// EffectiveStatus reports expired for an active license past its expiry.
func (l *License) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusActive && l.IsExpired(now) {
		return StatusExpired
	}
	return l.Status
}

// Renew reactivates the license. A nil expiry makes it open-ended; otherwise
// the expiry must lie after now. Repeating the call with the same date is a no-op.
func (l *License) Renew(newExpiry *time.Time, now time.Time) error {
	if newExpiry != nil && !newExpiry.After(now) {
		return fmt.Errorf("%w: renewal expiry must be in the future", ErrInvalid)
	}
	l.Status = StatusActive
	if newExpiry == nil {
		l.ExpiryDate = nil
		return nil
	}
	exp := newExpiry.UTC()
	l.ExpiryDate = &exp
	return nil
}

// Extend reactivates the license until newExpiry, which must lie after now.
func (l *License) Extend(newExpiry time.Time, now time.Time) error {
	return l.Renew(&newExpiry, now)
}

// Cancel marks the license cancelled. Features stay stored but read as disabled.
func (l *License) Cancel() {
	l.Status = StatusCancelled
}

// Feature is a capability flag nested under a license.
type Feature struct {
	ID          uuid.UUID `db:"id" json:"id"`
	LicenseID   uuid.UUID `db:"license_id" json:"license_id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	Limit       *int      `db:"usage_limit" json:"limit,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (f *Feature) Enable()  { f.Enabled = true }
func (f *Feature) Disable() { f.Enabled = false }

// SetLimit replaces the limit. Nil removes it.
func (f *Feature) SetLimit(limit *int) error {
	if limit != nil && *limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalid)
	}
	f.Limit = limit
	return nil
}

const maxNameLen = 100

// NormalizeName case-folds module and feature names so lookups are case-insensitive.
func NormalizeName(raw string) (string, error) {
	// Casers carry state and are not safe to share across goroutines.
	name := cases.Fold().String(strings.TrimSpace(raw))
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalid, maxNameLen)
	}
	if strings.ContainsAny(name, " \t\r\n/") {
		return "", fmt.Errorf("%w: name %q contains whitespace or '/'", ErrInvalid, raw)
	}
	return name, nil
}

// CreateRequest is the input for Service.Create.
type CreateRequest struct {
	TenantID   uuid.UUID        `json:"tenant_id"`
	Module     string           `json:"module"`
	Type       Type             `json:"type,omitempty"`
	StartDate  *time.Time       `json:"start_date,omitempty"`
	ExpiryDate *time.Time       `json:"expiry_date,omitempty"`
	MaxUsers   *int             `json:"max_users,omitempty"`
	MaxRecords *int             `json:"max_records,omitempty"`
	Features   []FeatureRequest `json:"features,omitempty"`
}

// FeatureRequest creates or replaces a feature.
type FeatureRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Enabled     bool    `json:"enabled"`
	Limit       *int    `json:"limit,omitempty"`
}

// RenewalRequest records a tenant asking for its license to be renewed.
// An administrator fulfils it with Service.Renew.
type RenewalRequest struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	LicenseID   uuid.UUID `db:"license_id" json:"license_id"`
	RequestedBy *string   `db:"requested_by" json:"requested_by,omitempty"`
	Note        *string   `db:"note" json:"note,omitempty"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

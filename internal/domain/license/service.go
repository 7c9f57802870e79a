package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/tenancy"
)

// Counter counts rows owned by the tenant bound to ctx.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context) (int, error)

func (f CounterFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

type Service struct {
	repo    Repository
	users   Counter
	records Counter
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetUsageCounters attaches the counters the usage report compares against
// license caps. Either may be nil.
func (s *Service) SetUsageCounters(users, records Counter) {
	s.users = users
	s.records = records
}

func validCap(name string, v *int) error {
	if v != nil && *v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*License, error) {
	if req.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalid)
	}
	module, err := NormalizeName(req.Module)
	if err != nil {
		return nil, err
	}
	typ := req.Type
	if typ == "" {
		typ = TypeStandard
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, typ)
	}
	now := s.now()
	if req.ExpiryDate != nil && !req.ExpiryDate.After(now) {
		return nil, fmt.Errorf("%w: expiry_date must be in the future", ErrInvalid)
	}
	if err := validCap("max_users", req.MaxUsers); err != nil {
		return nil, err
	}
	if err := validCap("max_records", req.MaxRecords); err != nil {
		return nil, err
	}

	l := &License{
		TenantID:   req.TenantID,
		Module:     module,
		Type:       typ,
		Status:     StatusActive,
		ExpiryDate: req.ExpiryDate,
		MaxUsers:   req.MaxUsers,
		MaxRecords: req.MaxRecords,
	}
	if req.StartDate != nil {
		l.StartDate = req.StartDate.UTC()
	}
	if l.ExpiryDate != nil {
		exp := l.ExpiryDate.UTC()
		l.ExpiryDate = &exp
	}

	seen := make(map[string]bool, len(req.Features))
	for _, fr := range req.Features {
		f, err := newFeature(fr)
		if err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: feature %q listed twice", ErrInvalid, f.Name)
		}
		seen[f.Name] = true
		l.Features = append(l.Features, f)
	}

	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("tenant_id", l.TenantID.String()).
		Str("module", l.Module).
		Str("license_id", l.ID.String()).
		Int("features", len(l.Features)).
		Msg("license created")
	return l, nil
}

func newFeature(fr FeatureRequest) (*Feature, error) {
	name, err := NormalizeName(fr.Name)
	if err != nil {
		return nil, err
	}
	f := &Feature{Name: name, Description: fr.Description, Enabled: fr.Enabled}
	if err := f.SetLimit(fr.Limit); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the license with its features.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*License, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Features, err = s.repo.ListFeatures(ctx, l.ID); err != nil {
		return nil, err
	}
	return l, nil
}

// ListForTenant returns every license of the tenant with features attached.
func (s *Service) ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]*License, error) {
	items, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, l := range items {
		if l.Features, err = s.repo.ListFeatures(ctx, l.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Renew reactivates the license. A nil newExpiry makes it open-ended.
// Pending renewal requests for the license are marked fulfilled.
func (s *Service) Renew(ctx context.Context, id uuid.UUID, newExpiry *time.Time) (*License, error) {
	l, err := s.mutate(ctx, id, "renew", func(l *License) error {
		return l.Renew(newExpiry, s.now())
	})
	if err != nil {
		return nil, err
	}
	if n, err := s.repo.FulfilRenewals(ctx, l.ID); err != nil {
		s.logger.Warn().Err(err).Str("license_id", l.ID.String()).Msg("failed to close renewal requests")
	} else if n > 0 {
		s.logger.Info().Str("license_id", l.ID.String()).Int("requests", n).Msg("renewal requests fulfilled")
	}
	return l, nil
}

// Extend reactivates the license until newExpiry.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, newExpiry time.Time) (*License, error) {
	return s.mutate(ctx, id, "extend", func(l *License) error {
		return l.Extend(newExpiry, s.now())
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*License, error) {
	return s.mutate(ctx, id, "cancel", func(l *License) error {
		l.Cancel()
		return nil
	})
}

// UpdateCaps replaces the user and record caps. Nil removes a cap.
func (s *Service) UpdateCaps(ctx context.Context, id uuid.UUID, maxUsers, maxRecords *int) (*License, error) {
	if err := validCap("max_users", maxUsers); err != nil {
		return nil, err
	}
	if err := validCap("max_records", maxRecords); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "update_caps", func(l *License) error {
		l.MaxUsers, l.MaxRecords = maxUsers, maxRecords
		return nil
	})
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func unchanged(before License, after *License) bool {
	return before.Type == after.Type &&
		before.Status == after.Status &&
		before.StartDate.Equal(after.StartDate) &&
		sameTime(before.ExpiryDate, after.ExpiryDate) &&
		sameInt(before.MaxUsers, after.MaxUsers) &&
		sameInt(before.MaxRecords, after.MaxRecords)
}

// mutate applies fn and writes the license back unless nothing changed, so
// repeating an operation with the same arguments does not bump the version.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, action string, fn func(l *License) error) (*License, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *l
	if err := fn(l); err != nil {
		return nil, err
	}
	if !unchanged(before, l) {
		if err := s.repo.Update(ctx, l, before.UpdatedAt); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("license_id", l.ID.String()).
			Str("module", l.Module).
			Str("action", action).
			Str("status", string(l.Status)).
			Msg("license updated")
	}
	if l.Features, err = s.repo.ListFeatures(ctx, l.ID); err != nil {
		return nil, err
	}
	return l, nil
}

// UpsertFeature creates the named feature or replaces its fields.
func (s *Service) UpsertFeature(ctx context.Context, licenseID uuid.UUID, req FeatureRequest) (*Feature, error) {
	f, err := newFeature(req)
	if err != nil {
		return nil, err
	}
	l, err := s.repo.GetByID(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	f.LicenseID, f.TenantID = l.ID, l.TenantID
	if err := s.repo.UpsertFeature(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("license_id", l.ID.String()).
		Str("feature", f.Name).
		Bool("enabled", f.Enabled).
		Msg("license feature upserted")
	return f, nil
}

func (s *Service) EnableFeature(ctx context.Context, licenseID uuid.UUID, name string) (*Feature, error) {
	return s.mutateFeature(ctx, licenseID, name, "enable", func(f *Feature) error {
		f.Enable()
		return nil
	})
}

func (s *Service) DisableFeature(ctx context.Context, licenseID uuid.UUID, name string) (*Feature, error) {
	return s.mutateFeature(ctx, licenseID, name, "disable", func(f *Feature) error {
		f.Disable()
		return nil
	})
}

// UpdateFeatureLimit replaces the feature's limit. Nil removes it.
func (s *Service) UpdateFeatureLimit(ctx context.Context, licenseID uuid.UUID, name string, limit *int) (*Feature, error) {
	return s.mutateFeature(ctx, licenseID, name, "update_limit", func(f *Feature) error {
		return f.SetLimit(limit)
	})
}

func (s *Service) mutateFeature(ctx context.Context, licenseID uuid.UUID, rawName, action string, fn func(f *Feature) error) (*Feature, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return nil, err
	}
	f, err := s.repo.GetFeature(ctx, licenseID, name)
	if err != nil {
		return nil, err
	}
	before := *f
	if err := fn(f); err != nil {
		return nil, err
	}
	if before.Enabled == f.Enabled && sameInt(before.Limit, f.Limit) {
		return f, nil
	}
	if err := s.repo.UpdateFeature(ctx, f, before.UpdatedAt); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("license_id", licenseID.String()).
		Str("feature", f.Name).
		Str("action", action).
		Msg("license feature updated")
	return f, nil
}

// RenewalInput is what a tenant sends when asking for a renewal.
type RenewalInput struct {
	RequestedBy *string `json:"requested_by,omitempty"`
	Note        *string `json:"note,omitempty"`
}

// RequestRenewal records a renewal request for the bound tenant's license of
// module. The license itself is unchanged until an administrator renews it.
func (s *Service) RequestRenewal(ctx context.Context, module string, in RenewalInput) (*RenewalRequest, error) {
	id, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	mod, err := NormalizeName(module)
	if err != nil {
		return nil, err
	}
	l, err := s.repo.GetByModule(ctx, id.ID, mod)
	if err != nil {
		return nil, err
	}
	if in.Note != nil {
		note := strings.TrimSpace(*in.Note)
		in.Note = &note
	}

	req := &RenewalRequest{
		TenantID:    id.ID,
		LicenseID:   l.ID,
		RequestedBy: in.RequestedBy,
		Note:        in.Note,
	}
	if err := s.repo.CreateRenewalRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("tenant_code", id.Code).
		Str("module", mod).
		Str("request_id", req.ID.String()).
		Msg("license renewal requested")
	return req, nil
}

func (s *Service) ListPendingRenewals(ctx context.Context, limit, offset int) ([]*RenewalRequest, int, error) {
	return s.repo.ListPendingRenewals(ctx, limit, offset)
}

// ModuleUsage compares current counts with one license's caps.
type ModuleUsage struct {
	Module          string `json:"module"`
	Status          Status `json:"status"`
	IsActive        bool   `json:"is_active"`
	MaxUsers        *int   `json:"max_users,omitempty"`
	MaxRecords      *int   `json:"max_records,omitempty"`
	UsersExceeded   bool   `json:"users_exceeded"`
	RecordsExceeded bool   `json:"records_exceeded"`
}

// Usage is the usage report of one tenant.
type Usage struct {
	TenantID       uuid.UUID     `json:"tenant_id"`
	CurrentUsers   int           `json:"current_users"`
	CurrentRecords int           `json:"current_records"`
	Modules        []ModuleUsage `json:"modules"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Usage reports counts for the tenant bound to ctx against every license cap.
func (s *Service) Usage(ctx context.Context) (*Usage, error) {
	id, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &Usage{TenantID: id.ID, GeneratedAt: now.UTC(), Modules: []ModuleUsage{}}

	if s.users != nil {
		if u.CurrentUsers, err = s.users.Count(ctx); err != nil {
			return nil, fmt.Errorf("count users: %w", err)
		}
	}
	if s.records != nil {
		if u.CurrentRecords, err = s.records.Count(ctx); err != nil {
			return nil, fmt.Errorf("count records: %w", err)
		}
	}

	licenses, err := s.repo.ListByTenant(ctx, id.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	for _, l := range licenses {
		u.Modules = append(u.Modules, ModuleUsage{
			Module:          l.Module,
			Status:          l.EffectiveStatus(now),
			IsActive:        l.IsActive(now),
			MaxUsers:        l.MaxUsers,
			MaxRecords:      l.MaxRecords,
			UsersExceeded:   l.MaxUsers != nil && u.CurrentUsers > *l.MaxUsers,
			RecordsExceeded: l.MaxRecords != nil && u.CurrentRecords > *l.MaxRecords,
		})
	}
	return u, nil
}

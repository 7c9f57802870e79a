package tenant

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

// ErrInvalid reports rejected input.
var ErrInvalid = errors.New("invalid tenant")

type Service struct {
	repo   Repository
	cache  tenancy.Invalidator
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetInvalidator attaches the directory cache that must forget a tenant
// after it changes.
func (s *Service) SetInvalidator(inv tenancy.Invalidator) {
	s.cache = inv
}

func (s *Service) invalidate(ctx context.Context, code string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, code)
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Tenant, error) {
	code, err := tenancy.NormalizeCode(req.Code)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	typ := req.Type
	if typ == "" {
		typ = TypeSaaS
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, typ)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalid)
	}

	t := &Tenant{
		Code:        code,
		Name:        name,
		DisplayName: req.DisplayName,
		Type:        typ,
		Active:      true,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx, code)
	s.logger.Info().Str("tenant_code", code).Str("tenant_id", t.ID.String()).Msg("tenant created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByCode normalizes code before looking it up.
func (s *Service) GetByCode(ctx context.Context, code string) (*Tenant, error) {
	norm, err := tenancy.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByCode(ctx, norm)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) UpdateInfo(ctx context.Context, id uuid.UUID, req UpdateInfoRequest) (*Tenant, error) {
	return s.mutate(ctx, id, "update_info", func(t *Tenant) error {
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: name must not be empty", ErrInvalid)
			}
			t.Name = name
		}
		if req.DisplayName != nil {
			t.DisplayName = req.DisplayName
		}
		if req.Type != nil {
			if !req.Type.Valid() {
				return fmt.Errorf("%w: unknown type %q", ErrInvalid, *req.Type)
			}
			t.Type = *req.Type
		}
		return nil
	})
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.mutate(ctx, id, "activate", func(t *Tenant) error {
		t.Active = true
		return nil
	})
}

// Deactivate stops the tenant from resolving. Tenants are never deleted.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.mutate(ctx, id, "deactivate", func(t *Tenant) error {
		t.Active = false
		return nil
	})
}

// ExtendExpiry moves the tenant's expiry to newExpiry, which must be in the future.
func (s *Service) ExtendExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) (*Tenant, error) {
	if !newExpiry.After(s.now()) {
		return nil, fmt.Errorf("%w: new expiry must be in the future", ErrInvalid)
	}
	return s.mutate(ctx, id, "extend_expiry", func(t *Tenant) error {
		exp := newExpiry.UTC()
		t.ExpiresAt = &exp
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, action string, fn func(t *Tenant) error) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := t.UpdatedAt
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, t, expected); err != nil {
		return nil, err
	}
	s.invalidate(ctx, t.Code)
	s.logger.Info().Str("tenant_code", t.Code).Str("action", action).Msg("tenant updated")
	return t, nil
}

// LookupByCode implements tenancy.Directory over the repository.
func (s *Service) LookupByCode(ctx context.Context, code string) (*tenancy.Entry, error) {
	t, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, tenancy.ErrUnknownTenant
		}
		return nil, err
	}
	return t.Entry(), nil
}

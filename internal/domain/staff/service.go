package staff

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/tenancy"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,99}$`)
	roleNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,99}$`)
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func normalizeRole(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !roleNamePattern.MatchString(n) {
		return "", fmt.Errorf("%w: role name %q is not valid", ErrInvalid, name)
	}
	return n, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: email %q is not valid", ErrInvalid, raw)
	}
	return strings.ToLower(addr.Address), nil
}

func (s *Service) logEvent(ctx context.Context) *zerolog.Event {
	code, _ := tenancy.FromContext(ctx).TenantCode()
	return s.logger.Info().Str("tenant_code", code)
}

// -- Roles --

func (s *Service) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	name, err := normalizeRole(req.Name)
	if err != nil {
		return nil, err
	}
	role := &Role{Name: name, Description: req.Description}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.logEvent(ctx).Str("role", name).Msg("staff role created")
	return role, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.repo.ListRoles(ctx)
}

// -- Users --

// CreateUser creates the account and its role memberships atomically. Every
// listed role must already exist in the tenant.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username %q is not valid", ErrInvalid, req.Username)
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalid)
	}
	roles := make([]string, 0, len(req.Roles))
	for _, r := range req.Roles {
		name, err := normalizeRole(r)
		if err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}

	u := &User{Username: username, Email: email, FullName: fullName, Active: true}
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateUser(ctx, u); err != nil {
			return err
		}
		for _, name := range roles {
			role, err := s.repo.GetRoleByName(ctx, name)
			if err != nil {
				return fmt.Errorf("role %q: %w", name, err)
			}
			if err := s.repo.AssignRole(ctx, u.ID, role.ID); err != nil {
				return err
			}
		}
		names, err := s.repo.RoleNames(ctx, u.ID)
		u.Roles = names
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx).Str("username", username).Str("user_id", u.ID.String()).Msg("staff user created")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Roles, err = s.repo.RoleNames(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]*User, int, error) {
	items, total, err := s.repo.ListUsers(ctx, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, u := range items {
		if u.Roles, err = s.repo.RoleNames(ctx, u.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Email != nil {
		if u.Email, err = normalizeEmail(*req.Email); err != nil {
			return nil, err
		}
	}
	if req.FullName != nil {
		if u.FullName = strings.TrimSpace(*req.FullName); u.FullName == "" {
			return nil, fmt.Errorf("%w: full_name must not be empty", ErrInvalid)
		}
	}
	if req.Active != nil {
		u.Active = *req.Active
	}
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	if u.Roles, err = s.repo.RoleNames(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

// DeactivateUser disables the account. Accounts are never deleted.
func (s *Service) DeactivateUser(ctx context.Context, id uuid.UUID) (*User, error) {
	inactive := false
	return s.UpdateUser(ctx, id, UpdateUserRequest{Active: &inactive})
}

func (s *Service) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	name, err := normalizeRole(roleName)
	if err != nil {
		return err
	}
	return s.repo.InTx(ctx, func(ctx context.Context) error {
		role, err := s.repo.GetRoleByName(ctx, name)
		if err != nil {
			return err
		}
		return s.repo.AssignRole(ctx, userID, role.ID)
	})
}

func (s *Service) RevokeRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	name, err := normalizeRole(roleName)
	if err != nil {
		return err
	}
	return s.repo.InTx(ctx, func(ctx context.Context) error {
		role, err := s.repo.GetRoleByName(ctx, name)
		if err != nil {
			return err
		}
		return s.repo.RevokeRole(ctx, userID, role.ID)
	})
}

// Count returns the number of active accounts of the bound tenant. It
// satisfies license.Counter for the usage report.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.CountActiveUsers(ctx)
}

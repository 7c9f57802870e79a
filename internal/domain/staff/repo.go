package staff

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists staff of the tenant bound to ctx.
type Repository interface {
	// InTx runs fn in one tenant-bound transaction shared by the calls it makes.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateRole(ctx context.Context, r *Role) error
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]*User, int, error)
	UpdateUser(ctx context.Context, u *User) error
	CountActiveUsers(ctx context.Context) (int, error)

	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error
	// RoleNames returns the names of the user's roles, sorted.
	RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error)
}

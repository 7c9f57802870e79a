package staff

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid reports rejected input.
var ErrInvalid = errors.New("invalid staff record")

// User is a staff account of one tenant. Authentication is handled elsewhere;
// this record only carries identity and role membership.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Active    bool      `db:"is_active" json:"is_active"`
	Roles     []string  `db:"-" json:"roles"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) OwnerTenantID() uuid.UUID  { return u.TenantID }
func (u *User) AssignTenant(id uuid.UUID) { u.TenantID = id }

type Role struct {
	ID          uuid.UUID `db:"id" json:"id"`
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (r *Role) OwnerTenantID() uuid.UUID  { return r.TenantID }
func (r *Role) AssignTenant(id uuid.UUID) { r.TenantID = id }

type CreateUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles,omitempty"`
}

type UpdateUserRequest struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Active   *bool   `json:"is_active,omitempty"`
}

type CreateRoleRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

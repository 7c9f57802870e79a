package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists tenants. Update is optimistic: it only succeeds while
// the stored updated_at still equals expected, and returns db.ErrConflict
// otherwise (db.ErrNotFound if the row is gone).
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByCode(ctx context.Context, code string) (*Tenant, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, t *Tenant, expected time.Time) error
}

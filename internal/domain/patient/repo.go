package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patients of the tenant bound to ctx. Every method
// fails with tenancy.ErrMissingTenantContext when no tenant is bound, and
// rows of other tenants read as db.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByTCKN(ctx context.Context, tckn string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error)
	CountActive(ctx context.Context) (int, error)
}

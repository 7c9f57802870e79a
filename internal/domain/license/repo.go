package license

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists licenses and their features. Module and feature names
// are stored normalized. Update methods are optimistic on updated_at and
// return db.ErrConflict when the row moved on.
type Repository interface {
	// Create inserts the license together with l.Features in one transaction.
	Create(ctx context.Context, l *License) error
	GetByID(ctx context.Context, id uuid.UUID) (*License, error)
	GetByModule(ctx context.Context, tenantID uuid.UUID, module string) (*License, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*License, error)
	Update(ctx context.Context, l *License, expected time.Time) error

	UpsertFeature(ctx context.Context, f *Feature) error
	GetFeature(ctx context.Context, licenseID uuid.UUID, name string) (*Feature, error)
	ListFeatures(ctx context.Context, licenseID uuid.UUID) ([]*Feature, error)
	UpdateFeature(ctx context.Context, f *Feature, expected time.Time) error

	CreateRenewalRequest(ctx context.Context, r *RenewalRequest) error
	ListPendingRenewals(ctx context.Context, limit, offset int) ([]*RenewalRequest, int, error)
	// FulfilRenewals marks every pending request for the license fulfilled.
	FulfilRenewals(ctx context.Context, licenseID uuid.UUID) (int, error)
}

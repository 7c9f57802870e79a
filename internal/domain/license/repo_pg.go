package license

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hbys/hbys/internal/platform/db"
)

type licenseRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &licenseRepoPG{pool: pool}
}

func (r *licenseRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// nextStamp never returns a value equal to expected, so two writes inside the
// same microsecond still advance the version.
func nextStamp(expected time.Time) time.Time {
	next := stamp()
	if !next.After(expected) {
		next = expected.Add(time.Microsecond)
	}
	return next
}

const licenseCols = `id, tenant_id, module, type, status, start_date, expiry_date, max_users, max_records, created_at, updated_at`

func scanLicense(row pgx.Row) (*License, error) {
	var l License
	err := row.Scan(&l.ID, &l.TenantID, &l.Module, &l.Type, &l.Status, &l.StartDate, &l.ExpiryDate,
		&l.MaxUsers, &l.MaxRecords, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &l, nil
}

func (r *licenseRepoPG) Create(ctx context.Context, l *License) error {
	l.ID = uuid.New()
	now := stamp()
	l.CreatedAt, l.UpdatedAt = now, now
	if l.StartDate.IsZero() {
		l.StartDate = now
	}

	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO licenses (`+licenseCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.ID, l.TenantID, l.Module, l.Type, l.Status, l.StartDate, l.ExpiryDate,
			l.MaxUsers, l.MaxRecords, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return db.MapError(err)
		}
		for _, f := range l.Features {
			f.LicenseID, f.TenantID = l.ID, l.TenantID
			if err := r.UpsertFeature(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *licenseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*License, error) {
	return scanLicense(r.conn(ctx).QueryRow(ctx, `SELECT `+licenseCols+` FROM licenses WHERE id = $1`, id))
}

func (r *licenseRepoPG) GetByModule(ctx context.Context, tenantID uuid.UUID, module string) (*License, error) {
	return scanLicense(r.conn(ctx).QueryRow(ctx,
		`SELECT `+licenseCols+` FROM licenses WHERE tenant_id = $1 AND module = $2`, tenantID, module))
}

func (r *licenseRepoPG) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*License, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+licenseCols+` FROM licenses WHERE tenant_id = $1 ORDER BY module`, tenantID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()

	var items []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, db.MapError(rows.Err())
}

func (r *licenseRepoPG) Update(ctx context.Context, l *License, expected time.Time) error {
	next := nextStamp(expected)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE licenses SET
			type = $3, status = $4, start_date = $5, expiry_date = $6,
			max_users = $7, max_records = $8, updated_at = $9
		WHERE id = $1 AND updated_at = $2`,
		l.ID, expected, l.Type, l.Status, l.StartDate, l.ExpiryDate, l.MaxUsers, l.MaxRecords, next,
	)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrMoved(ctx, `SELECT EXISTS (SELECT 1 FROM licenses WHERE id = $1)`, l.ID)
	}
	l.UpdatedAt = next
	return nil
}

func (r *licenseRepoPG) missingOrMoved(ctx context.Context, query string, id uuid.UUID) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return db.MapError(err)
	}
	if exists {
		return db.ErrConflict
	}
	return db.ErrNotFound
}

const featureCols = `id, license_id, tenant_id, name, description, enabled, usage_limit, created_at, updated_at`

func scanFeature(row pgx.Row) (*Feature, error) {
	var f Feature
	err := row.Scan(&f.ID, &f.LicenseID, &f.TenantID, &f.Name, &f.Description, &f.Enabled, &f.Limit,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &f, nil
}

// UpsertFeature inserts the feature or replaces the stored row with the same
// (license, name). f is refreshed from the stored row.
func (r *licenseRepoPG) UpsertFeature(ctx context.Context, f *Feature) error {
	now := stamp()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO license_features (`+featureCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (license_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			usage_limit = EXCLUDED.usage_limit,
			updated_at = GREATEST(EXCLUDED.updated_at, license_features.updated_at + INTERVAL '1 microsecond')
		RETURNING `+featureCols,
		uuid.New(), f.LicenseID, f.TenantID, f.Name, f.Description, f.Enabled, f.Limit, now,
	)
	stored, err := scanFeature(row)
	if err != nil {
		return err
	}
	*f = *stored
	return nil
}

func (r *licenseRepoPG) GetFeature(ctx context.Context, licenseID uuid.UUID, name string) (*Feature, error) {
	return scanFeature(r.conn(ctx).QueryRow(ctx,
		`SELECT `+featureCols+` FROM license_features WHERE license_id = $1 AND name = $2`, licenseID, name))
}

func (r *licenseRepoPG) ListFeatures(ctx context.Context, licenseID uuid.UUID) ([]*Feature, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+featureCols+` FROM license_features WHERE license_id = $1 ORDER BY name`, licenseID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()

	var items []*Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, db.MapError(rows.Err())
}

func (r *licenseRepoPG) UpdateFeature(ctx context.Context, f *Feature, expected time.Time) error {
	next := nextStamp(expected)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE license_features SET description = $3, enabled = $4, usage_limit = $5, updated_at = $6
		WHERE id = $1 AND updated_at = $2`,
		f.ID, expected, f.Description, f.Enabled, f.Limit, next,
	)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrMoved(ctx, `SELECT EXISTS (SELECT 1 FROM license_features WHERE id = $1)`, f.ID)
	}
	f.UpdatedAt = next
	return nil
}

func (r *licenseRepoPG) CreateRenewalRequest(ctx context.Context, req *RenewalRequest) error {
	req.ID = uuid.New()
	req.CreatedAt = stamp()
	if req.Status == "" {
		req.Status = "pending"
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO license_renewal_requests (id, tenant_id, license_id, requested_by, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.TenantID, req.LicenseID, req.RequestedBy, req.Note, req.Status, req.CreatedAt,
	)
	return db.MapError(err)
}

func (r *licenseRepoPG) ListPendingRenewals(ctx context.Context, limit, offset int) ([]*RenewalRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM license_renewal_requests WHERE status = 'pending'`).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, tenant_id, license_id, requested_by, note, status, created_at
		FROM license_renewal_requests WHERE status = 'pending'
		ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()

	var items []*RenewalRequest
	for rows.Next() {
		var req RenewalRequest
		if err := rows.Scan(&req.ID, &req.TenantID, &req.LicenseID, &req.RequestedBy, &req.Note,
			&req.Status, &req.CreatedAt); err != nil {
			return nil, 0, db.MapError(err)
		}
		items = append(items, &req)
	}
	return items, total, db.MapError(rows.Err())
}

func (r *licenseRepoPG) FulfilRenewals(ctx context.Context, licenseID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE license_renewal_requests SET status = 'fulfilled' WHERE license_id = $1 AND status = 'pending'`,
		licenseID)
	if err != nil {
		return 0, db.MapError(err)
	}
	return int(tag.RowsAffected()), nil
}

package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hbys/hbys/internal/platform/db"
)

type tenantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &tenantRepoPG{pool: pool}
}

func (r *tenantRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const tenantCols = `id, code, name, display_name, type, is_active, expires_at, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.DisplayName, &t.Type, &t.Active, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &t, nil
}

func (r *tenantRepoPG) Create(ctx context.Context, t *Tenant) error {
	t.ID = uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tenants (`+tenantCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Code, t.Name, t.DisplayName, t.Type, t.Active, t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	return db.MapError(err)
}

func (r *tenantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return scanTenant(r.conn(ctx).QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE id = $1`, id))
}

func (r *tenantRepoPG) GetByCode(ctx context.Context, code string) (*Tenant, error) {
	return scanTenant(r.conn(ctx).QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE code = $1`, code))
}

func (r *tenantRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error) {
	where := db.NewFilter()
	if f.Active != nil {
		where.And("is_active = ?", *f.Active)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where.And("(code ILIKE ? OR name ILIKE ? OR display_name ILIKE ?)", like, like, like)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tenants WHERE `+where.SQL(), where.Args()...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}

	limitArg, offsetArg := where.Arg(limit), where.Arg(offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+tenantCols+` FROM tenants WHERE `+where.SQL()+` ORDER BY code LIMIT `+limitArg+` OFFSET `+offsetArg,
		where.Args()...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()

	var items []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, db.MapError(rows.Err())
}

func (r *tenantRepoPG) Update(ctx context.Context, t *Tenant, expected time.Time) error {
	next := time.Now().UTC().Truncate(time.Microsecond)
	if !next.After(expected) {
		next = expected.Add(time.Microsecond)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tenants SET
			name = $3, display_name = $4, type = $5, is_active = $6, expires_at = $7, updated_at = $8
		WHERE id = $1 AND updated_at = $2`,
		t.ID, expected, t.Name, t.DisplayName, t.Type, t.Active, t.ExpiresAt, next,
	)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return db.MapError(err)
		}
		if exists {
			return db.ErrConflict
		}
		return db.ErrNotFound
	}
	t.UpdatedAt = next
	return nil
}

package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hbys/hbys/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, tenant_id, tckn, given_name, family_name, birth_date, gender, phone, email,
	address, city, blood_type, is_active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.TCKN, &p.GivenName, &p.FamilyName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.City, &p.BloodType, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	return db.Scoped(ctx, r.pool, func(ctx context.Context, q db.Querier, s db.Scope) error {
		if err := s.Stamp(p); err != nil {
			return err
		}
		p.ID = uuid.New()
		now := time.Now().UTC().Truncate(time.Microsecond)
		p.CreatedAt, p.UpdatedAt = now, now

		_, err := q.Exec(ctx, `
			INSERT INTO patients (`+patientCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			p.ID, p.TenantID, p.TCKN, p.GivenName, p.FamilyName, p.BirthDate, p.Gender, p.Phone, p.Email,
			p.Address, p.City, p.BloodType, p.Active, p.CreatedAt, p.UpdatedAt,
		)
		return db.MapError(err)
	})
}

func (r *patientRepoPG) getOne(ctx context.Context, column string, value any) (*Patient, error) {
	var p *Patient
	err := db.Scoped(ctx, r.pool, func(ctx context.Context, q db.Querier, s db.Scope) error {
		where := s.Filter().And(column+" = ?", value)
		var err error
		p, err = scanPatient(q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where.SQL(), where.Args()...))
		return err
	})
	return p, err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, "id", id)
}

func (r *patientRepoPG) GetByTCKN(ctx context.Context, tckn string) (*Patient, error) {
	return r.getOne(ctx, "tckn", tckn)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return db.Scoped(ctx, r.pool, func(ctx context.Context, q db.Querier, s db.Scope) error {
		if err := s.Owns(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		tag, err := q.Exec(ctx, `
			UPDATE patients SET
				given_name = $3, family_name = $4, phone = $5, email = $6, address = $7,
				city = $8, blood_type = $9, is_active = $10, updated_at = $11
			WHERE id = $1 AND tenant_id = $2`,
			p.ID, s.TenantID(), p.GivenName, p.FamilyName, p.Phone, p.Email, p.Address,
			p.City, p.BloodType, p.Active, p.UpdatedAt,
		)
		if err != nil {
			return db.MapError(err)
		}
		return db.RowsAffected(tag)
	})
}

func (r *patientRepoPG) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Patient, int, error) {
	var (
		items []*Patient
		total int
	)
	err := db.Scoped(ctx, r.pool, func(ctx context.Context, q db.Querier, s db.Scope) error {
		where := s.Filter()
		if f.TCKN != "" {
			where.And("tckn = ?", f.TCKN)
		}
		if f.Name != "" {
			like := "%" + f.Name + "%"
			where.And("(given_name ILIKE ? OR family_name ILIKE ? OR given_name || ' ' || family_name ILIKE ?)", like, like, like)
		}
		if f.Active != nil {
			where.And("is_active = ?", *f.Active)
		}

		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where.SQL(), where.Args()...).Scan(&total); err != nil {
			return db.MapError(err)
		}

		limitArg, offsetArg := where.Arg(limit), where.Arg(offset)
		rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where.SQL()+
			` ORDER BY family_name, given_name, id LIMIT `+limitArg+` OFFSET `+offsetArg, where.Args()...)
		if err != nil {
			return db.MapError(err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPatient(rows)
			if err != nil {
				return err
			}
			items = append(items, p)
		}
		return db.MapError(rows.Err())
	})
	return items, total, err
}

func (r *patientRepoPG) CountActive(ctx context.Context) (int, error) {
	var n int
	err := db.Scoped(ctx, r.pool, func(ctx context.Context, q db.Querier, s db.Scope) error {
		where := s.Filter().And("is_active = ?", true)
		return db.MapError(q.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where.SQL(), where.Args()...).Scan(&n))
	})
	return n, err
}

package staff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hbys/hbys/internal/platform/db"
)

type staffRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &staffRepoPG{pool: pool}
}

func (r *staffRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// tx runs fn in a tenant-bound transaction. Inside fn, conn resolves to it.
func (r *staffRepoPG) tx(ctx context.Context, fn func(ctx context.Context, s db.Scope) error) error {
	return db.TenantTx(ctx, r.pool, func(ctx context.Context) error {
		s, err := db.ScopeFromContext(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

func (r *staffRepoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.TenantTx(ctx, r.pool, fn)
}

// -- Roles --

func (r *staffRepoPG) CreateRole(ctx context.Context, role *Role) error {
	return r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		if err := s.Stamp(role); err != nil {
			return err
		}
		role.ID = uuid.New()
		role.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO staff_roles (id, tenant_id, name, description, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			role.ID, role.TenantID, role.Name, role.Description, role.CreatedAt)
		return db.MapError(err)
	})
}

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
		return nil, db.MapError(err)
	}
	return &role, nil
}

func (r *staffRepoPG) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role *Role
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		where := s.Filter().And("name = ?", name)
		var err error
		role, err = scanRole(r.conn(ctx).QueryRow(ctx,
			`SELECT id, tenant_id, name, description, created_at FROM staff_roles WHERE `+where.SQL(), where.Args()...))
		return err
	})
	return role, err
}

func (r *staffRepoPG) ListRoles(ctx context.Context) ([]*Role, error) {
	var items []*Role
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		where := s.Filter()
		rows, err := r.conn(ctx).Query(ctx,
			`SELECT id, tenant_id, name, description, created_at FROM staff_roles WHERE `+where.SQL()+` ORDER BY name`,
			where.Args()...)
		if err != nil {
			return db.MapError(err)
		}
		defer rows.Close()
		for rows.Next() {
			role, err := scanRole(rows)
			if err != nil {
				return err
			}
			items = append(items, role)
		}
		return db.MapError(rows.Err())
	})
	return items, err
}

// -- Users --

const userCols = `id, tenant_id, username, email, full_name, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.Email, &u.FullName, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	return &u, nil
}

func (r *staffRepoPG) CreateUser(ctx context.Context, u *User) error {
	return r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		if err := s.Stamp(u); err != nil {
			return err
		}
		u.ID = uuid.New()
		now := time.Now().UTC().Truncate(time.Microsecond)
		u.CreatedAt, u.UpdatedAt = now, now
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO staff_users (`+userCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.TenantID, u.Username, u.Email, u.FullName, u.Active, u.CreatedAt, u.UpdatedAt)
		return db.MapError(err)
	})
}

func (r *staffRepoPG) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u *User
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		where := s.Filter().And("id = ?", id)
		var err error
		u, err = scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM staff_users WHERE `+where.SQL(), where.Args()...))
		return err
	})
	return u, err
}

func (r *staffRepoPG) ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]*User, int, error) {
	var (
		items []*User
		total int
	)
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		where := s.Filter()
		if activeOnly {
			where.And("is_active = ?", true)
		}
		if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_users WHERE `+where.SQL(), where.Args()...).Scan(&total); err != nil {
			return db.MapError(err)
		}
		limitArg, offsetArg := where.Arg(limit), where.Arg(offset)
		rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM staff_users WHERE `+where.SQL()+
			` ORDER BY username LIMIT `+limitArg+` OFFSET `+offsetArg, where.Args()...)
		if err != nil {
			return db.MapError(err)
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			items = append(items, u)
		}
		return db.MapError(rows.Err())
	})
	return items, total, err
}

func (r *staffRepoPG) UpdateUser(ctx context.Context, u *User) error {
	return r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		if err := s.Owns(u); err != nil {
			return err
		}
		u.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE staff_users SET email = $3, full_name = $4, is_active = $5, updated_at = $6
			WHERE id = $1 AND tenant_id = $2`,
			u.ID, s.TenantID(), u.Email, u.FullName, u.Active, u.UpdatedAt)
		if err != nil {
			return db.MapError(err)
		}
		return db.RowsAffected(tag)
	})
}

func (r *staffRepoPG) CountActiveUsers(ctx context.Context) (int, error) {
	var n int
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		where := s.Filter().And("is_active = ?", true)
		return db.MapError(r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_users WHERE `+where.SQL(), where.Args()...).Scan(&n))
	})
	return n, err
}

// -- Membership --

// AssignRole links user and role. Both must belong to the bound tenant;
// assigning an existing membership is a no-op.
func (r *staffRepoPG) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO staff_user_roles (tenant_id, user_id, role_id)
			SELECT $1, u.id, ro.id
			FROM staff_users u, staff_roles ro
			WHERE u.id = $2 AND u.tenant_id = $1 AND ro.id = $3 AND ro.tenant_id = $1
			ON CONFLICT (user_id, role_id) DO NOTHING`,
			s.TenantID(), userID, roleID)
		if err != nil {
			return db.MapError(err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		var linked bool
		err = r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM staff_user_roles WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3)`,
			s.TenantID(), userID, roleID).Scan(&linked)
		if err != nil {
			return db.MapError(err)
		}
		if !linked {
			return db.ErrNotFound
		}
		return nil
	})
}

func (r *staffRepoPG) RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		tag, err := r.conn(ctx).Exec(ctx,
			`DELETE FROM staff_user_roles WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3`,
			s.TenantID(), userID, roleID)
		if err != nil {
			return db.MapError(err)
		}
		return db.RowsAffected(tag)
	})
}

func (r *staffRepoPG) RoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	names := []string{}
	err := r.tx(ctx, func(ctx context.Context, s db.Scope) error {
		rows, err := r.conn(ctx).Query(ctx, `
			SELECT ro.name FROM staff_user_roles ur
			JOIN staff_roles ro ON ro.id = ur.role_id
			WHERE ur.tenant_id = $1 AND ur.user_id = $2
			ORDER BY ro.name`, s.TenantID(), userID)
		if err != nil {
			return db.MapError(err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return db.MapError(err)
			}
			names = append(names, name)
		}
		return db.MapError(rows.Err())
	})
	return names, err
}

package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TenantSetting is the session variable read by the row-level security
// policies on tenant-owned tables.
const TenantSetting = "app.tenant_id"

// TenantTx runs fn in a transaction bound to the tenant in ctx. The
// transaction carries TenantSetting so row-level security only exposes the
// tenant's rows. An enclosing transaction is reused; it is bound on first use
// and refused if it was already bound to another tenant.
func TenantTx(ctx context.Context, pool Beginner, fn func(ctx context.Context) error) error {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return err
	}

	if st := txStateFromContext(ctx); st != nil {
		switch st.tenant {
		case scope.TenantID():
			return fn(ctx)
		case uuid.Nil:
			if err := bindTenant(ctx, st.tx, scope); err != nil {
				return err
			}
			return fn(withTenantTx(ctx, st.tx, scope.TenantID()))
		default:
			return ErrTenantMismatch
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return MapError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := bindTenant(ctx, tx, scope); err != nil {
		return err
	}
	if err := fn(withTenantTx(ctx, tx, scope.TenantID())); err != nil {
		return err
	}
	return MapError(tx.Commit(ctx))
}

// Scoped is TenantTx with the transaction and scope handed to fn directly.
func Scoped(ctx context.Context, pool Beginner, fn func(ctx context.Context, q Querier, s Scope) error) error {
	return TenantTx(ctx, pool, func(ctx context.Context) error {
		scope, _ := ScopeFromContext(ctx)
		return fn(ctx, TxFromContext(ctx), scope)
	})
}

func bindTenant(ctx context.Context, tx pgx.Tx, scope Scope) error {
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", TenantSetting, scope.TenantID().String()); err != nil {
		return fmt.Errorf("bind tenant to transaction: %w", MapError(err))
	}
	return nil
}

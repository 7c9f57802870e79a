package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), ErrNotFound},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "tenants_code_key"}, ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, ErrNotFound},
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, ErrConflict},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, ErrConflict},
		{"rls check", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}, ErrTenantMismatch},
		{"connection", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Same(t, plain, MapError(plain))
	assert.Equal(t, plain, MapError(plain))
}

func TestRowsAffected(t *testing.T) {
	assert.ErrorIs(t, RowsAffected(pgconn.NewCommandTag("UPDATE 0")), ErrNotFound)
	assert.NoError(t, RowsAffected(pgconn.NewCommandTag("DELETE 1")))
}

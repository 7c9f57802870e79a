package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound covers both missing rows and rows owned by another tenant.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a concurrent modification. Callers may retry.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("already exists")
	// ErrTenantMismatch reports a write that would cross a tenant boundary.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrUnavailable reports a lost or refused database connection.
	ErrUnavailable = errors.New("database unavailable")
)

// MapError translates pgx and PostgreSQL errors into the package sentinels.
// Errors it does not recognise are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Detail)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case pgerrcode.InsufficientPrivilege:
		// Raised by a row-level security WITH CHECK failure.
		return fmt.Errorf("%w: %s", ErrTenantMismatch, pgErr.Message)
	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// RowsAffected returns ErrNotFound when tag reports zero rows.
func RowsAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/tenancy"
)

type ownedRow struct {
	TenantID uuid.UUID
}

func (r *ownedRow) OwnerTenantID() uuid.UUID  { return r.TenantID }
func (r *ownedRow) AssignTenant(id uuid.UUID) { r.TenantID = id }

func TestScopeFromContext_RequiresTenant(t *testing.T) {
	_, err := ScopeFromContext(context.Background())
	assert.ErrorIs(t, err, tenancy.ErrMissingTenantContext)

	id := uuid.New()
	ctx, err := tenancy.WithIdentity(context.Background(), tenancy.Identity{ID: id, Code: "DEMO"})
	require.NoError(t, err)

	s, err := ScopeFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, s.TenantID())
}

func TestScope_Stamp(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := NewScope(a)

	row := &ownedRow{}
	require.NoError(t, s.Stamp(row))
	assert.Equal(t, a, row.TenantID)

	// Re-stamping with the same tenant is harmless.
	require.NoError(t, s.Stamp(row))

	foreign := &ownedRow{TenantID: b}
	assert.ErrorIs(t, s.Stamp(foreign), ErrTenantMismatch)
	assert.Equal(t, b, foreign.TenantID)
}

func TestScope_Owns(t *testing.T) {
	a := uuid.New()
	s := NewScope(a)

	assert.NoError(t, s.Owns(&ownedRow{TenantID: a}))
	assert.ErrorIs(t, s.Owns(&ownedRow{TenantID: uuid.New()}), ErrNotFound)
	assert.ErrorIs(t, s.Owns(nil), ErrNotFound)
}

func TestFilter(t *testing.T) {
	id := uuid.New()
	f := NewScope(id).Filter().
		And("tckn = ?", "10000000146").
		And("(given_name ILIKE ? OR family_name ILIKE ?)", "%ay%", "%ay%")

	assert.Equal(t, "tenant_id = $1 AND tckn = $2 AND (given_name ILIKE $3 OR family_name ILIKE $4)", f.SQL())
	assert.Equal(t, []any{id, "10000000146", "%ay%", "%ay%"}, f.Args())

	assert.Equal(t, "$5", f.Arg(20))
	assert.Len(t, f.Args(), 5)
}

func TestFilter_Empty(t *testing.T) {
	assert.Equal(t, "TRUE", NewFilter().SQL())
	assert.Empty(t, NewFilter().Args())
}

func TestFilter_PlaceholderMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { NewFilter().And("a = ? AND b = ?", 1) })
}

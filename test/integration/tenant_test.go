//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/domain/tenant"
	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/tenancy"
)

func TestTenantRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := tenant.NewRepo(globalDB.Pool)

	tn := &tenant.Tenant{Code: uniqueCode("CRUD"), Name: "Merkez", Type: tenant.TypeSaaS, Active: true}
	require.NoError(t, repo.Create(ctx, tn))

	t.Run("GetByCode", func(t *testing.T) {
		got, err := repo.GetByCode(ctx, tn.Code)
		require.NoError(t, err)
		assert.Equal(t, tn.ID, got.ID)
		assert.True(t, got.Active)
	})

	t.Run("duplicate code", func(t *testing.T) {
		err := repo.Create(ctx, &tenant.Tenant{Code: tn.Code, Name: "Kopya", Type: tenant.TypeSaaS})
		assert.ErrorIs(t, err, db.ErrDuplicate)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := repo.GetByCode(ctx, "NOPE_"+tn.Code)
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("optimistic update", func(t *testing.T) {
		stale := tn.UpdatedAt
		tn.Name = "Merkez Hastanesi"
		require.NoError(t, repo.Update(ctx, tn, stale))
		assert.True(t, tn.UpdatedAt.After(stale))

		tn.Name = "Eski"
		assert.ErrorIs(t, repo.Update(ctx, tn, stale), db.ErrConflict)
	})
}

func TestTenantService_DeactivateInvalidatesDirectory(t *testing.T) {
	ctx := context.Background()
	svc := tenant.NewService(tenant.NewRepo(globalDB.Pool), zerolog.Nop())

	var loads atomic.Int32
	source := tenancy.DirectoryFunc(func(ctx context.Context, code string) (*tenancy.Entry, error) {
		loads.Add(1)
		return svc.LookupByCode(ctx, code)
	})
	dir := tenancy.NewCachedDirectory(source, tenancy.NewMemoryCache(16), time.Minute, zerolog.Nop())
	svc.SetInvalidator(dir)

	tn, err := svc.Create(ctx, tenant.CreateRequest{Code: uniqueCode("DIR"), Name: "Directory"})
	require.NoError(t, err)

	e, err := dir.LookupByCode(ctx, tn.Code)
	require.NoError(t, err)
	assert.True(t, e.Active)
	_, err = dir.LookupByCode(ctx, tn.Code)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load(), "second lookup should be served from cache")

	_, err = svc.Deactivate(ctx, tn.ID)
	require.NoError(t, err)

	e, err = dir.LookupByCode(ctx, tn.Code)
	require.NoError(t, err)
	assert.False(t, e.Active)
	assert.Equal(t, int32(2), loads.Load())

	_, err = dir.LookupByCode(ctx, "UNKNOWN_"+tn.Code)
	assert.True(t, errors.Is(err, tenancy.ErrUnknownTenant))
}

func TestResolver_AgainstDatabase(t *testing.T) {
	ctx := context.Background()
	svc := tenant.NewService(tenant.NewRepo(globalDB.Pool), zerolog.Nop())
	tn := createTenant(t, ctx, "RES")

	dir := tenancy.NewCachedDirectory(svc, tenancy.NewMemoryCache(16), time.Minute, zerolog.Nop())
	resolver := tenancy.NewResolver(dir, tenancy.HeaderCode{Header: tenancy.DefaultHeader})

	res := resolver.Resolve(ctx, headerRequest(tn.Code))
	require.Equal(t, tenancy.OutcomeBound, res.Outcome)
	assert.Equal(t, tn.ID, res.Entry.ID)
	assert.Equal(t, "header", res.Source)

	_, err := svc.Deactivate(ctx, tn.ID)
	require.NoError(t, err)
	dir.Invalidate(ctx, tn.Code)

	res = resolver.Resolve(ctx, headerRequest(strings.ToLower(tn.Code)))
	assert.Equal(t, tenancy.OutcomeInactive, res.Outcome)
	assert.ErrorIs(t, res.Err, tenancy.ErrInactiveTenant)
}

func headerRequest(code string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.Header.Set(tenancy.DefaultHeader, code)
	return req
}

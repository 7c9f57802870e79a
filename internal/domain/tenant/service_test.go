package tenant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/tenancy"
)

// -- Mock Repository --

type mockRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*Tenant
}

func newMockRepo() *mockRepo {
	return &mockRepo{tenants: make(map[uuid.UUID]*Tenant)}
}

func clone(t *Tenant) *Tenant {
	c := *t
	return &c
}

func (m *mockRepo) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Code == t.Code {
			return db.ErrDuplicate
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tenants[t.ID] = clone(t)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(t), nil
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Code == code {
			return clone(t), nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Tenant, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Tenant
	for _, t := range m.tenants {
		if f.Active != nil && t.Active != *f.Active {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Code+" "+t.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, clone(t))
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) Update(_ context.Context, t *Tenant, expected time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tenants[t.ID]
	if !ok {
		return db.ErrNotFound
	}
	if !cur.UpdatedAt.Equal(expected) {
		return db.ErrConflict
	}
	t.UpdatedAt = expected.Add(time.Millisecond)
	m.tenants[t.ID] = clone(t)
	return nil
}

type recordingInvalidator struct {
	codes []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, code string) {
	r.codes = append(r.codes, code)
}

func newTestService() (*Service, *mockRepo, *recordingInvalidator) {
	repo := newMockRepo()
	inv := &recordingInvalidator{}
	svc := NewService(repo, zerolog.Nop())
	svc.SetInvalidator(inv)
	return svc, repo, inv
}

func TestService_Create(t *testing.T) {
	svc, _, inv := newTestService()

	tn, err := svc.Create(context.Background(), CreateRequest{Code: " demo ", Name: "Demo Hastanesi"})
	require.NoError(t, err)
	assert.Equal(t, "DEMO", tn.Code)
	assert.Equal(t, TypeSaaS, tn.Type)
	assert.True(t, tn.Active)
	assert.NotEqual(t, uuid.Nil, tn.ID)
	assert.Equal(t, []string{"DEMO"}, inv.codes)
}

func TestService_Create_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, err := svc.Create(ctx, CreateRequest{Code: "bad code", Name: "x"})
	assert.ErrorIs(t, err, tenancy.ErrInvalidCode)

	_, err = svc.Create(ctx, CreateRequest{Code: "OK", Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(ctx, CreateRequest{Code: "OK", Name: "x", Type: "cloud"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(ctx, CreateRequest{Code: "OK", Name: "x", ExpiresAt: &past})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_Create_DuplicateCode(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Code: "ACME", Name: "Acme"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Code: "acme", Name: "Acme 2"})
	assert.ErrorIs(t, err, db.ErrDuplicate)
}

func TestService_DeactivateActivate(t *testing.T) {
	svc, _, inv := newTestService()
	ctx := context.Background()
	tn, _ := svc.Create(ctx, CreateRequest{Code: "ACME", Name: "Acme"})

	off, err := svc.Deactivate(ctx, tn.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)

	e, err := svc.LookupByCode(ctx, "ACME")
	require.NoError(t, err)
	assert.False(t, e.Usable(time.Now()))

	on, err := svc.Activate(ctx, tn.ID)
	require.NoError(t, err)
	assert.True(t, on.Active)
	assert.Equal(t, []string{"ACME", "ACME", "ACME"}, inv.codes)
}

func TestService_UpdateInfo_KeepsCode(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	tn, _ := svc.Create(ctx, CreateRequest{Code: "ACME", Name: "Acme"})

	name, display, typ := "Acme Tıp Merkezi", "ACME TM", TypeGroup
	got, err := svc.UpdateInfo(ctx, tn.ID, UpdateInfoRequest{Name: &name, DisplayName: &display, Type: &typ})
	require.NoError(t, err)
	assert.Equal(t, "ACME", got.Code)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, TypeGroup, got.Type)

	empty := " "
	_, err = svc.UpdateInfo(ctx, tn.ID, UpdateInfoRequest{Name: &empty})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.UpdateInfo(ctx, uuid.New(), UpdateInfoRequest{Name: &name})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestService_ExtendExpiry(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	tn, _ := svc.Create(ctx, CreateRequest{Code: "ACME", Name: "Acme"})

	_, err := svc.ExtendExpiry(ctx, tn.ID, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalid)

	target := time.Now().Add(365 * 24 * time.Hour)
	got, err := svc.ExtendExpiry(ctx, tn.ID, target)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, target.Equal(*got.ExpiresAt))
	assert.True(t, got.IsUsable(time.Now()))
}

func TestService_ExpiredTenantIsNotUsable(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	tn, _ := svc.Create(ctx, CreateRequest{Code: "OLD", Name: "Old"})

	past := time.Now().Add(-time.Hour)
	repo.tenants[tn.ID].ExpiresAt = &past

	e, err := svc.LookupByCode(ctx, "OLD")
	require.NoError(t, err)
	assert.False(t, e.Usable(time.Now()))
}

func TestService_LookupUnknown(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.LookupByCode(context.Background(), "GHOST")
	assert.ErrorIs(t, err, tenancy.ErrUnknownTenant)
}

func TestService_ConcurrentMutationConflicts(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()
	tn, _ := svc.Create(ctx, CreateRequest{Code: "RACE", Name: "Race"})

	// A writer that read the row before another writer committed loses.
	stale, _ := repo.GetByID(ctx, tn.ID)
	_, err := svc.Deactivate(ctx, tn.ID)
	require.NoError(t, err)

	stale.Name = "stale"
	err = repo.Update(ctx, stale, stale.UpdatedAt)
	assert.ErrorIs(t, err, db.ErrConflict)
}

func TestService_CachedDirectorySeesChanges(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	dir := tenancy.NewCachedDirectory(svc, tenancy.NewMemoryCache(16), time.Hour, zerolog.Nop())
	svc.SetInvalidator(dir)
	ctx := context.Background()

	_, err := dir.LookupByCode(ctx, "NEW")
	assert.ErrorIs(t, err, tenancy.ErrUnknownTenant)

	tn, err := svc.Create(ctx, CreateRequest{Code: "NEW", Name: "New"})
	require.NoError(t, err)

	e, err := dir.LookupByCode(ctx, "NEW")
	require.NoError(t, err)
	assert.True(t, e.Usable(time.Now()))

	_, err = svc.Deactivate(ctx, tn.ID)
	require.NoError(t, err)

	e, err = dir.LookupByCode(ctx, "NEW")
	require.NoError(t, err)
	assert.False(t, e.Usable(time.Now()), "deactivation visible despite long ttl")
}

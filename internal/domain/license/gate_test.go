package license

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/tenancy"
)

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingObserver) ObserveGateDecision(module, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, module+":"+reason)
}

func newTestGate(repo Lookup, obs ...DecisionObserver) *Gate {
	g := NewGate(repo, zerolog.Nop(), obs...)
	g.now = func() time.Time { return testNow }
	return g
}

func TestGate_Evaluate(t *testing.T) {
	svc, repo := newTestService()
	obs := &recordingObserver{}
	gate := newTestGate(repo, obs)
	acme := uuid.New()
	l := createBilling(t, svc, acme)
	ctx := context.Background()

	tests := []struct {
		name    string
		tenant  uuid.UUID
		module  string
		feature string
		reason  Reason
	}{
		{"enabled", acme, "Billing", "EInvoice", ReasonEnabled},
		{"case insensitive", acme, "BILLING", "einvoice", ReasonEnabled},
		{"disabled feature", acme, "billing", "reports", ReasonFeatureDisabled},
		{"missing feature", acme, "billing", "export", ReasonFeatureMissing},
		{"no license for module", acme, "pharmacy", "einvoice", ReasonNoLicense},
		{"other tenant", uuid.New(), "billing", "einvoice", ReasonNoLicense},
		{"blank module", acme, " ", "einvoice", ReasonNoLicense},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := gate.Evaluate(ctx, tt.tenant, tt.module, tt.feature)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason == ReasonEnabled, d.Enabled)
			assert.Equal(t, tt.reason == ReasonEnabled, gate.IsFeatureEnabled(ctx, tt.tenant, tt.module, tt.feature))
		})
	}

	d, err := gate.Evaluate(ctx, acme, "billing", "einvoice")
	require.NoError(t, err)
	require.NotNil(t, d.Limit)
	assert.Equal(t, 1000, *d.Limit)
	assert.Equal(t, l.Module, d.Module)
	assert.Contains(t, obs.reasons, "billing:enabled")
}

func TestGate_ObserverLabelsUnlicensedModulesAsOther(t *testing.T) {
	svc, repo := newTestService()
	obs := &recordingObserver{}
	gate := newTestGate(repo, obs)
	acme := uuid.New()
	createBilling(t, svc, acme)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := gate.Evaluate(ctx, acme, uuid.NewString(), "einvoice")
		require.NoError(t, err)
	}
	_, err := gate.Evaluate(ctx, acme, "billing", " ")
	require.NoError(t, err)
	_, err = gate.Evaluate(ctx, acme, "Billing", "export")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, r := range obs.reasons {
		counts[r]++
	}
	assert.Equal(t, map[string]int{
		UnlicensedModule + ":no_license":      50,
		UnlicensedModule + ":feature_missing": 1,
		"billing:feature_missing":             1,
	}, counts)
}

func TestGate_CancelledLicenseDisablesEnabledFeature(t *testing.T) {
	svc, repo := newTestService()
	gate := newTestGate(repo)
	acme := uuid.New()
	l := createBilling(t, svc, acme)
	ctx := context.Background()

	require.True(t, gate.IsFeatureEnabled(ctx, acme, "Billing", "EInvoice"))

	_, err := svc.Cancel(ctx, l.ID)
	require.NoError(t, err)

	f, err := repo.GetFeature(ctx, l.ID, "einvoice")
	require.NoError(t, err)
	assert.True(t, f.Enabled, "cancelling leaves feature rows untouched")

	d, err := gate.Evaluate(ctx, acme, "Billing", "EInvoice")
	require.NoError(t, err)
	assert.False(t, d.Enabled)
	assert.Equal(t, ReasonLicenseInactive, d.Reason)

	target := testNow.AddDate(1, 0, 0)
	_, err = svc.Renew(ctx, l.ID, &target)
	require.NoError(t, err)
	assert.True(t, gate.IsFeatureEnabled(ctx, acme, "Billing", "EInvoice"))
}

func TestGate_ExpiredLicense(t *testing.T) {
	svc, repo := newTestService()
	gate := newTestGate(repo)
	acme := uuid.New()
	_, err := svc.Create(context.Background(), CreateRequest{
		TenantID:   acme,
		Module:     "lab",
		ExpiryDate: ptrTime(testNow.Add(time.Hour)),
		Features:   []FeatureRequest{{Name: "results", Enabled: true}},
	})
	require.NoError(t, err)

	assert.True(t, gate.IsFeatureEnabled(context.Background(), acme, "lab", "results"))

	gate.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	d, err := gate.Evaluate(context.Background(), acme, "lab", "results")
	require.NoError(t, err)
	assert.Equal(t, ReasonLicenseInactive, d.Reason)
}

type failingLookup struct{}

func (failingLookup) GetByModule(context.Context, uuid.UUID, string) (*License, error) {
	return nil, errors.New("connection refused")
}

func (failingLookup) GetFeature(context.Context, uuid.UUID, string) (*Feature, error) {
	return nil, errors.New("connection refused")
}

func TestGate_LookupFailureReadsAsDisabled(t *testing.T) {
	gate := newTestGate(failingLookup{})
	_, err := gate.Evaluate(context.Background(), uuid.New(), "billing", "einvoice")
	assert.Error(t, err)
	assert.False(t, gate.IsFeatureEnabled(context.Background(), uuid.New(), "billing", "einvoice"))
}

func TestRequireFeature(t *testing.T) {
	svc, repo := newTestService()
	gate := newTestGate(repo)
	acme := uuid.New()
	l := createBilling(t, svc, acme)

	e := echo.New()
	handler := RequireFeature(gate, "billing", "einvoice")(func(c echo.Context) error {
		return c.String(http.StatusOK, "invoiced")
	})

	run := func(ctx context.Context) (int, error) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		err := handler(e.NewContext(req, rec))
		return rec.Code, err
	}

	code, err := run(tenantCtx(t, acme, "ACME"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	_, err = svc.Cancel(context.Background(), l.ID)
	require.NoError(t, err)
	_, err = run(tenantCtx(t, acme, "ACME"))
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	_, err = run(context.Background())
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	failing := RequireFeature(newTestGate(failingLookup{}), "billing", "einvoice")(func(c echo.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tenantCtx(t, acme, "ACME"))
	err = failing(e.NewContext(req, httptest.NewRecorder()))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(t, err))
}

func TestGate_EvaluateCurrentRequiresTenant(t *testing.T) {
	_, repo := newTestService()
	_, err := newTestGate(repo).EvaluateCurrent(context.Background(), "billing", "einvoice")
	assert.ErrorIs(t, err, tenancy.ErrMissingTenantContext)
}

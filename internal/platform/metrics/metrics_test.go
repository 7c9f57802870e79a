package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/tenancy"
)

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "no")
	})

	for _, p := range []string{"/api/v1/patients/1", "/api/v1/patients/2", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/v1/patients/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/boom", "400")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("4xx")))
}

func TestObserveResolution(t *testing.T) {
	m := New()
	m.ObserveResolution(tenancy.Resolution{Outcome: tenancy.OutcomeBound, Source: "header"})
	m.ObserveResolution(tenancy.Resolution{Outcome: tenancy.OutcomeBound, Source: "header"})
	m.ObserveResolution(tenancy.Resolution{Outcome: tenancy.OutcomeNoCandidate})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("bound", "header")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("no_candidate", "none")))
}

func TestObserveGateDecision(t *testing.T) {
	m := New()
	m.ObserveGateDecision("laboratory", "enabled")
	m.ObserveGateDecision("laboratory", "license_inactive")
	m.ObserveInvalidation("remote")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("laboratory", "license_inactive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEvents.WithLabelValues("remote")))
}

func TestHandler_Exposes(t *testing.T) {
	m := New()
	m.ObserveGateDecision("other", "no_license")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `hbys_feature_gate_decisions_total{module="other",reason="no_license"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/tenancy"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromCtx string
	h := RequestID()(func(c echo.Context) error {
		fromCtx = RequestIDFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	require.NoError(t, h(c))

	rid := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, rid)
	assert.Equal(t, rid, fromCtx)
	assert.Equal(t, rid, c.Get("request_id"))
}

func TestRequestID_PreservesWellFormed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, RequestID()(okHandler)(c))
	assert.Equal(t, "my-custom-id", rec.Header().Get(RequestIDHeader))
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id with spaces")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, RequestID()(okHandler)(c))
	assert.NotEqual(t, "bad id with spaces", rec.Header().Get(RequestIDHeader))
}

func TestLogger_IncludesTenantAndOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	ctx, err := tenancy.WithIdentity(req.Context(), tenancy.Identity{ID: uuid.New(), Code: "ACME"})
	require.NoError(t, err)
	req = req.WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-9")

	require.NoError(t, Logger(logger)(okHandler)(c))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ACME", line["tenant_code"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
}

func TestLogger_WritesErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected echo.HTTPError, got %T", err)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())
	assert.NoError(t, Recovery(zerolog.Nop())(okHandler)(c))
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing tenant", tenancy.ErrMissingTenantContext, http.StatusBadRequest},
		{"not found", fmt.Errorf("get patient: %w", db.ErrNotFound), http.StatusNotFound},
		{"duplicate", db.ErrDuplicate, http.StatusConflict},
		{"conflict", db.ErrConflict, http.StatusConflict},
		{"tenant mismatch", db.ErrTenantMismatch, http.StatusForbidden},
		{"invalid code", tenancy.ErrInvalidCode, http.StatusBadRequest},
		{"unavailable", db.ErrUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"passthrough", echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he, ok := HTTPError(tt.err).(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.want, he.Code)
		})
	}
	assert.Nil(t, HTTPError(nil))
}

func TestErrorHandler_WritesMappedStatus(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(e, zerolog.Nop(), "")
	e.GET("/missing", func(c echo.Context) error { return db.ErrNotFound })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorHandler_MissingTenantNamesConfiguredHeader(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(e, zerolog.Nop(), "X-Hospital-Code")
	e.GET("/raw", func(c echo.Context) error { return fmt.Errorf("list: %w", tenancy.ErrMissingTenantContext) })
	e.GET("/mapped", func(c echo.Context) error { return HTTPError(tenancy.ErrMissingTenantContext) })

	for _, path := range []string{"/raw", "/mapped"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "X-Hospital-Code")
			assert.NotContains(t, rec.Body.String(), tenancy.DefaultHeader)
		})
	}
}

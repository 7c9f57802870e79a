package staff

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T (%v)", err, err)
	return he.Code
}

func TestHandler_CreateUserAndAssignRole(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	ctx := tenantCtx(t, "ACME")
	seedRoles(t, svc, ctx, "pharmacist")

	body := `{"username":"eczaci","email":"eczaci@acme.example","full_name":"Eczacı Bey"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/staff/users", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.CreateUser(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var u User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Empty(t, u.Roles)

	req = httptest.NewRequest(http.MethodPut, "/", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "role")
	c.SetParamValues(u.ID.String(), "Pharmacist")
	require.NoError(t, h.AssignRole(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(u.ID.String())
	require.NoError(t, h.GetUser(c))
	assert.Contains(t, rec.Body.String(), `"roles":["pharmacist"]`)
}

func TestHandler_WithoutTenant(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, http.StatusBadRequest, statusOf(t, h.ListRoles(c)))
}

func TestHandler_ListRolesEmpty(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tenantCtx(t, "ACME"))
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListRoles(e.NewContext(req, rec)))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_CreateRole_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	ctx := tenantCtx(t, "ACME")
	seedRoles(t, svc, ctx, "nurse")

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"NURSE"}`)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	assert.Equal(t, http.StatusConflict, statusOf(t, h.CreateRole(e.NewContext(req, httptest.NewRecorder()))))
}

package tenant

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hbys/hbys/internal/platform/middleware"
	"github.com/hbys/hbys/internal/tenancy"
	"github.com/hbys/hbys/pkg/pagination"
)

// Version is reported by the tenants health probe.
const Version = "1.0.0"

type Handler struct {
	svc    *Service
	header string
}

// NewHandler builds the handler. header is the tenant header name quoted in
// instructional responses.
func NewHandler(svc *Service, header string) *Handler {
	if header == "" {
		header = tenancy.DefaultHeader
	}
	return &Handler{svc: svc, header: header}
}

// RegisterRoutes mounts the tenant-less public routes on api and the
// administrative routes on admin.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.GET("/tenants/current", h.Current)
	api.GET("/tenants/health", h.Health)

	admin.POST("/tenants", h.Create)
	admin.GET("/tenants", h.List)
	admin.GET("/tenants/:id", h.Get)
	admin.GET("/tenants/by-code/:code", h.GetByCode)
	admin.PATCH("/tenants/:id", h.UpdateInfo)
	admin.POST("/tenants/:id/activate", h.Activate)
	admin.POST("/tenants/:id/deactivate", h.Deactivate)
	admin.POST("/tenants/:id/extend", h.ExtendExpiry)
}

func httpError(err error) error {
	if errors.Is(err, ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return middleware.HTTPError(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// Current reports the tenant bound to the request, or explains how to bind one.
func (h *Handler) Current(c echo.Context) error {
	id, err := tenancy.Require(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusOK, map[string]string{
			"message": "No tenant context set. Use " + h.header + " header to set tenant.",
			"example": h.header + ": DEMO",
		})
	}

	body := map[string]interface{}{
		"tenant_id":   id.ID,
		"tenant_code": id.Code,
	}
	if t, err := h.svc.Get(c.Request().Context(), id.ID); err == nil {
		body["name"] = t.Name
		body["display_name"] = t.DisplayName
		body["type"] = t.Type
		body["expires_at"] = t.ExpiresAt
	}
	return c.JSON(http.StatusOK, body)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"application": "HBYS API",
		"version":     Version,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := ListFilter{Search: c.QueryParam("q")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "active must be a boolean")
		}
		f.Active = &active
	}

	items, total, err := h.svc.List(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetByCode(c echo.Context) error {
	t, err := h.svc.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateInfo(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateInfoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateInfo(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Activate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Activate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

type extendRequest struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) ExtendExpiry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req extendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExpiresAt.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "expires_at is required")
	}
	t, err := h.svc.ExtendExpiry(c.Request().Context(), id, req.ExpiresAt)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

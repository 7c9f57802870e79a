package license

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hbys/hbys/internal/platform/middleware"
	"github.com/hbys/hbys/internal/tenancy"
	"github.com/hbys/hbys/pkg/pagination"
)

type Handler struct {
	svc  *Service
	gate *Gate
	now  func() time.Time
}

func NewHandler(svc *Service, gate *Gate) *Handler {
	return &Handler{svc: svc, gate: gate, now: time.Now}
}

// RegisterRoutes mounts the tenant routes on api, which must require a bound
// tenant, and the administrative routes on admin.
func (h *Handler) RegisterRoutes(api *echo.Group, admin *echo.Group) {
	api.GET("/licenses/current", h.Current)
	api.GET("/licenses/features", h.Features)
	api.GET("/licenses/features/:module/:feature", h.Feature)
	api.GET("/licenses/usage", h.Usage)
	api.POST("/licenses/:module/renew", h.RequestRenewal)

	admin.POST("/tenants/:id/licenses", h.Create)
	admin.GET("/tenants/:id/licenses", h.ListForTenant)
	admin.GET("/licenses/renewals", h.ListRenewals)
	admin.GET("/licenses/:id", h.Get)
	admin.POST("/licenses/:id/renew", h.Renew)
	admin.POST("/licenses/:id/extend", h.Extend)
	admin.POST("/licenses/:id/cancel", h.Cancel)
	admin.PUT("/licenses/:id/caps", h.UpdateCaps)
	admin.PUT("/licenses/:id/features/:name", h.UpsertFeature)
	admin.POST("/licenses/:id/features/:name/enable", h.EnableFeature)
	admin.POST("/licenses/:id/features/:name/disable", h.DisableFeature)
	admin.PUT("/licenses/:id/features/:name/limit", h.UpdateFeatureLimit)
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

// licenseView adds the time-dependent fields to a license.
type licenseView struct {
	*License
	IsActive        bool   `json:"is_active"`
	EffectiveStatus Status `json:"effective_status"`
}

func (h *Handler) view(l *License) licenseView {
	now := h.now()
	return licenseView{License: l, IsActive: l.IsActive(now), EffectiveStatus: l.EffectiveStatus(now)}
}

func (h *Handler) views(items []*License) []licenseView {
	out := make([]licenseView, 0, len(items))
	for _, l := range items {
		out = append(out, h.view(l))
	}
	return out
}

// -- Tenant routes --

func (h *Handler) Current(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := tenancy.Require(ctx)
	if err != nil {
		return httpError(err)
	}
	items, err := h.svc.ListForTenant(ctx, id.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id":   id.ID,
		"tenant_code": id.Code,
		"licenses":    h.views(items),
	})
}

// Features evaluates every stored feature of the bound tenant, so a feature
// under a cancelled license is reported disabled.
func (h *Handler) Features(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := tenancy.Require(ctx)
	if err != nil {
		return httpError(err)
	}
	items, err := h.svc.ListForTenant(ctx, id.ID)
	if err != nil {
		return httpError(err)
	}

	decisions := []Decision{}
	for _, l := range items {
		for _, f := range l.Features {
			d, err := h.gate.Evaluate(ctx, id.ID, l.Module, f.Name)
			if err != nil {
				return httpError(err)
			}
			decisions = append(decisions, d)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id": id.ID,
		"features":  decisions,
	})
}

func (h *Handler) Feature(c echo.Context) error {
	d, err := h.gate.EvaluateCurrent(c.Request().Context(), c.Param("module"), c.Param("feature"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Usage(c echo.Context) error {
	u, err := h.svc.Usage(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) RequestRenewal(c echo.Context) error {
	var in RenewalInput
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&in); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	req, err := h.svc.RequestRenewal(c.Request().Context(), c.Param("module"), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message":      "License renewal request received.",
		"request":      req,
		"tenant_id":    req.TenantID,
		"requested_at": req.CreatedAt,
	})
}

// -- Admin routes --

func (h *Handler) Create(c echo.Context) error {
	tenantID, err := parseID(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.TenantID = tenantID
	l, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, h.view(l))
}

func (h *Handler) ListForTenant(c echo.Context) error {
	tenantID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForTenant(c.Request().Context(), tenantID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.views(items))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(l))
}

func (h *Handler) ListRenewals(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingRenewals(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

type expiryRequest struct {
	ExpiryDate *time.Time `json:"expiry_date"`
}

func (h *Handler) Renew(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req expiryRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	l, err := h.svc.Renew(c.Request().Context(), id, req.ExpiryDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(l))
}

func (h *Handler) Extend(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req expiryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExpiryDate == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expiry_date is required")
	}
	l, err := h.svc.Extend(c.Request().Context(), id, *req.ExpiryDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(l))
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(l))
}

type capsRequest struct {
	MaxUsers   *int `json:"max_users"`
	MaxRecords *int `json:"max_records"`
}

func (h *Handler) UpdateCaps(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req capsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.svc.UpdateCaps(c.Request().Context(), id, req.MaxUsers, req.MaxRecords)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(l))
}

func (h *Handler) UpsertFeature(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req FeatureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Name = c.Param("name")
	f, err := h.svc.UpsertFeature(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) EnableFeature(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.EnableFeature(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) DisableFeature(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.svc.DisableFeature(c.Request().Context(), id, c.Param("name"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

type limitRequest struct {
	Limit *int `json:"limit"`
}

func (h *Handler) UpdateFeatureLimit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req limitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := h.svc.UpdateFeatureLimit(c.Request().Context(), id, c.Param("name"), req.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/tenancy"
)

// HTTPError maps domain and data-layer errors onto HTTP errors. Errors that
// are already *echo.HTTPError pass through.
func HTTPError(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, tenancy.ErrMissingTenantContext):
		return missingTenant(tenancy.DefaultHeader)
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, db.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "resource was modified concurrently, retry the request")
	case errors.Is(err, db.ErrTenantMismatch):
		return echo.NewHTTPError(http.StatusForbidden, "tenant mismatch")
	case errors.Is(err, tenancy.ErrInvalidCode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func missingTenant(header string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, tenancy.MissingTenantMessage(header)).
		SetInternal(tenancy.ErrMissingTenantContext)
}

// ErrorHandler is an echo.HTTPErrorHandler that runs errors through
// HTTPError before writing them and logs 5xx responses. Missing tenant
// responses name header, the configured tenant header.
func ErrorHandler(e *echo.Echo, logger zerolog.Logger, header string) echo.HTTPErrorHandler {
	if header == "" {
		header = tenancy.DefaultHeader
	}
	return func(err error, c echo.Context) {
		mapped := HTTPError(err)
		if errors.Is(mapped, tenancy.ErrMissingTenantContext) {
			mapped = missingTenant(header)
		}
		if he, ok := mapped.(*echo.HTTPError); ok && he.Code >= 500 {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Int("status", he.Code).Msg("request failed")
		}
		e.DefaultHTTPErrorHandler(mapped, c)
	}
}

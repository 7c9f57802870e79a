package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/tenancy"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			status := c.Response().Status
			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			// The resolver binds the tenant on the request it hands downstream.
			if code, ok := tenancy.FromContext(c.Request().Context()).TenantCode(); ok {
				evt = evt.Str("tenant_code", code)
			}
			if o := tenancy.OutcomeFromContext(c.Request().Context()); o != "" {
				evt = evt.Str("tenant_outcome", string(o))
			}

			evt.Msg("request")
			return nil
		}
	}
}

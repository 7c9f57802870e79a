package tenancy

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Stage is one named step of the tenant pipeline. Run returns nil to let the
// request continue, or an error to reject it.
type Stage struct {
	Name string
	Run  func(c echo.Context) error
}

// Observer receives every resolution, typically for metrics.
type Observer interface {
	ObserveResolution(res Resolution)
}

// Pipeline chains stages into a single echo middleware.
func Pipeline(stages ...Stage) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, st := range stages {
				if err := st.Run(c); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

// AttachStage gives the request its own empty tenant slot.
func AttachStage() Stage {
	return Stage{
		Name: "attach",
		Run: func(c echo.Context) error {
			req := c.Request()
			if SlotFromContext(req.Context()) != nil {
				return nil
			}
			ctx, _ := NewContext(req.Context())
			c.SetRequest(req.WithContext(ctx))
			return nil
		},
	}
}

// ResolveStage runs the resolver and binds the slot on OutcomeBound. Every
// other outcome leaves the slot empty; this stage never rejects.
func ResolveStage(r *Resolver, logger zerolog.Logger, observers ...Observer) Stage {
	return Stage{
		Name: "resolve",
		Run: func(c echo.Context) error {
			req := c.Request()
			slot := SlotFromContext(req.Context())
			if slot == nil {
				ctx, s := NewContext(req.Context())
				c.SetRequest(req.WithContext(ctx))
				req, slot = c.Request(), s
			}

			res := r.Resolve(req.Context(), req)
			if res.Outcome == OutcomeBound {
				if err := slot.Set(res.Entry.ID, res.Entry.Code); err != nil {
					logger.Error().Err(err).Str("tenant_code", res.Entry.Code).Msg("tenant bind failed")
				} else {
					c.Set("tenant_code", res.Entry.Code)
				}
			}
			slot.setOutcome(res.Outcome)

			for _, o := range observers {
				o.ObserveResolution(res)
			}
			logResolution(logger, c, res)
			return nil
		},
	}
}

func logResolution(logger zerolog.Logger, c echo.Context, res Resolution) {
	var evt *zerolog.Event
	switch res.Outcome {
	case OutcomeBound:
		evt = logger.Debug()
	case OutcomeNoCandidate:
		return
	case OutcomeLookupFailed:
		evt = logger.Error().Err(res.Err)
	default:
		evt = logger.Info()
	}
	rid, _ := c.Get("request_id").(string)
	evt.
		Str("request_id", rid).
		Str("outcome", string(res.Outcome)).
		Str("source", res.Source).
		Str("candidate", res.Candidate).
		Msg("tenant resolution")
}

// GuardStage rejects requests that reach it without a bound tenant.
func GuardStage(header string) Stage {
	if header == "" {
		header = DefaultHeader
	}
	msg := MissingTenantMessage(header)
	return Stage{
		Name: "require-tenant",
		Run: func(c echo.Context) error {
			if _, err := Require(c.Request().Context()); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, msg)
			}
			return nil
		},
	}
}

// RequireTenant is the guard for tenant-required route groups.
func RequireTenant(header string) echo.MiddlewareFunc {
	return Pipeline(GuardStage(header))
}

// MissingTenantMessage is the client-facing body for a request without tenant.
func MissingTenantMessage(header string) map[string]string {
	return map[string]string{
		"error":   ErrMissingTenantContext.Error(),
		"message": fmt.Sprintf("No tenant context set. Send the %s header or call the API on your tenant subdomain.", header),
		"example": header + ": DEMO",
	}
}

package license

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hbys/hbys/internal/platform/db"
	"github.com/hbys/hbys/internal/platform/middleware"
	"github.com/hbys/hbys/internal/tenancy"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonNoLicense       Reason = "no_license"
	ReasonLicenseInactive Reason = "license_inactive"
	ReasonFeatureMissing  Reason = "feature_missing"
	ReasonFeatureDisabled Reason = "feature_disabled"
	ReasonEnabled         Reason = "enabled"
)

// Decision is the outcome of evaluating one (tenant, module, feature).
type Decision struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Module   string    `json:"module"`
	Feature  string    `json:"feature"`
	Enabled  bool      `json:"enabled"`
	Reason   Reason    `json:"reason"`
	Limit    *int      `json:"limit,omitempty"`
}

// Lookup is the read side of Repository the gate needs.
type Lookup interface {
	GetByModule(ctx context.Context, tenantID uuid.UUID, module string) (*License, error)
	GetFeature(ctx context.Context, licenseID uuid.UUID, name string) (*Feature, error)
}

// UnlicensedModule is the observer label for modules without a stored license.
const UnlicensedModule = "other"

// DecisionObserver is notified of every decision. *metrics.Metrics satisfies it.
type DecisionObserver interface {
	ObserveGateDecision(module, reason string)
}

// Gate answers whether a tenant may use a feature of a module.
type Gate struct {
	lookup    Lookup
	observers []DecisionObserver
	logger    zerolog.Logger
	now       func() time.Time
}

func NewGate(lookup Lookup, logger zerolog.Logger, observers ...DecisionObserver) *Gate {
	return &Gate{lookup: lookup, observers: observers, logger: logger, now: time.Now}
}

// Evaluate decides on a feature. An inactive license disables every feature
// under it whatever the feature rows say. Only storage failures are returned
// as errors; a missing license or feature is a decision.
func (g *Gate) Evaluate(ctx context.Context, tenantID uuid.UUID, module, feature string) (Decision, error) {
	d := Decision{TenantID: tenantID, Module: module, Feature: feature}

	mod, err := NormalizeName(module)
	if err != nil {
		return g.decide(d, ReasonNoLicense, UnlicensedModule), nil
	}
	name, err := NormalizeName(feature)
	if err != nil {
		return g.decide(d, ReasonFeatureMissing, UnlicensedModule), nil
	}
	d.Module, d.Feature = mod, name

	l, err := g.lookup.GetByModule(ctx, tenantID, mod)
	if errors.Is(err, db.ErrNotFound) {
		return g.decide(d, ReasonNoLicense, UnlicensedModule), nil
	}
	if err != nil {
		return d, err
	}
	// From here on the module names a stored license, so it is a bounded label.
	if !l.IsActive(g.now()) {
		return g.decide(d, ReasonLicenseInactive, l.Module), nil
	}

	f, err := g.lookup.GetFeature(ctx, l.ID, name)
	if errors.Is(err, db.ErrNotFound) {
		return g.decide(d, ReasonFeatureMissing, l.Module), nil
	}
	if err != nil {
		return d, err
	}
	if !f.Enabled {
		return g.decide(d, ReasonFeatureDisabled, l.Module), nil
	}
	d.Enabled = true
	d.Limit = f.Limit
	return g.decide(d, ReasonEnabled, l.Module), nil
}

// decide records the reason and notifies observers. label is the module as
// observers see it: the licensed module, or UnlicensedModule when the name
// came from the caller and matched no license.
func (g *Gate) decide(d Decision, reason Reason, label string) Decision {
	d.Reason = reason
	for _, o := range g.observers {
		o.ObserveGateDecision(label, string(reason))
	}
	return d
}

// IsFeatureEnabled is Evaluate collapsed to a boolean. Storage failures are
// logged and read as disabled.
func (g *Gate) IsFeatureEnabled(ctx context.Context, tenantID uuid.UUID, module, feature string) bool {
	d, err := g.Evaluate(ctx, tenantID, module, feature)
	if err != nil {
		g.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("module", module).
			Str("feature", feature).
			Msg("feature gate lookup failed")
		return false
	}
	return d.Enabled
}

// EvaluateCurrent evaluates for the tenant bound to ctx.
func (g *Gate) EvaluateCurrent(ctx context.Context, module, feature string) (Decision, error) {
	id, err := tenancy.Require(ctx)
	if err != nil {
		return Decision{}, err
	}
	return g.Evaluate(ctx, id.ID, module, feature)
}

// RequireFeature rejects requests whose tenant may not use module/feature
// with 403. Routes using it must sit behind tenancy.RequireTenant.
func RequireFeature(g *Gate, module, feature string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			d, err := g.EvaluateCurrent(ctx, module, feature)
			if errors.Is(err, tenancy.ErrMissingTenantContext) {
				return middleware.HTTPError(err)
			}
			if err != nil {
				g.logger.Error().Err(err).Str("module", module).Str("feature", feature).Msg("feature gate lookup failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "feature gate unavailable").SetInternal(err)
			}
			if !d.Enabled {
				return echo.NewHTTPError(http.StatusForbidden, map[string]interface{}{
					"error":   "feature not licensed",
					"module":  d.Module,
					"feature": d.Feature,
					"reason":  d.Reason,
				})
			}
			return next(c)
		}
	}
}

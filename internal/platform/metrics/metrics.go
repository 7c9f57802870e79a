// Package metrics exposes Prometheus collectors for HTTP traffic, tenant
// resolution and feature gate decisions on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hbys/hbys/internal/tenancy"
)

const namespace = "hbys"

// Metrics holds the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	statusCategory *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	cacheEvents    *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		statusCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_status_category_total",
				Help:      "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"category"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_resolutions_total",
				Help:      "Tenant resolution attempts by outcome and candidate source",
			},
			[]string{"outcome", "source"},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feature_gate_decisions_total",
				Help:      "Feature gate evaluations by licensed module (\"other\" when unlicensed) and reason",
			},
			[]string{"module", "reason"},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_cache_invalidations_total",
				Help:      "Tenant directory cache invalidations by origin",
			},
			[]string{"origin"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.statusCategory,
		m.resolutions,
		m.gateDecisions,
		m.cacheEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}

// Middleware records request count and latency. The path label is the route
// template, so tenant codes in hosts and ids in paths never become labels.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			statusStr := strconv.Itoa(status)

			m.requests.WithLabelValues(method, path, statusStr).Inc()
			m.duration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())
			if cat := statusCategory(status); cat != "" {
				m.statusCategory.WithLabelValues(cat).Inc()
			}
			return err
		}
	}
}

// ObserveResolution implements tenancy.Observer.
func (m *Metrics) ObserveResolution(res tenancy.Resolution) {
	source := res.Source
	if source == "" {
		source = "none"
	}
	m.resolutions.WithLabelValues(string(res.Outcome), source).Inc()
}

// ObserveGateDecision counts one feature gate evaluation.
func (m *Metrics) ObserveGateDecision(module, reason string) {
	m.gateDecisions.WithLabelValues(module, reason).Inc()
}

// ObserveInvalidation counts a directory cache eviction. origin is "local"
// for administrative changes made by this replica and "remote" for
// broadcasts received from others.
func (m *Metrics) ObserveInvalidation(origin string) {
	m.cacheEvents.WithLabelValues(origin).Inc()
}

// Package telemetry exposes service and HTTP metrics in Prometheus format.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool // nil = use default (true)
	// RuntimeMetrics adds the Go runtime and process collectors.
	RuntimeMetrics bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "odontogram-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// TelemetryProvider owns a private registry so tests and multiple servers
// in one process do not collide on the global one.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge

	applyAccepted *prometheus.CounterVec
	applyRejected *prometheus.CounterVec
	saves         prometheus.Counter
	saveDuration  prometheus.Histogram
	savedEntries  prometheus.Histogram
	catalogMisses prometheus.Counter
	cacheRequests *prometheus.CounterVec
	openSessions  prometheus.Gauge
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	if cfg.RuntimeMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	labels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}
	f := promauto.With(reg)

	return &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "HTTP requests by method, route and status.", ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds", Help: "HTTP request latency.", Buckets: durationBuckets, ConstLabels: labels,
		}, []string{"method", "route"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_active_requests", Help: "Requests currently being served.", ConstLabels: labels,
		}),
		applyAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odontogram_apply_accepted_total", Help: "Diagnoses charted, by procedure.", ConstLabels: labels,
		}, []string{"procedure"}),
		applyRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odontogram_apply_rejected_total", Help: "Refused chart edits, by rejection code.", ConstLabels: labels,
		}, []string{"code"}),
		saves: f.NewCounter(prometheus.CounterOpts{
			Name: "odontogram_chart_saves_total", Help: "Charts persisted.", ConstLabels: labels,
		}),
		saveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "odontogram_chart_save_duration_seconds", Help: "Time spent persisting a chart.", Buckets: durationBuckets, ConstLabels: labels,
		}),
		savedEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name: "odontogram_chart_saved_entries", Help: "Entries per saved chart.", Buckets: prometheus.ExponentialBuckets(1, 2, 8), ConstLabels: labels,
		}),
		catalogMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "odontogram_catalog_misses_total", Help: "Distinct procedure ids not found in the catalog.", ConstLabels: labels,
		}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odontogram_cache_requests_total", Help: "Chart cache lookups by result.", ConstLabels: labels,
		}, []string{"result"}),
		openSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "odontogram_open_sessions", Help: "Patient editing sessions held in memory.", ConstLabels: labels,
		}),
	}
}

func (tp *TelemetryProvider) Registry() *prometheus.Registry { return tp.registry }

// Shutdown is a no-op kept for symmetry with the server lifecycle.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error { return nil }

func (tp *TelemetryProvider) ApplyAccepted(procedureID string) {
	tp.applyAccepted.WithLabelValues(procedureID).Inc()
}

func (tp *TelemetryProvider) ApplyRejected(code string) {
	tp.applyRejected.WithLabelValues(code).Inc()
}

func (tp *TelemetryProvider) ChartSaved(entries int, elapsed time.Duration) {
	tp.saves.Inc()
	tp.saveDuration.Observe(elapsed.Seconds())
	tp.savedEntries.Observe(float64(entries))
}

func (tp *TelemetryProvider) CacheHit()  { tp.cacheRequests.WithLabelValues("hit").Inc() }
func (tp *TelemetryProvider) CacheMiss() { tp.cacheRequests.WithLabelValues("miss").Inc() }

func (tp *TelemetryProvider) SessionsOpen(n int) { tp.openSessions.Set(float64(n)) }

// CatalogMiss matches the catalog miss observer signature.
func (tp *TelemetryProvider) CatalogMiss(string) { tp.catalogMisses.Inc() }

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}
			tp.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			tp.activeRequests.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			tp.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			tp.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in text exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{Registry: tp.registry}))
}

package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/odontogram/internal/domain/dentalchart"
)

var _ dentalchart.Recorder = (*TelemetryProvider)(nil)

func TestTelemetryConfig_Defaults(t *testing.T) {
	cfg := TelemetryConfig{}
	cfg.applyDefaults()
	if cfg.ServiceName != "odontogram-server" || cfg.ServiceVersion != "0.0.0" || cfg.Environment != "development" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.metricsOn() {
		t.Error("metrics should default to on")
	}
	cfg.MetricsEnabled = BoolPtr(false)
	if cfg.metricsOn() {
		t.Error("expected metrics off")
	}
}

func TestRecorderCounters(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	tp.ApplyAccepted("caries_profunda")
	tp.ApplyAccepted("caries_profunda")
	tp.ApplyRejected("tooth_blocked")
	tp.ChartSaved(12, 30*time.Millisecond)
	tp.CacheHit()
	tp.CacheMiss()
	tp.CacheMiss()
	tp.SessionsOpen(4)
	tp.CatalogMiss("unknown")

	if got := testutil.ToFloat64(tp.applyAccepted.WithLabelValues("caries_profunda")); got != 2 {
		t.Errorf("expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(tp.applyRejected.WithLabelValues("tooth_blocked")); got != 1 {
		t.Errorf("expected 1 rejected, got %v", got)
	}
	if got := testutil.ToFloat64(tp.saves); got != 1 {
		t.Errorf("expected 1 save, got %v", got)
	}
	if got := testutil.ToFloat64(tp.cacheRequests.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(tp.openSessions); got != 4 {
		t.Errorf("expected 4 open sessions, got %v", got)
	}
	if got := testutil.ToFloat64(tp.catalogMisses); got != 1 {
		t.Errorf("expected 1 catalog miss, got %v", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/api/v1/patients/:patient_id/odontogram", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "rejected")
	})

	for _, path := range []string{"/api/v1/patients/a/odontogram", "/api/v1/patients/b/odontogram", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(tp.httpRequests.WithLabelValues("GET", "/api/v1/patients/:patient_id/odontogram", "200")); got != 2 {
		t.Errorf("expected 2 requests on the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(tp.httpRequests.WithLabelValues("GET", "/boom", "422")); got != 1 {
		t.Errorf("expected error status recorded, got %v", got)
	}
	if got := testutil.ToFloat64(tp.activeRequests); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	wantErr := errors.New("handler error")
	err := tp.MetricsMiddleware()(func(c echo.Context) error { return wantErr })(c)
	if err != wantErr {
		t.Errorf("expected handler error passed through, got %v", err)
	}
	if n := testutil.CollectAndCount(tp.httpRequests); n != 0 {
		t.Errorf("expected no samples when disabled, got %d", n)
	}
}

func TestPrometheusHandler(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{ServiceName: "odontogram-test"})
	tp.ApplyAccepted("extraccion")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := tp.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `odontogram_apply_accepted_total{env="development",procedure="extraccion",service="odontogram-test"} 1`) {
		t.Errorf("expected apply counter in exposition, got:\n%s", body)
	}
}

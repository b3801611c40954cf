package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/odontogram/internal/platform/auth"
	"github.com/ehr/odontogram/internal/platform/db"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func auditRequest(t *testing.T, mw echo.MiddlewareFunc, method, path string, h echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(db.WithTenant(auth.WithUser(req.Context(), "dr-ana", []string{"dentist"}), "clinic_norte"))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	c.SetPath("/api/v1/patients/:patient_id/odontogram/teeth/:tooth_id")
	c.SetParamNames("patient_id", "tooth_id")
	c.SetParamValues(strings.Split(path, "/")[4], "16")
	return mw(h)(c)
}

func TestAudit_RecordsChartAccess(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	pid := uuid.NewString()

	err := auditRequest(t, Audit(zerolog.New(&buf), rec), http.MethodDelete,
		"/api/v1/patients/"+pid+"/odontogram/teeth/16", okHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.PatientID != pid || got.ToothID != "16" || got.Action != "delete" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.UserID != "dr-ana" || got.TenantID != "clinic_norte" || got.RequestID != "req-123" || got.StatusCode != http.StatusOK {
		t.Errorf("unexpected identity fields %+v", got)
	}
	if !strings.Contains(buf.String(), `"message":"chart_access"`) {
		t.Errorf("expected audit log line, got %s", buf.String())
	}
}

func TestAudit_StatusFromHTTPError(t *testing.T) {
	rec := &mockRecorder{}
	auditRequest(t, Audit(zerolog.Nop(), rec), http.MethodPost,
		"/api/v1/patients/"+uuid.NewString()+"/odontogram/entries",
		func(echo.Context) error { return echo.NewHTTPError(http.StatusUnprocessableEntity) })
	if rec.entries[0].StatusCode != http.StatusUnprocessableEntity || rec.entries[0].Action != "create" {
		t.Errorf("unexpected entry %+v", rec.entries[0])
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	err := auditRequest(t, Audit(zerolog.New(&buf), rec), http.MethodGet,
		"/api/v1/patients/"+uuid.NewString()+"/odontogram", okHandler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure logged, got %s", buf.String())
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	e := echo.New()
	for _, p := range []string{"/health", "/api/v1/catalog", "/api/v1/patients/not-a-uuid/odontogram"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, p, nil), httptest.NewRecorder())
		Audit(zerolog.Nop(), rec)(okHandler)(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestChartPatient(t *testing.T) {
	pid := uuid.NewString()
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/api/v1/patients/" + pid + "/odontogram", pid, true},
		{"/api/v1/patients/" + pid + "/odontogram/history", pid, true},
		{"/api/v1/patients/" + pid, "", false},
		{"/api/v1/patients/" + pid + "/allergies", "", false},
		{"/api/v1/patients/abc/odontogram", "", false},
	}
	for _, tt := range tests {
		got, ok := chartPatient(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("chartPatient(%s) = %q, %v", tt.path, got, ok)
		}
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	for method, want := range map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodDelete: "delete",
	} {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("%s: got %s, want %s", method, got, want)
		}
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error { got = e; return nil })
	f.RecordAccess(AuditEntry{PatientID: "p"})
	if got.PatientID != "p" {
		t.Error("expected adapter to forward entry")
	}
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/odontogram/internal/platform/auth"
	"github.com/ehr/odontogram/internal/platform/db"
)

// AuditEntry records one access to a patient chart.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	PatientID  string
	ToothID    string
	Action     string // read, create, update, delete
	Route      string
	Path       string
	Method     string
	IPAddress  string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere beyond the log stream.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

const patientsPrefix = "/api/v1/patients/"

// Audit logs every request that touches a patient's odontogram, after the
// handler has run so the status is known.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			patientID, ok := chartPatient(path)
			if !ok {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			ctx := req.Context()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				TenantID:   db.TenantFromContext(ctx),
				PatientID:  patientID,
				ToothID:    c.Param("tooth_id"),
				Action:     httpMethodToAction(req.Method),
				Route:      c.Path(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "chart_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("tenant_id", entry.TenantID).
				Str("patient_id", entry.PatientID).
				Str("tooth_id", entry.ToothID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("chart_access")

			return err
		}
	}
}

// chartPatient extracts the patient id from /api/v1/patients/<uuid>/odontogram...
func chartPatient(path string) (string, bool) {
	if !strings.HasPrefix(path, patientsPrefix) {
		return "", false
	}
	segments := strings.Split(strings.TrimPrefix(path, patientsPrefix), "/")
	if len(segments) < 2 || segments[1] != "odontogram" {
		return "", false
	}
	if _, err := uuid.Parse(segments[0]); err != nil {
		return "", false
	}
	return segments[0], true
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medapp/medapp/internal/platform/auth"
)

// AuditEntry records who touched which resource and with what outcome.
type AuditEntry struct {
	Subject    string
	Action     string // read, create, update, delete
	Resource   string // practitioners, patients, records
	ResourceID string
	PatientID  string
	Method     string
	Route      string
	Status     int
	RequestID  string
	RemoteIP   string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs one "patient_data_access" event per routed request outside the
// public infrastructure paths, after the handler has run.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" || auth.IsPublicPath(route) {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			entry := AuditEntry{
				Action:    methodToAction(req.Method),
				Resource:  resourceOf(route),
				Method:    req.Method,
				Route:     route,
				Status:    responseStatus(c, err),
				RemoteIP:  c.RealIP(),
				Timestamp: time.Now().UTC(),
			}
			entry.ResourceID, entry.PatientID = resourceIDs(c, route)
			if p := auth.PrincipalFromContext(req.Context()); p != nil {
				entry.Subject = p.Subject
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("subject", entry.Subject).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Int("status", entry.Status).
				Str("remote_ip", entry.RemoteIP).
				Msg("patient_data_access")

			return err
		}
	}
}

func methodToAction(method string) string {
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

// resourceOf returns the innermost collection named by a route pattern:
//   - /patients/:id                -> patients
//   - /patients/:id/records/:recordId -> records
func resourceOf(route string) string {
	var last string
	for _, seg := range strings.Split(strings.Trim(route, "/"), "/") {
		if seg != "" && !strings.HasPrefix(seg, ":") {
			last = seg
		}
	}
	if last == "" {
		return "unknown"
	}
	return last
}

// resourceIDs extracts the addressed resource id and, where the route is
// under /patients or links a patient, the patient id.
func resourceIDs(c echo.Context, route string) (resourceID, patientID string) {
	id := c.Param("id")
	switch {
	case c.Param("recordId") != "":
		resourceID = c.Param("recordId")
	case c.Param("patientId") != "":
		resourceID = c.Param("patientId")
		patientID = c.Param("patientId")
	case c.Param("practitionerId") != "":
		resourceID = c.Param("practitionerId")
	default:
		resourceID = id
	}
	if strings.HasPrefix(route, "/patients/") {
		patientID = id
	}
	return resourceID, patientID
}

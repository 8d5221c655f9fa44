package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/compass/compass/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry records who touched which portal resource.
type AuditEntry struct {
	UserID       string
	StaffID      string
	UserRoles    []string
	TenantID     string
	ResourceType string
	ResourceID   string
	PatientID    string
	Action       string // read, search, create, update, delete, export, import
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries in addition to the structured log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs a phi_access event for every /api/v1 request once the handler
// has run.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: responseStatus(c, err),
				UserID:     auth.UserIDFromContext(ctx),
				StaffID:    auth.StaffIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.ResourceType, entry.ResourceID = splitResource(path)
			entry.Action = auditAction(req.Method, path, entry.ResourceID)
			if entry.ResourceType == "patients" {
				entry.PatientID = entry.ResourceID
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
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Str("staff_id", entry.StaffID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

// responseStatus reports the status the client will see, including errors the
// handler returned but echo has not written yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// splitResource parses /api/v1/<resource>/<id>/... into resource and id. The
// id is only returned when it is a UUID.
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")
	resource := "unknown"
	if len(segments) > 0 && segments[0] != "" {
		resource = segments[0]
	}
	id := ""
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			id = segments[1]
		}
	}
	return resource, id
}

func auditAction(method, path, id string) string {
	switch {
	case strings.HasSuffix(path, "/export"):
		return "export"
	case strings.HasSuffix(path, "/import"):
		return "import"
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		if id == "" {
			return "search"
		}
		return "read"
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

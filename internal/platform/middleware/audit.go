package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry records one administrative action: which operator touched which
// tenant or license, and with what result.
type AuditEntry struct {
	Subject    string
	Action     string // create, update, delete, or the trailing verb (renew, activate ...)
	Resource   string
	ResourceID string
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request passing through the group it is
// mounted on. subject names the authenticated operator. Reads are not
// audited. Recorder failures are logged and never fail the request.
func Audit(logger zerolog.Logger, subject func(echo.Context) string, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := HTTPError(err).(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			resource, id, verb := splitAdminPath(req.URL.Path)
			entry := AuditEntry{
				Action:     auditAction(req.Method, verb),
				Resource:   resource,
				ResourceID: id,
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			if subject != nil {
				entry.Subject = subject(c)
			}
			entry.RequestID, _ = c.Get("request_id").(string)

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

			evt := logger.Info()
			if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "admin_audit").
				Str("request_id", entry.RequestID).
				Str("subject", entry.Subject).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("admin_action")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// auditAction prefers the trailing verb of action routes such as
// POST /admin/tenants/:id/activate.
func auditAction(method, verb string) string {
	if verb != "" {
		return verb
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return strings.ToLower(method)
}

// splitAdminPath maps /admin/<resource>/<uuid>/<verb> onto its parts. The
// verb is only reported when it is the last segment after an id.
//
//	/admin/tenants                       -> tenants, "", ""
//	/admin/tenants/<id>                  -> tenants, <id>, ""
//	/admin/licenses/<id>/renew           -> licenses, <id>, renew
//	/admin/licenses/<id>/features/e/disable -> licenses, <id>, disable
func splitAdminPath(path string) (resource, id, verb string) {
	path = strings.TrimPrefix(path, "/admin")
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "unknown", "", ""
	}
	resource = segments[0]
	if len(segments) < 2 {
		return resource, "", ""
	}
	if _, err := uuid.Parse(segments[1]); err != nil {
		return resource, "", ""
	}
	id = segments[1]
	if len(segments) > 2 {
		last := segments[len(segments)-1]
		switch last {
		case "activate", "deactivate", "renew", "extend", "cancel", "enable", "disable", "caps", "limit":
			verb = last
		}
	}
	return resource, id, verb
}

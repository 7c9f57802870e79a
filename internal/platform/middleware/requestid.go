package middleware

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader carries the correlation id in requests and responses.
const RequestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type requestIDKey struct{}

// RequestID adopts the caller's X-Request-ID when it is well formed and
// generates one otherwise. The id is echoed in the response, stored under
// "request_id" on the echo context and in the request context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(RequestIDHeader)
			if !validRequestID.MatchString(rid) {
				rid = uuid.New().String()
				req.Header.Set(RequestIDHeader, rid)
			}

			c.Response().Header().Set(RequestIDHeader, rid)
			c.Set("request_id", rid)
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), requestIDKey{}, rid)))

			return next(c)
		}
	}
}

// RequestIDFromContext returns the id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

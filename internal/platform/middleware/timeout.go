package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Export and import
// routes build whole spreadsheets in memory and get bulkTimeout instead.
// Handlers and repositories observe the deadline through ctx.
func RequestTimeout(timeout, bulkTimeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := timeout
			path := c.Request().URL.Path
			if strings.HasSuffix(path, "/export") || strings.HasSuffix(path, "/import") {
				d = bulkTimeout
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

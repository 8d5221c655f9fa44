package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ETagConfig selects the read-mostly routes that answer conditional GETs.
type ETagConfig struct {
	// Routes are echo route patterns such as "/api/v1/hospitals/options".
	Routes []string
	// MaxAge lets a client reuse a response for this many seconds before it
	// revalidates.
	MaxAge int
}

// bufferedWriter holds the handler's response so its ETag can be computed
// before anything reaches the client.
type bufferedWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bufferedWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *bufferedWriter) WriteHeader(code int) { w.status = code }

func (w *bufferedWriter) Flush() {}

// ETag tags successful GET responses of the configured routes with a weak
// ETag and answers a matching If-None-Match with 304. Responses vary by
// caller and tenant, so they are only cached privately.
func ETag(cfg ETagConfig) echo.MiddlewareFunc {
	routes := make(map[string]bool, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes[r] = true
	}
	cacheControl := fmt.Sprintf("private, max-age=%d, must-revalidate", cfg.MaxAge)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if (req.Method != http.MethodGet && req.Method != http.MethodHead) || !routes[c.Path()] {
				return next(c)
			}

			res := c.Response()
			orig := res.Writer
			bw := &bufferedWriter{ResponseWriter: orig, status: http.StatusOK}
			res.Writer = bw
			err := next(c)
			res.Writer = orig
			if err != nil {
				return err
			}

			if bw.status != http.StatusOK {
				orig.WriteHeader(bw.status)
				_, err := orig.Write(bw.buf.Bytes())
				return err
			}

			etag := weakETag(bw.buf.Bytes())
			h := orig.Header()
			h.Set("ETag", etag)
			h.Set("Cache-Control", cacheControl)
			h.Set("Vary", "Authorization, X-Tenant-ID")
			if etagMatch(req.Header.Get("If-None-Match"), etag) {
				h.Del(echo.HeaderContentLength)
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}
			orig.WriteHeader(http.StatusOK)
			_, err = orig.Write(bw.buf.Bytes())
			return err
		}
	}
}

func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatch compares an If-None-Match value with etag using weak comparison.
func etagMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compass/compass/internal/platform/db"
)

func TestHealthHandler(t *testing.T) {
	call := func(checks map[string]db.Check) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		require.NoError(t, db.HealthHandler(globalDB.Pool, checks)(c))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := call(map[string]db.Check{
		"cache": func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, "ok", deps["database"])
	assert.Equal(t, "ok", deps["cache"])
	assert.Contains(t, body, "pool")

	code, body = call(map[string]db.Check{
		"cache": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
	deps = body["dependencies"].(map[string]interface{})
	assert.Equal(t, "ok", deps["database"])
	assert.Equal(t, "connection refused", deps["cache"])
}

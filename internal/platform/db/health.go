package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check is a named dependency probe reported alongside the database.
type Check func(ctx context.Context) error

// HealthHandler pings the database and any extra dependencies (the cache) and
// reports 503 when one of them fails.
func HealthHandler(pool *pgxpool.Pool, checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		deps := map[string]string{}
		healthy := true
		if err := pool.Ping(ctx); err != nil {
			deps["database"] = err.Error()
			healthy = false
		} else {
			deps["database"] = "ok"
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				healthy = false
				continue
			}
			deps[name] = "ok"
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		return c.JSON(code, map[string]interface{}{
			"status":       status,
			"dependencies": deps,
			"pool":         GetPoolStats(pool),
		})
	}
}

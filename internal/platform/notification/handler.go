package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/compass/compass/internal/platform/auth"
)

// Handler exposes delivery history for administrators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.HandleRecent)
	admin.GET("/stats", h.HandleStats)
}

// HandleRecent handles GET /notifications?limit=N.
func (h *Handler) HandleRecent(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, h.manager.Recent(limit))
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}

package staff

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/export"
	"github.com/compass/compass/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the API routes on api and the login route on public,
// which must not require a token.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	public.POST("/auth/login", h.Login)

	api.GET("/me", h.Me)
	api.PUT("/me/device-token", h.RegisterDeviceToken)

	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	readGroup.GET("/staff", h.ListStaff)
	readGroup.GET("/staff/:id", h.GetStaff)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/staff", h.CreateStaff)
	writeGroup.PUT("/staff/:id", h.UpdateStaff)
	writeGroup.PUT("/staff/:id/role", h.ChangeRole)
	writeGroup.PUT("/staff/:id/active", h.SetActive)
	writeGroup.DELETE("/staff/:id", h.DeleteStaff)
	writeGroup.GET("/staff/export", h.ExportStaff)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "staff user not found")
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrLastAdmin):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInactive), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrLoginUnavailable):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func searchParams(c echo.Context) map[string]string {
	params := map[string]string{}
	for _, k := range []string{"q", "role", "hospital_id", "active"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	return params
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.Me(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type deviceTokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) RegisterDeviceToken(c echo.Context) error {
	var req deviceTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.RegisterDeviceToken(c.Request().Context(), req.Token); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.CreateStaff(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if !actor.IsAdmin() && (u.HospitalID == nil || u.HospitalID.String() != actor.HospitalID) {
		return echo.NewHTTPError(http.StatusNotFound, "staff user not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListStaff(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListStaff(c.Request().Context(), searchParams(c), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if users == nil {
		users = []*StaffUser{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateStaff(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type roleRequest struct {
	Role       string     `json:"role"`
	HospitalID *uuid.UUID `json:"hospital_id"`
}

func (h *Handler) ChangeRole(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.ChangeRole(c.Request().Context(), id, req.Role, req.HospitalID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	u, err := h.svc.SetActive(c.Request().Context(), id, *req.Active)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteStaff(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ExportStaff(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	err = export.Attachment(c, format, "staff", h.svc.now(), func(w io.Writer) error {
		return h.svc.Export(ctx, searchParams(c), format, w)
	})
	if err != nil {
		return httpError(err)
	}
	return nil
}

package hospital

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every portal role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleASHA))
	readGroup.GET("/hospitals", h.SearchHospitals)
	readGroup.GET("/hospitals/options", h.Options)
	readGroup.GET("/hospitals/code/:code", h.GetHospitalByCode)
	readGroup.GET("/hospitals/:id", h.GetHospital)

	// Write endpoints – admin only
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/hospitals", h.CreateHospital)
	writeGroup.PUT("/hospitals/:id", h.UpdateHospital)
	writeGroup.DELETE("/hospitals/:id", h.DeleteHospital)
	writeGroup.GET("/hospitals/export", h.ExportHospitals)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrDuplicateCode), errors.Is(err, ErrInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
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
	for _, k := range []string{"q", "district", "block", "type", "active"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	return params
}

func (h *Handler) CreateHospital(c echo.Context) error {
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateHospital(c.Request().Context(), &hosp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) GetHospitalByCode(c echo.Context) error {
	hosp, err := h.svc.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) SearchHospitals(c echo.Context) error {
	p := pagination.FromContext(c)
	hospitals, total, err := h.svc.SearchHospitals(c.Request().Context(), searchParams(c), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	if hospitals == nil {
		hospitals = []*Hospital{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(hospitals, total, p.Limit, p.Offset))
}

func (h *Handler) Options(c echo.Context) error {
	opts, err := h.svc.Options(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, opts)
}

func (h *Handler) UpdateHospital(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	hosp.ID = id
	if err := h.svc.UpdateHospital(c.Request().Context(), &hosp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) DeleteHospital(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHospital(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ExportHospitals(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	err = export.Attachment(c, format, "hospitals", h.svc.now(), func(w io.Writer) error {
		return h.svc.Export(ctx, searchParams(c), format, w)
	})
	if err != nil {
		return httpError(err)
	}
	return nil
}

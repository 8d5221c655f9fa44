package patient

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/export"
	"github.com/compass/compass/pkg/pagination"
)

type Handler struct {
	svc      *Service
	reminder *FollowUpReminder
}

// NewHandler builds the patient handler. reminder may be nil, in which case
// the on-demand reminder route is not mounted.
func NewHandler(svc *Service, reminder *FollowUpReminder) *Handler {
	return &Handler{svc: svc, reminder: reminder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Field staff read and record patients within their own scope.
	fieldGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleASHA))
	fieldGroup.GET("/patients", h.ListPatients)
	fieldGroup.GET("/patients/duplicates", h.CheckDuplicates)
	fieldGroup.GET("/patients/:id", h.GetPatient)
	fieldGroup.POST("/patients", h.CreatePatient)
	fieldGroup.PUT("/patients/:id", h.UpdatePatient)
	fieldGroup.GET("/patients/:id/follow-ups", h.ListFollowUps)
	fieldGroup.POST("/patients/:id/follow-ups", h.ScheduleFollowUp)
	fieldGroup.POST("/patients/:id/follow-ups/:followUpId/complete", h.CompleteFollowUp)
	fieldGroup.GET("/follow-ups/due", h.ListDueFollowUps)

	clinicalGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinicalGroup.GET("/patients/export", h.ExportPatients)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.DELETE("/patients/:id", h.DeletePatient)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/patients/import", h.ImportPatients)
	if h.reminder != nil {
		adminGroup.POST("/follow-ups/reminders/run", h.RunReminders)
	}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

// duplicateResponse is the 409 body listing the likely duplicates.
type duplicateResponse struct {
	Message    string      `json:"message"`
	Candidates []Candidate `json:"candidates"`
}

// writeError answers duplicates with their candidates and maps the rest.
func writeError(c echo.Context, err error) error {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return c.JSON(http.StatusConflict, duplicateResponse{Message: dup.Error(), Candidates: dup.Candidates})
	}
	return httpError(err)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryBool(c echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, echo.NewHTTPError(http.StatusBadRequest, name+" must be true or false")
	}
	return b, nil
}

// patientRequest is the body of POST and PUT /patients. Dates are accepted as
// YYYY-MM-DD or DD-MM-YYYY.
type patientRequest struct {
	Name           string     `json:"name"`
	Gender         string     `json:"gender"`
	DateOfBirth    string     `json:"date_of_birth"`
	DOBEstimated   bool       `json:"dob_estimated"`
	Age            *int       `json:"age"`
	Phone          string     `json:"phone"`
	AlternatePhone string     `json:"alternate_phone"`
	Address        string     `json:"address"`
	Village        string     `json:"village"`
	Block          string     `json:"block"`
	District       string     `json:"district"`
	Diseases       []string   `json:"diseases"`
	Notes          string     `json:"notes"`
	HospitalID     *uuid.UUID `json:"hospital_id"`
	ASHAID         *uuid.UUID `json:"asha_id"`
	DoctorID       *uuid.UUID `json:"doctor_id"`
	Status         string     `json:"status"`
}

func (r *patientRequest) toPatient() (*Patient, error) {
	p := &Patient{
		Name:           r.Name,
		Gender:         r.Gender,
		DOBEstimated:   r.DOBEstimated,
		Age:            r.Age,
		Phone:          r.Phone,
		AlternatePhone: r.AlternatePhone,
		Address:        r.Address,
		Village:        r.Village,
		Block:          r.Block,
		District:       r.District,
		Diseases:       r.Diseases,
		Notes:          r.Notes,
		HospitalID:     r.HospitalID,
		ASHAID:         r.ASHAID,
		DoctorID:       r.DoctorID,
		Status:         r.Status,
	}
	if r.DateOfBirth != "" {
		t, err := export.ParseDate(r.DateOfBirth)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid date_of_birth")
		}
		p.DateOfBirth = &t
	}
	return p, nil
}

func (h *Handler) bindPatient(c echo.Context) (*Patient, error) {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return req.toPatient()
}

func (h *Handler) CreatePatient(c echo.Context) error {
	p, err := h.bindPatient(c)
	if err != nil {
		return err
	}
	force, err := queryBool(c, "force")
	if err != nil {
		return err
	}
	if err := h.svc.CreatePatient(c.Request().Context(), p, force); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.bindPatient(c)
	if err != nil {
		return err
	}
	p.ID = id
	force, err := queryBool(c, "force")
	if err != nil {
		return err
	}
	if err := h.svc.UpdatePatient(c.Request().Context(), p, force); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatients(c echo.Context) error {
	f, err := ParseFilter(c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, p.Limit, p.Offset))
}

func (h *Handler) CheckDuplicates(c echo.Context) error {
	var exclude *uuid.UUID
	if v := c.QueryParam("exclude_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid exclude_id")
		}
		exclude = &id
	}
	candidates, err := h.svc.CheckDuplicates(c.Request().Context(), c.QueryParam("name"), c.QueryParam("phone"), exclude)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"duplicate":  len(candidates) > 0,
		"candidates": candidates,
	})
}

func (h *Handler) ExportPatients(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := ParseFilter(c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	err = export.Attachment(c, format, "patients", h.svc.now(), func(w io.Writer) error {
		return h.svc.Export(ctx, f, format, w)
	})
	if err != nil {
		return httpError(err)
	}
	return nil
}

func (h *Handler) ImportPatients(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	format, err := export.FormatFromFilename(fh.Filename)
	if err != nil || format == export.FormatPDF {
		return echo.NewHTTPError(http.StatusBadRequest, "upload a .csv or .xlsx file")
	}
	dryRun, err := queryBool(c, "dry_run")
	if err != nil {
		return err
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload")
	}
	defer src.Close()

	report, err := h.svc.ImportPatients(c.Request().Context(), src, format, dryRun)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

type scheduleRequest struct {
	ScheduledDate string `json:"scheduled_date"`
	Notes         string `json:"notes"`
}

func (h *Handler) ScheduleFollowUp(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	date, err := export.ParseDate(req.ScheduledDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scheduled_date")
	}
	f, err := h.svc.ScheduleFollowUp(c.Request().Context(), id, date, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFollowUps(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.ListFollowUps(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type completeRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

func (h *Handler) CompleteFollowUp(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	followUpID, err := parseID(c, "followUpId")
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f, err := h.svc.CompleteFollowUp(c.Request().Context(), patientID, followUpID, req.Outcome, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListDueFollowUps(c echo.Context) error {
	on := h.svc.now()
	if v := c.QueryParam("on"); v != "" {
		t, err := export.ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid on date")
		}
		on = t
	}
	out, err := h.svc.ListDueFollowUps(c.Request().Context(), on)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RunReminders(c echo.Context) error {
	res, err := h.reminder.RunTenant(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

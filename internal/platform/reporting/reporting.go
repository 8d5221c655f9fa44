// Package reporting evaluates the dashboard measures shown to administrators
// and doctors.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/cache"
	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/telemetry"
)

// Measure parameters.
const (
	ParamHospitalID = "hospital_id"
	ParamAsOf       = "as_of"
)

// CachePrefix is the per-tenant key prefix of cached reports. Writers that
// change patient data delete it.
const CachePrefix = "report"

var (
	ErrMeasureNotFound = errors.New("measure not found")
	ErrInvalidParam    = errors.New("invalid measure parameter")
)

// MeasureDefinition defines a reporting measure with its SQL query. The SQL
// receives its Parameters positionally; hospital_id is passed as NULL when
// unscoped.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patients-by-status",
		Name:        "Patients by Status",
		Description: "Number of registered patients in each care status",
		SQL: `SELECT status, COUNT(*) AS total FROM patient
			WHERE ($1::uuid IS NULL OR hospital_id = $1::uuid)
			GROUP BY status ORDER BY total DESC, status`,
		Parameters: []string{ParamHospitalID},
	},
	{
		ID:          "patients-by-disease",
		Name:        "Patients by Disease",
		Description: "Number of patients recorded with each disease",
		SQL: `SELECT d.disease, COUNT(*) AS total
			FROM patient p, unnest(p.diseases) AS d(disease)
			WHERE ($1::uuid IS NULL OR p.hospital_id = $1::uuid)
			GROUP BY d.disease ORDER BY total DESC, d.disease`,
		Parameters: []string{ParamHospitalID},
	},
	{
		ID:          "patients-by-hospital",
		Name:        "Patients by Hospital",
		Description: "Registered and active patients per hospital",
		SQL: `SELECT h.id::text AS hospital_id, h.code, h.name,
				COUNT(p.id) AS total,
				COUNT(p.id) FILTER (WHERE p.status NOT IN ('recovered', 'deceased')) AS open_cases
			FROM hospital h LEFT JOIN patient p ON p.hospital_id = h.id
			WHERE ($1::uuid IS NULL OR h.id = $1::uuid)
			GROUP BY h.id, h.code, h.name ORDER BY total DESC, h.code`,
		Parameters: []string{ParamHospitalID},
	},
	{
		ID:          "overdue-follow-ups",
		Name:        "Overdue Follow-ups",
		Description: "Pending follow-ups scheduled before the reference date, per hospital",
		SQL: `SELECT COALESCE(h.code, 'UNASSIGNED') AS hospital_code,
				COUNT(*) AS overdue,
				MIN(f.scheduled_date)::text AS oldest
			FROM patient_follow_up f
			JOIN patient p ON p.id = f.patient_id
			LEFT JOIN hospital h ON h.id = p.hospital_id
			WHERE f.completed_at IS NULL AND f.scheduled_date < $2::date
				AND ($1::uuid IS NULL OR p.hospital_id = $1::uuid)
			GROUP BY h.code ORDER BY overdue DESC`,
		Parameters: []string{ParamHospitalID, ParamAsOf},
	},
	{
		ID:          "asha-workload",
		Name:        "ASHA Workload",
		Description: "Assigned patients and pending follow-ups for each ASHA",
		SQL: `SELECT s.id::text AS asha_id, s.name,
				COUNT(DISTINCT p.id) AS patients,
				COUNT(f.id) FILTER (WHERE f.completed_at IS NULL) AS pending_follow_ups
			FROM staff_user s
			LEFT JOIN patient p ON p.asha_id = s.id
			LEFT JOIN patient_follow_up f ON f.patient_id = p.id
			WHERE s.role = 'asha' AND s.active
				AND ($1::uuid IS NULL OR s.hospital_id = $1::uuid)
			GROUP BY s.id, s.name ORDER BY patients DESC, s.name`,
		Parameters: []string{ParamHospitalID},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

type queryFunc func(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)

// Service evaluates measures against the request's tenant schema and caches
// the results.
type Service struct {
	query   queryFunc
	cache   cache.Cache
	ttl     time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(pool *pgxpool.Pool, c cache.Cache, ttl time.Duration, metrics *telemetry.Metrics) *Service {
	s := &Service{cache: c, ttl: ttl, metrics: metrics, now: time.Now}
	s.query = func(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
		return executeSQL(ctx, db.Conn(ctx, pool), sql, args...)
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	return s
}

// Evaluate runs measure id with params. Non-admin actors are always limited to
// their own hospital.
func (s *Service) Evaluate(ctx context.Context, id string, params map[string]string) (*MeasureReport, error) {
	measure := FindMeasure(id)
	if measure == nil {
		return nil, ErrMeasureNotFound
	}

	resolved, args, err := s.resolveParams(ctx, measure, params)
	if err != nil {
		return nil, err
	}

	key := cache.TenantKey(db.TenantFromContext(ctx), CachePrefix, measure.ID,
		resolved[ParamHospitalID], resolved[ParamAsOf])
	report, hit, err := cache.Remember(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*MeasureReport, error) {
		results, err := s.query(ctx, measure.SQL, args...)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", measure.ID, err)
		}
		return &MeasureReport{
			MeasureID:   measure.ID,
			MeasureName: measure.Name,
			GeneratedAt: s.now().UTC(),
			Results:     results,
			Parameters:  resolved,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CacheLookup(hit)
	return report, nil
}

func (s *Service) resolveParams(ctx context.Context, m *MeasureDefinition, params map[string]string) (map[string]string, []interface{}, error) {
	actor := auth.ActorFromContext(ctx)
	resolved := map[string]string{}
	args := make([]interface{}, 0, len(m.Parameters))

	for _, p := range m.Parameters {
		switch p {
		case ParamHospitalID:
			hospitalID := params[ParamHospitalID]
			if !actor.IsAdmin() {
				hospitalID = actor.HospitalID
				if hospitalID == "" {
					return nil, nil, fmt.Errorf("%w: no hospital assigned to caller", ErrInvalidParam)
				}
			}
			if hospitalID == "" {
				args = append(args, nil)
				continue
			}
			if _, err := uuid.Parse(hospitalID); err != nil {
				return nil, nil, fmt.Errorf("%w: hospital_id must be a UUID", ErrInvalidParam)
			}
			resolved[ParamHospitalID] = hospitalID
			args = append(args, hospitalID)
		case ParamAsOf:
			asOf := s.now().Format("2006-01-02")
			if v := params[ParamAsOf]; v != "" {
				t, err := time.Parse("2006-01-02", v)
				if err != nil {
					return nil, nil, fmt.Errorf("%w: as_of must be YYYY-MM-DD", ErrInvalidParam)
				}
				asOf = t.Format("2006-01-02")
			}
			resolved[ParamAsOf] = asOf
			args = append(args, asOf)
		default:
			args = append(args, params[p])
		}
	}
	return resolved, args, nil
}

// Invalidate drops every cached report of the tenant in ctx.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.DeletePrefix(ctx, cache.TenantKey(db.TenantFromContext(ctx), CachePrefix))
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func executeSQL(ctx context.Context, q db.Querier, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	params := map[string]string{
		ParamHospitalID: c.QueryParam(ParamHospitalID),
		ParamAsOf:       c.QueryParam(ParamAsOf),
	}
	report, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"), params)
	switch {
	case errors.Is(err, ErrMeasureNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	case errors.Is(err, ErrInvalidParam):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "report evaluation failed")
	}
	return c.JSON(http.StatusOK, report)
}

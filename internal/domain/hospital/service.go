package hospital

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/cache"
	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/export"
	"github.com/compass/compass/internal/platform/telemetry"
)

var (
	ErrNotFound      = errors.New("hospital not found")
	ErrValidation    = errors.New("invalid hospital")
	ErrDuplicateCode = errors.New("hospital code already exists")
	ErrInUse         = errors.New("hospital has assigned patients or staff")
)

const optionsTTL = 10 * time.Minute

type Service struct {
	repo    Repository
	cache   cache.Cache
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(repo Repository, c cache.Cache, metrics *telemetry.Metrics) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{repo: repo, cache: c, metrics: metrics, now: time.Now}
}

func optionsKey(ctx context.Context) string {
	return cache.TenantKey(db.TenantFromContext(ctx), "hospital", "options")
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Delete(ctx, optionsKey(ctx))
}

func (s *Service) CreateHospital(ctx context.Context, h *Hospital) error {
	h.Normalize()
	if err := h.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	h.Active = true
	if err := s.repo.Create(ctx, h); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Hospital, error) {
	return s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) UpdateHospital(ctx context.Context, h *Hospital) error {
	if _, err := s.repo.GetByID(ctx, h.ID); err != nil {
		return err
	}
	h.Normalize()
	if err := h.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.Update(ctx, h); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteHospital removes a hospital that no patient or staff user is
// assigned to. Disabled staff count too, since re-enabling them would leave
// them without a hospital.
func (s *Service) DeleteHospital(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	n, err := s.repo.CountPatients(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d patient(s)", ErrInUse, n)
	}
	n, err = s.repo.CountStaff(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d staff user(s)", ErrInUse, n)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) SearchHospitals(ctx context.Context, params map[string]string, limit, offset int) ([]*Hospital, int, error) {
	if t, ok := params["type"]; ok {
		params["type"] = strings.ToUpper(t)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Options returns the active hospitals for dropdowns, cached per tenant.
func (s *Service) Options(ctx context.Context) ([]Option, error) {
	opts, hit, err := cache.Remember(ctx, s.cache, optionsKey(ctx), optionsTTL, s.repo.Options)
	if err != nil {
		return nil, err
	}
	s.metrics.CacheLookup(hit)
	return opts, nil
}

var exportColumns = []export.Column{
	{Key: "code", Header: "Code", Width: 14},
	{Key: "name", Header: "Name", Width: 32},
	{Key: "type", Header: "Type", Width: 12},
	{Key: "block", Header: "Block", Width: 16},
	{Key: "district", Header: "District", Width: 16},
	{Key: "state", Header: "State", Width: 16},
	{Key: "pincode", Header: "Pincode", Width: 10},
	{Key: "phone", Header: "Phone", Width: 14},
	{Key: "in_charge_name", Header: "In-charge", Width: 22},
	{Key: "bed_count", Header: "Beds", Width: 8},
	{Key: "active", Header: "Active", Width: 8},
}

// Export writes every hospital matching params to w.
func (s *Service) Export(ctx context.Context, params map[string]string, format export.Format, w io.Writer) error {
	hospitals, _, err := s.SearchHospitals(ctx, params, 0, 0)
	if err != nil {
		return err
	}
	table := &export.Table{
		Title:       "Hospitals",
		Columns:     exportColumns,
		GeneratedAt: s.now(),
	}
	for _, h := range hospitals {
		table.Rows = append(table.Rows, []string{
			h.Code, h.Name, h.Type, h.Block, h.District, h.State, h.Pincode,
			h.Phone, h.InChargeName, strconv.Itoa(h.BedCount), yesNo(h.Active),
		})
	}
	if err := export.Write(w, format, table); err != nil {
		return err
	}
	s.metrics.Exported("hospitals", string(format))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

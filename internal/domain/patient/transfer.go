package patient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/domain/hospital"
	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/export"
)

// MaxImportRows caps the data rows accepted in one upload.
const MaxImportRows = 5000

// ImportError describes why one sheet row was not imported.
type ImportError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportReport summarises an import. In a dry run Created counts the rows
// that would have been created.
type ImportReport struct {
	Total      int           `json:"total"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	DryRun     bool          `json:"dry_run"`
	Errors     []ImportError `json:"errors"`
}

func (r *ImportReport) fail(row int, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ImportError{Row: row, Message: err.Error()})
}

// ImportPatients registers one patient per data row of a CSV or XLSX upload.
// Rows are checked for duplicates against stored patients and against the
// rows above them in the same file. With dryRun nothing is written.
func (s *Service) ImportPatients(ctx context.Context, r io.Reader, format export.Format, dryRun bool) (*ImportReport, error) {
	records, err := export.Read(r, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(records) > MaxImportRows {
		return nil, fmt.Errorf("%w: file has %d rows, the limit is %d", ErrValidation, len(records), MaxImportRows)
	}

	actor := auth.ActorFromContext(ctx)
	report := &ImportReport{Total: len(records), DryRun: dryRun, Errors: []ImportError{}}
	hospitalIDs := map[string]uuid.UUID{}
	var accepted []*Patient
	rowOf := map[uuid.UUID]int{}

	for _, rec := range records {
		p, err := s.patientFromRecord(ctx, rec, hospitalIDs)
		if err == nil {
			err = applyActor(actor, p)
		}
		if err == nil {
			err = s.prepare(p)
		}
		if err != nil {
			report.fail(rec.Row, err)
			continue
		}

		candidates, err := s.duplicates(ctx, p, nil)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, FindDuplicates(p.Name, p.Phone, accepted, nil)...)
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		if len(candidates) > 0 {
			report.Duplicates++
			report.Errors = append(report.Errors, ImportError{
				Row:     rec.Row,
				Message: duplicateMessage(candidates[0], rowOf),
			})
			continue
		}

		p.ID = uuid.New()
		if !dryRun {
			if err := s.insert(ctx, p); err != nil {
				report.fail(rec.Row, err)
				continue
			}
			s.metrics.PatientRegistered("import")
		}
		accepted = append(accepted, p)
		rowOf[p.ID] = rec.Row
		report.Created++
	}

	if !dryRun {
		s.metrics.ImportRows("created", report.Created)
		s.metrics.ImportRows("duplicate", report.Duplicates)
		s.metrics.ImportRows("failed", report.Failed)
		if report.Created > 0 {
			s.invalidateReports(ctx)
		}
	}
	s.logger.Info().
		Int("total", report.Total).
		Int("created", report.Created).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed).
		Bool("dry_run", dryRun).
		Msg("patient import finished")
	return report, nil
}

func duplicateMessage(c Candidate, rowOf map[uuid.UUID]int) string {
	if c.Restricted {
		return "possible duplicate of a patient registered outside your scope"
	}
	if row, ok := rowOf[c.Patient.ID]; ok {
		return fmt.Sprintf("possible duplicate of row %d (%s)", row, c.Patient.Name)
	}
	return fmt.Sprintf("possible duplicate of %s (%s)", c.Patient.RegistrationNo, c.Patient.Name)
}

func (s *Service) patientFromRecord(ctx context.Context, rec export.Record, hospitalIDs map[string]uuid.UUID) (*Patient, error) {
	p := &Patient{
		Name:           rec.Get("name", "patient_name"),
		Gender:         rec.Get("gender", "sex"),
		Phone:          rec.Get("phone", "mobile", "phone_number"),
		AlternatePhone: rec.Get("alternate_phone", "alt_phone"),
		Address:        rec.Get("address"),
		Village:        rec.Get("village"),
		Block:          rec.Get("block"),
		District:       rec.Get("district"),
		Diseases:       SplitDiseases(rec.Get("diseases", "disease")),
		Status:         rec.Get("status"),
		Notes:          rec.Get("notes"),
	}
	if v := rec.Get("dob", "date_of_birth"); v != "" {
		t, err := export.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("%w: date_of_birth: %v", ErrValidation, err)
		}
		p.DateOfBirth = &t
	}
	if v := rec.Get("age"); v != "" {
		// Spreadsheets often store whole numbers as "42.0".
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: age %q is not a number", ErrValidation, v)
		}
		age := int(f)
		p.Age = &age
	}
	if code := strings.ToUpper(rec.Get("hospital_code", "hospital")); code != "" {
		id, err := s.hospitalByCode(ctx, code, hospitalIDs)
		if err != nil {
			return nil, err
		}
		p.HospitalID = &id
	}
	return p, nil
}

func (s *Service) hospitalByCode(ctx context.Context, code string, known map[string]uuid.UUID) (uuid.UUID, error) {
	if id, ok := known[code]; ok {
		return id, nil
	}
	if s.hospitals == nil {
		return uuid.Nil, fmt.Errorf("%w: hospital codes cannot be resolved", ErrValidation)
	}
	h, err := s.hospitals.GetByCode(ctx, code)
	if errors.Is(err, hospital.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("%w: unknown hospital code %q", ErrValidation, code)
	}
	if err != nil {
		return uuid.Nil, err
	}
	known[code] = h.ID
	return h.ID, nil
}

var exportColumns = []export.Column{
	{Key: "registration_no", Header: "Registration No", Width: 18},
	{Key: "name", Header: "Name", Width: 26},
	{Key: "gender", Header: "Gender", Width: 9},
	{Key: "age", Header: "Age", Width: 6},
	{Key: "date_of_birth", Header: "Date of Birth", Width: 13},
	{Key: "phone", Header: "Phone", Width: 13},
	{Key: "alternate_phone", Header: "Alternate Phone", Width: 13},
	{Key: "village", Header: "Village", Width: 16},
	{Key: "block", Header: "Block", Width: 14},
	{Key: "district", Header: "District", Width: 14},
	{Key: "diseases", Header: "Diseases", Width: 28},
	{Key: "hospital_code", Header: "Hospital Code", Width: 14},
	{Key: "status", Header: "Status", Width: 16},
	{Key: "next_follow_up", Header: "Next Follow-up", Width: 14},
	{Key: "registered", Header: "Registered", Width: 13},
}

// hospitalCodes maps hospital ids to codes for export rows.
func (s *Service) hospitalCodes(ctx context.Context) map[uuid.UUID]string {
	codes := map[uuid.UUID]string{}
	if s.hospitals == nil {
		return codes
	}
	opts, err := s.hospitals.Options(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load hospital codes for export")
		return codes
	}
	for _, o := range opts {
		codes[o.ID] = o.Code
	}
	return codes
}

// Export writes the caller's patients matching f to w.
func (s *Service) Export(ctx context.Context, f Filter, format export.Format, w io.Writer) error {
	patients, _, err := s.ListPatients(ctx, f, 0, 0)
	if err != nil {
		return err
	}
	codes := s.hospitalCodes(ctx)

	table := &export.Table{
		Title:       "Patients",
		Columns:     exportColumns,
		GeneratedAt: s.now(),
	}
	for _, p := range patients {
		age := ""
		if p.Age != nil {
			age = strconv.Itoa(*p.Age)
		}
		hospitalCode := ""
		if p.HospitalID != nil {
			hospitalCode = codes[*p.HospitalID]
		}
		created := p.CreatedAt
		table.Rows = append(table.Rows, []string{
			p.RegistrationNo, p.Name, p.Gender, age, export.FormatDate(p.DateOfBirth),
			p.Phone, p.AlternatePhone, p.Village, p.Block, p.District,
			strings.Join(p.Diseases, "; "), hospitalCode, p.Status,
			export.FormatDate(p.NextFollowUp), export.FormatDate(&created),
		})
	}
	if err := export.Write(w, format, table); err != nil {
		return err
	}
	s.metrics.Exported("patients", string(format))
	return nil
}

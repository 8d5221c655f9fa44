package patient

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/middleware"
)

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

const (
	StatusActive         = "active"
	StatusReferred       = "referred"
	StatusUnderTreatment = "under_treatment"
	StatusRecovered      = "recovered"
	StatusLostToFollowUp = "lost_to_follow_up"
	StatusDeceased       = "deceased"
)

// MaxAge is the oldest age accepted on registration.
const MaxAge = 130

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

// Character limits of the patient table's VARCHAR columns.
const (
	maxNameLength  = 255
	maxPlaceLength = 128
)

var genders = map[string]string{
	"male":   GenderMale,
	"m":      GenderMale,
	"female": GenderFemale,
	"f":      GenderFemale,
	"other":  GenderOther,
	"o":      GenderOther,
}

var statuses = map[string]bool{
	StatusActive:         true,
	StatusReferred:       true,
	StatusUnderTreatment: true,
	StatusRecovered:      true,
	StatusLostToFollowUp: true,
	StatusDeceased:       true,
}

// ValidStatus reports whether s is a known care status.
func ValidStatus(s string) bool {
	return statuses[s]
}

// Patient maps to the patient table. Age is derived from DateOfBirth and
// never stored; on input it stands in for an unknown date of birth.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RegistrationNo string     `db:"registration_no" json:"registration_no"`
	Name           string     `db:"name" json:"name"`
	Gender         string     `db:"gender" json:"gender"`
	DateOfBirth    *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	DOBEstimated   bool       `db:"dob_estimated" json:"dob_estimated"`
	Age            *int       `db:"-" json:"age,omitempty"`
	Phone          string     `db:"phone" json:"phone"`
	AlternatePhone string     `db:"alternate_phone" json:"alternate_phone,omitempty"`
	Address        string     `db:"address" json:"address,omitempty"`
	Village        string     `db:"village" json:"village,omitempty"`
	Block          string     `db:"block" json:"block,omitempty"`
	District       string     `db:"district" json:"district,omitempty"`
	Diseases       []string   `db:"diseases" json:"diseases"`
	Notes          string     `db:"notes" json:"notes,omitempty"`
	HospitalID     *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	ASHAID         *uuid.UUID `db:"asha_id" json:"asha_id,omitempty"`
	DoctorID       *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	NextFollowUp   *time.Time `db:"next_follow_up" json:"next_follow_up,omitempty"`
	RegisteredBy   *uuid.UUID `db:"registered_by" json:"registered_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FollowUp maps to the patient_follow_up table.
type FollowUp struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	ScheduledDate time.Time  `db:"scheduled_date" json:"scheduled_date"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Outcome       string     `db:"outcome" json:"outcome,omitempty"`
	Notes         string     `db:"notes" json:"notes,omitempty"`
	RecordedBy    *uuid.UUID `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Pending reports whether the follow-up has not been completed yet.
func (f *FollowUp) Pending() bool {
	return f.CompletedAt == nil
}

// DueFollowUp is a pending follow-up joined with the patient it belongs to.
type DueFollowUp struct {
	FollowUp
	PatientName    string     `json:"patient_name"`
	RegistrationNo string     `json:"registration_no"`
	Village        string     `json:"village,omitempty"`
	Phone          string     `json:"phone"`
	HospitalID     *uuid.UUID `json:"hospital_id,omitempty"`
	ASHAID         *uuid.UUID `json:"asha_id,omitempty"`
}

// Summary is the part of a patient shown as a duplicate candidate.
type Summary struct {
	ID             uuid.UUID  `json:"id"`
	RegistrationNo string     `json:"registration_no"`
	Name           string     `json:"name"`
	Village        string     `json:"village,omitempty"`
	HospitalID     *uuid.UUID `json:"hospital_id,omitempty"`
}

func (p *Patient) Summary() Summary {
	return Summary{
		ID:             p.ID,
		RegistrationNo: p.RegistrationNo,
		Name:           p.Name,
		Village:        p.Village,
		HospitalID:     p.HospitalID,
	}
}

// RegistrationNumber formats the registration number of the seq-th patient
// registered in year.
func RegistrationNumber(year int, seq int64) string {
	return fmt.Sprintf("CMP-%d-%06d", year, seq)
}

// NormalizeDiseases lower-cases, trims and de-duplicates disease names,
// keeping their first-seen order.
func NormalizeDiseases(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, d := range in {
		d = strings.Join(strings.Fields(strings.ToLower(d)), " ")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SplitDiseases splits a "diabetes; hypertension" or "diabetes, hypertension"
// cell into disease names.
func SplitDiseases(s string) []string {
	return NormalizeDiseases(strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ','
	}))
}

func (p *Patient) normalize() {
	p.Name = strings.Join(strings.Fields(middleware.SanitizeString(p.Name)), " ")
	if g, ok := genders[strings.ToLower(strings.TrimSpace(p.Gender))]; ok {
		p.Gender = g
	} else {
		p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	}
	p.Phone = NormalizePhone(p.Phone)
	p.AlternatePhone = NormalizePhone(p.AlternatePhone)
	p.Address = middleware.SanitizeString(p.Address)
	p.Village = middleware.SanitizeString(p.Village)
	p.Block = middleware.SanitizeString(p.Block)
	p.District = middleware.SanitizeString(p.District)
	p.Notes = middleware.SanitizeString(p.Notes)
	p.Diseases = NormalizeDiseases(p.Diseases)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.DateOfBirth != nil {
		d := dateOf(*p.DateOfBirth)
		p.DateOfBirth = &d
	}
}

// resolveDOB fills DateOfBirth from Age when only the age is known.
func (p *Patient) resolveDOB(now time.Time) error {
	if p.DateOfBirth != nil {
		return nil
	}
	if p.Age == nil {
		return fmt.Errorf("date_of_birth or age is required")
	}
	if *p.Age < 0 || *p.Age > MaxAge {
		return fmt.Errorf("age must be between 0 and %d", MaxAge)
	}
	dob := EstimatedDOB(*p.Age, now)
	p.DateOfBirth = &dob
	p.DOBEstimated = true
	return nil
}

func (p *Patient) validate(now time.Time) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("name is required")
	case genders[p.Gender] == "":
		return fmt.Errorf("gender must be one of male, female, other")
	case !phonePattern.MatchString(p.Phone):
		return fmt.Errorf("phone must have 10 digits")
	case p.AlternatePhone != "" && !phonePattern.MatchString(p.AlternatePhone):
		return fmt.Errorf("alternate_phone must have 10 digits")
	case !ValidStatus(p.Status):
		return fmt.Errorf("unknown status %q", p.Status)
	case p.DateOfBirth == nil:
		return fmt.Errorf("date_of_birth or age is required")
	case p.DateOfBirth.After(dateOf(now)):
		return fmt.Errorf("date_of_birth is in the future")
	}
	if age := AgeOn(*p.DateOfBirth, now); age > MaxAge {
		return fmt.Errorf("age must be between 0 and %d", MaxAge)
	}
	return p.checkLengths()
}

func (p *Patient) checkLengths() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"name", p.Name, maxNameLength},
		{"village", p.Village, maxPlaceLength},
		{"block", p.Block, maxPlaceLength},
		{"district", p.District, maxPlaceLength},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return fmt.Errorf("%s must be at most %d characters", f.name, f.max)
		}
	}
	return nil
}

// deriveAge sets Age from DateOfBirth as of now.
func (p *Patient) deriveAge(now time.Time) {
	if p.DateOfBirth == nil {
		p.Age = nil
		return
	}
	age := AgeOn(*p.DateOfBirth, now)
	p.Age = &age
}

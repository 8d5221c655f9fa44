package hospital

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/middleware"
)

// Facility types.
const (
	TypePHC            = "PHC"
	TypeCHC            = "CHC"
	TypeSDH            = "SDH"
	TypeDH             = "DH"
	TypeMedicalCollege = "MEDICAL_COLLEGE"
	TypePrivate        = "PRIVATE"
)

var validTypes = map[string]bool{
	TypePHC: true, TypeCHC: true, TypeSDH: true, TypeDH: true,
	TypeMedicalCollege: true, TypePrivate: true,
}

var (
	pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	codePattern    = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,31}$`)
)

// Character limits of the hospital table's VARCHAR columns.
const (
	maxNameLength  = 255
	maxPlaceLength = 128
	maxPhoneLength = 20
)

// Hospital maps to the hospital table.
type Hospital struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	Type         string    `db:"type" json:"type"`
	Address      string    `db:"address" json:"address,omitempty"`
	Block        string    `db:"block" json:"block,omitempty"`
	District     string    `db:"district" json:"district,omitempty"`
	State        string    `db:"state" json:"state,omitempty"`
	Pincode      string    `db:"pincode" json:"pincode,omitempty"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	Email        string    `db:"email" json:"email,omitempty"`
	InChargeName string    `db:"in_charge_name" json:"in_charge_name,omitempty"`
	BedCount     int       `db:"bed_count" json:"bed_count"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Option is the compact form used by dropdowns.
type Option struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
	Type string    `json:"type"`
}

// Normalize trims every text field, upper-cases the code and defaults the
// type to PHC.
func (h *Hospital) Normalize() {
	h.Code = strings.ToUpper(strings.TrimSpace(h.Code))
	h.Name = middleware.SanitizeString(h.Name)
	h.Type = strings.ToUpper(strings.TrimSpace(h.Type))
	if h.Type == "" {
		h.Type = TypePHC
	}
	h.Address = middleware.SanitizeString(h.Address)
	h.Block = middleware.SanitizeString(h.Block)
	h.District = middleware.SanitizeString(h.District)
	h.State = middleware.SanitizeString(h.State)
	h.Pincode = strings.TrimSpace(h.Pincode)
	h.Phone = strings.TrimSpace(h.Phone)
	h.Email = strings.ToLower(strings.TrimSpace(h.Email))
	h.InChargeName = middleware.SanitizeString(h.InChargeName)
}

// Validate reports the first problem with a normalised hospital.
func (h *Hospital) Validate() error {
	switch {
	case h.Name == "":
		return fmt.Errorf("name is required")
	case h.Code == "":
		return fmt.Errorf("code is required")
	case !codePattern.MatchString(h.Code):
		return fmt.Errorf("code %q must be 2-32 letters, digits, '-' or '_'", h.Code)
	case !validTypes[h.Type]:
		return fmt.Errorf("type %q is not one of PHC, CHC, SDH, DH, MEDICAL_COLLEGE, PRIVATE", h.Type)
	case h.Pincode != "" && !pincodePattern.MatchString(h.Pincode):
		return fmt.Errorf("pincode must be 6 digits")
	case h.BedCount < 0:
		return fmt.Errorf("bed_count must not be negative")
	}
	if h.Email != "" {
		if _, err := mail.ParseAddress(h.Email); err != nil {
			return fmt.Errorf("email %q is invalid", h.Email)
		}
	}
	return h.checkLengths()
}

func (h *Hospital) checkLengths() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"name", h.Name, maxNameLength},
		{"block", h.Block, maxPlaceLength},
		{"district", h.District, maxPlaceLength},
		{"state", h.State, maxPlaceLength},
		{"phone", h.Phone, maxPhoneLength},
		{"email", h.Email, maxNameLength},
		{"in_charge_name", h.InChargeName, maxNameLength},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return fmt.Errorf("%s must be at most %d characters", f.name, f.max)
		}
	}
	return nil
}

func (h *Hospital) Option() Option {
	return Option{ID: h.ID, Code: h.Code, Name: h.Name, Type: h.Type}
}

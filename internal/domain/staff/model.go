package staff

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/auth"
)

var phonePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// maxTextLength is the character limit of the name and email columns.
const maxTextLength = 255

// StaffUser maps to the staff_user table.
type StaffUser struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	AuthUID      *string    `db:"auth_uid" json:"auth_uid,omitempty"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	Phone        string     `db:"phone" json:"phone,omitempty"`
	Role         string     `db:"role" json:"role"`
	HospitalID   *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	DeviceToken  string     `db:"device_token" json:"-"`
	Active       bool       `db:"active" json:"active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasDevice reports whether the user registered a device for push reminders.
func (s *StaffUser) HasDevice() bool {
	return s.DeviceToken != ""
}

// Actor is the identity the user acts with once logged in.
func (s *StaffUser) Actor() auth.Actor {
	a := auth.Actor{
		UserID:  s.ID.String(),
		StaffID: s.ID.String(),
		Roles:   []string{s.Role},
	}
	if s.AuthUID != nil && *s.AuthUID != "" {
		a.UserID = *s.AuthUID
	}
	if s.HospitalID != nil {
		a.HospitalID = s.HospitalID.String()
	}
	return a
}

// CreateRequest is the body of POST /staff.
type CreateRequest struct {
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Role       string     `json:"role"`
	HospitalID *uuid.UUID `json:"hospital_id"`
	Password   string     `json:"password"`
}

// UpdateRequest is the body of PUT /staff/:id. Role and active state have
// their own endpoints.
type UpdateRequest struct {
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	HospitalID *uuid.UUID `json:"hospital_id"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone reduces an Indian mobile number to its ten digits, dropping
// one "0" or "91" prefix. Anything else is left for validate to reject.
func normalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		d = d[2:]
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		d = d[1:]
	}
	return d
}

func (s *StaffUser) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = normalizeEmail(s.Email)
	s.Role = strings.ToLower(strings.TrimSpace(s.Role))
	if s.Phone != "" {
		s.Phone = normalizePhone(s.Phone)
	}
}

func (s *StaffUser) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("name is required")
	case s.Email == "":
		return fmt.Errorf("email is required")
	case !auth.ValidRole(s.Role):
		return fmt.Errorf("role %q is not one of admin, doctor, nurse, asha", s.Role)
	case s.Role != auth.RoleAdmin && s.HospitalID == nil:
		return fmt.Errorf("hospital_id is required for role %s", s.Role)
	case s.Phone != "" && !phonePattern.MatchString(s.Phone):
		return fmt.Errorf("phone must be a 10 digit mobile number")
	case utf8.RuneCountInString(s.Name) > maxTextLength:
		return fmt.Errorf("name must be at most %d characters", maxTextLength)
	case utf8.RuneCountInString(s.Email) > maxTextLength:
		return fmt.Errorf("email must be at most %d characters", maxTextLength)
	}
	if _, err := mail.ParseAddress(s.Email); err != nil {
		return fmt.Errorf("email %q is invalid", s.Email)
	}
	return nil
}

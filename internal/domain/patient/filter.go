package patient

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/export"
)

// Sort keys accepted by Filter.
const (
	SortName           = "name"
	SortAge            = "age"
	SortCreatedAt      = "created_at"
	SortNextFollowUp   = "next_follow_up"
	SortRegistrationNo = "registration_no"
)

var sortKeys = map[string]bool{
	SortName:           true,
	SortAge:            true,
	SortCreatedAt:      true,
	SortNextFollowUp:   true,
	SortRegistrationNo: true,
}

// Filter narrows and orders a patient list. Zero values match everything.
type Filter struct {
	Query          string
	Gender         string
	Status         string
	Diseases       []string
	HospitalID     *uuid.UUID
	ASHAID         *uuid.UUID
	MinAge         *int
	MaxAge         *int
	RegisteredFrom *time.Time
	RegisteredTo   *time.Time
	FollowUpDue    bool
	Sort           string
	Desc           bool
}

// ParseFilter reads a Filter from query parameters.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		Query:    strings.TrimSpace(q.Get("q")),
		Gender:   strings.ToLower(strings.TrimSpace(q.Get("gender"))),
		Status:   strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Diseases: SplitDiseases(q.Get("disease")),
		Sort:     strings.ToLower(strings.TrimSpace(q.Get("sort"))),
	}
	if g, ok := genders[f.Gender]; ok {
		f.Gender = g
	} else if f.Gender != "" {
		return f, fmt.Errorf("unknown gender %q", f.Gender)
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	if f.Sort != "" && !sortKeys[f.Sort] {
		return f, fmt.Errorf("cannot sort by %q", f.Sort)
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		f.Desc = true
	default:
		return f, fmt.Errorf("order must be asc or desc")
	}

	var err error
	if f.HospitalID, err = parseUUIDParam(q, "hospital_id"); err != nil {
		return f, err
	}
	if f.ASHAID, err = parseUUIDParam(q, "asha_id"); err != nil {
		return f, err
	}
	if f.MinAge, err = parseIntParam(q, "min_age"); err != nil {
		return f, err
	}
	if f.MaxAge, err = parseIntParam(q, "max_age"); err != nil {
		return f, err
	}
	if f.RegisteredFrom, err = parseDateParam(q, "registered_from"); err != nil {
		return f, err
	}
	if f.RegisteredTo, err = parseDateParam(q, "registered_to"); err != nil {
		return f, err
	}
	if v := q.Get("follow_up_due"); v != "" {
		if f.FollowUpDue, err = strconv.ParseBool(v); err != nil {
			return f, fmt.Errorf("follow_up_due must be true or false")
		}
	}
	return f, nil
}

func parseUUIDParam(q url.Values, key string) (*uuid.UUID, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a UUID", key)
	}
	return &id, nil
}

func parseIntParam(q url.Values, key string) (*int, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return &n, nil
}

func parseDateParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := export.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", key, err)
	}
	d := dateOf(t)
	return &d, nil
}

// Match reports whether p passes every criterion of f. Ages and due dates are
// evaluated as of now.
func (f *Filter) Match(p *Patient, now time.Time) bool {
	if f.Query != "" && !matchQuery(p, f.Query) {
		return false
	}
	if f.Gender != "" && p.Gender != f.Gender {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if len(f.Diseases) > 0 && !hasAnyDisease(p, f.Diseases) {
		return false
	}
	if f.HospitalID != nil && (p.HospitalID == nil || *p.HospitalID != *f.HospitalID) {
		return false
	}
	if f.ASHAID != nil && (p.ASHAID == nil || *p.ASHAID != *f.ASHAID) {
		return false
	}
	if f.MinAge != nil || f.MaxAge != nil {
		if p.DateOfBirth == nil {
			return false
		}
		age := AgeOn(*p.DateOfBirth, now)
		if f.MinAge != nil && age < *f.MinAge {
			return false
		}
		if f.MaxAge != nil && age > *f.MaxAge {
			return false
		}
	}
	if f.RegisteredFrom != nil && p.CreatedAt.Before(*f.RegisteredFrom) {
		return false
	}
	if f.RegisteredTo != nil && !p.CreatedAt.Before(f.RegisteredTo.AddDate(0, 0, 1)) {
		return false
	}
	if f.FollowUpDue && (p.NextFollowUp == nil || p.NextFollowUp.After(dateOf(now))) {
		return false
	}
	return true
}

func matchQuery(p *Patient, q string) bool {
	lq := strings.ToLower(q)
	for _, field := range []string{p.Name, p.RegistrationNo, p.Village} {
		if strings.Contains(strings.ToLower(field), lq) {
			return true
		}
	}
	digits := NormalizePhone(q)
	if len(digits) < 3 {
		return false
	}
	return strings.Contains(p.Phone, digits) || (p.AlternatePhone != "" && strings.Contains(p.AlternatePhone, digits))
}

func hasAnyDisease(p *Patient, diseases []string) bool {
	for _, want := range diseases {
		for _, d := range p.Diseases {
			if d == want {
				return true
			}
		}
	}
	return false
}

// Apply returns the patients that match f, ordered by f's sort key. The sort
// is stable and patients without a value for the key come last in either
// direction. Without a sort key the newest registrations come first.
func (f *Filter) Apply(patients []*Patient, now time.Time) []*Patient {
	out := make([]*Patient, 0, len(patients))
	for _, p := range patients {
		if f.Match(p, now) {
			out = append(out, p)
		}
	}

	key, desc := f.Sort, f.Desc
	if key == "" {
		key, desc = SortCreatedAt, true
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], key, desc)
	})
	return out
}

func less(a, b *Patient, key string, desc bool) bool {
	var c int
	switch key {
	case SortName:
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case SortRegistrationNo:
		c = strings.Compare(a.RegistrationNo, b.RegistrationNo)
	case SortCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	case SortAge:
		// Older patients have earlier birth dates.
		if a.DateOfBirth == nil || b.DateOfBirth == nil {
			return nilsLast(a.DateOfBirth, b.DateOfBirth)
		}
		c = b.DateOfBirth.Compare(*a.DateOfBirth)
	case SortNextFollowUp:
		if a.NextFollowUp == nil || b.NextFollowUp == nil {
			return nilsLast(a.NextFollowUp, b.NextFollowUp)
		}
		c = a.NextFollowUp.Compare(*b.NextFollowUp)
	}
	if desc {
		return c > 0
	}
	return c < 0
}

func nilsLast(a, b *time.Time) bool {
	return a != nil && b == nil
}

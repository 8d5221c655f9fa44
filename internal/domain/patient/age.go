package patient

import (
	"strings"
	"time"
)

// dateOf truncates t to midnight UTC of its calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AgeOn returns the age in completed years of someone born on dob, as of now.
// A birth date after now yields 0.
func AgeOn(dob, now time.Time) int {
	if now.Before(dob) {
		return 0
	}
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// EstimatedDOB is the date of birth recorded when only the age is known:
// 1 January of the birth year.
func EstimatedDOB(age int, now time.Time) time.Time {
	return time.Date(now.Year()-age, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// NormalizePhone strips everything but digits and then a single trunk "0" or
// "91" country prefix, so "+91 98765-43210" and "098765 43210" both become
// "9876543210". Longer or shorter numbers are returned whole and fail the
// ten digit check.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		d = d[2:]
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		d = d[1:]
	}
	return d
}

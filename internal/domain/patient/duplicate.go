package patient

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// SimilarityThreshold is the minimum Levenshtein similarity for two names on
// the same phone number to be reported as a possible duplicate.
const SimilarityThreshold = 0.85

// Duplicate match reasons.
const (
	ReasonSameName    = "same_name"
	ReasonNameSubset  = "name_subset"
	ReasonSimilarName = "similar_name"
)

// Candidate is an existing patient that may be the same person as the one
// being registered.
type Candidate struct {
	Patient *Summary `json:"patient,omitempty"`
	Score   float64  `json:"score"`
	Reason  string   `json:"reason"`
	// Restricted marks a match outside the caller's scope. Patient is nil.
	Restricted bool `json:"restricted,omitempty"`
}

// redact hides everything but the fact and strength of the match.
func (c Candidate) redact() Candidate {
	return Candidate{Score: c.Score, Reason: c.Reason, Restricted: true}
}

// DuplicateError is returned when registration would create a likely
// duplicate. It unwraps to ErrDuplicate.
type DuplicateError struct {
	Candidates []Candidate
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("possible duplicate patient: %d existing record(s) share this phone and a similar name", len(e.Candidates))
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// normalizeName lower-cases a name and reduces it to letter/digit tokens
// separated by single spaces.
func normalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// tokenSubset reports whether every token of the shorter name occurs in the
// longer one.
func tokenSubset(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	set := make(map[string]bool, len(tb))
	for _, t := range tb {
		set[t] = true
	}
	for _, t := range ta {
		if !set[t] {
			return false
		}
	}
	return true
}

// similarity is 1 minus the edit distance over the longer name's length.
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// MatchName compares two patient names. It returns the similarity score and
// the reason they match, or an empty reason when they do not.
func MatchName(a, b string) (float64, string) {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0, ""
	}
	if na == nb {
		return 1, ReasonSameName
	}
	score := similarity(na, nb)
	if tokenSubset(na, nb) {
		return score, ReasonNameSubset
	}
	if score >= SimilarityThreshold {
		return score, ReasonSimilarName
	}
	return score, ""
}

// FindDuplicates returns the patients in existing that share phone with the
// new record and whose name matches name, best match first. The patient with
// id exclude is skipped.
func FindDuplicates(name, phone string, existing []*Patient, exclude *uuid.UUID) []Candidate {
	phone = NormalizePhone(phone)
	if phone == "" {
		return nil
	}
	var out []Candidate
	for _, p := range existing {
		if exclude != nil && p.ID == *exclude {
			continue
		}
		if p.Phone != phone && p.AlternatePhone != phone {
			continue
		}
		score, reason := MatchName(name, p.Name)
		if reason == "" {
			continue
		}
		summary := p.Summary()
		out = append(out, Candidate{Patient: &summary, Score: score, Reason: reason})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

package export

import (
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Record is one data row of an uploaded sheet keyed by normalised header.
type Record struct {
	// Row is the 1-based row number as the user sees it in the sheet.
	Row    int
	Values map[string]string
}

// Get returns the trimmed value of the first key present.
func (r Record) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := r.Values[NormalizeHeader(k)]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// NormalizeHeader lower-cases a header and collapses runs of spaces,
// underscores and dashes to a single underscore: "Alternate Phone" and
// "alternate-phone" both become "alternate_phone".
func NormalizeHeader(h string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(strings.ToLower(h)) {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			sep = true
			continue
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(r)
	}
	return b.String()
}

// Read parses a CSV or XLSX upload. The first row is the header; blank rows
// are skipped.
func Read(r io.Reader, format Format) ([]Record, error) {
	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("cannot import %s files", format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", format, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = NormalizeHeader(h)
	}

	var records []Record
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		values := make(map[string]string, len(header))
		for j, key := range header {
			if key == "" {
				continue
			}
			values[key] = cell(row, j)
		}
		records = append(records, Record{Row: i + 2, Values: values})
	}
	return records, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Package export renders tabular data as CSV, Excel or PDF downloads and reads
// CSV/Excel uploads back into header-keyed records.
package export

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts a format name case-insensitively. "excel" and "xls" are
// treated as xlsx; an empty string means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "xls", "excel":
		return FormatXLSX, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// FormatFromFilename picks the import format from an upload's extension.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported file type %q: upload a .csv or .xlsx file", filepath.Ext(name))
}

func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

// Filename builds an attachment name such as patients-2026-10-19.xlsx.
func (f Format) Filename(base string, now time.Time) string {
	return fmt.Sprintf("%s-%s%s", base, now.Format("2006-01-02"), f.Extension())
}

// Column describes one exported column. Width is in characters and drives the
// Excel column width and the relative PDF column width.
type Column struct {
	Key    string
	Header string
	Width  float64
}

type Table struct {
	Title       string
	Columns     []Column
	Rows        [][]string
	GeneratedAt time.Time
}

const defaultColumnWidth = 15

func (c Column) width() float64 {
	if c.Width <= 0 {
		return defaultColumnWidth
	}
	return c.Width
}

func (t *Table) headers() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Header
	}
	return out
}

// cell returns row[i], tolerating short rows.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// Write renders the table in the requested format.
func Write(w io.Writer, format Format, t *Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("export %q: no columns", t.Title)
	}
	if t.GeneratedAt.IsZero() {
		t.GeneratedAt = time.Now()
	}
	switch format {
	case FormatCSV:
		return writeCSV(w, t)
	case FormatXLSX:
		return writeXLSX(w, t)
	case FormatPDF:
		return writePDF(w, t)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

const displayDateLayout = "02-01-2006"

var dateLayouts = []string{"2006-01-02", displayDateLayout, "02/01/2006", "2006/01/02", time.RFC3339}

// FormatDate renders a date the way Indian registers write it (DD-MM-YYYY).
// Nil and zero dates render as an empty string.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(displayDateLayout)
}

// ParseDate accepts ISO dates and the day-first forms found in spreadsheets.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q (use YYYY-MM-DD or DD-MM-YYYY)", s)
}

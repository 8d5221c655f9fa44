package export

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
)

// utf8BOM makes Excel open the file as UTF-8 instead of the system code page,
// which would garble Devanagari names.
const utf8BOM = "\xEF\xBB\xBF"

// formulaPrefixes make a spreadsheet treat a CSV cell as a formula.
const formulaPrefixes = "=+-@\t\r"

// escapeFormula prefixes cells that would be evaluated with a quote, which
// spreadsheets show as text.
func escapeFormula(v string) string {
	if v != "" && strings.IndexByte(formulaPrefixes, v[0]) >= 0 {
		return "'" + v
	}
	return v
}

func writeCSV(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(bw)
	if err := cw.Write(t.headers()); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range t.Columns {
			record[i] = escapeFormula(cell(row, i))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

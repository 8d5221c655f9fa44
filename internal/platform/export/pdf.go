package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin    = 10.0
	pdfRowHeight = 6.0
	pdfFontSize  = 8.0
)

// writePDF lays the table out on landscape A4. The title and column header
// repeat on every page and the footer carries "Page n/N".
func writePDF(w io.Writer, t *Table) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	widths := columnWidths(t.Columns, pageW-2*pdfMargin)
	headers := t.headers()
	generated := t.GeneratedAt.Format("02-01-2006 15:04")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(t.Title), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(0, 8, tr("Generated "+generated), "", 1, "R", false, 0, "")

		pdf.SetFont("Helvetica", "B", pdfFontSize)
		pdf.SetFillColor(221, 235, 247)
		for i, h := range headers {
			pdf.CellFormat(widths[i], pdfRowHeight+1, fitCell(pdf, tr, h, widths[i]), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "", pdfFontSize)
	for r, row := range t.Rows {
		// Zebra striping keeps wide rows readable on paper.
		fill := r%2 == 1
		pdf.SetFillColor(245, 245, 245)
		for i := range t.Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, fitCell(pdf, tr, cell(row, i), widths[i]), "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
		// The header func changes the font on page breaks.
		pdf.SetFont("Helvetica", "", pdfFontSize)
	}
	if len(t.Rows) == 0 {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 10, "No records match the current filters.", "", 1, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

// columnWidths scales the configured character widths to fill avail mm.
func columnWidths(cols []Column, avail float64) []float64 {
	total := 0.0
	for _, c := range cols {
		total += c.width()
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = avail * c.width() / total
	}
	return out
}

// fitCell encodes s with tr for the core fonts, shortening it with an
// ellipsis until it fits in a cell of width w. Runes are dropped from the
// UTF-8 text before encoding, since tr's output is single-byte cp1252.
func fitCell(pdf *fpdf.Fpdf, tr func(string) string, s string, w float64) string {
	const padding = 2.0
	if out := tr(s); pdf.GetStringWidth(out) <= w-padding {
		return out
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := tr(string(runes) + "...")
		if pdf.GetStringWidth(candidate) <= w-padding {
			return candidate
		}
	}
	return ""
}

package export

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTable() *Table {
	return &Table{
		Title: "Patients",
		Columns: []Column{
			{Key: "registration_no", Header: "Registration No", Width: 16},
			{Key: "name", Header: "Name", Width: 24},
			{Key: "phone", Header: "Phone", Width: 12},
		},
		Rows: [][]string{
			{"CMP-2026-000001", "Sunita Devi", "9876543210"},
			{"CMP-2026-000002", "Ramesh, Kumar", "9123456780"},
			{"CMP-2026-000003"},
		},
		GeneratedAt: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatCSV, "CSV": FormatCSV, "excel": FormatXLSX, "xlsx": FormatXLSX, "pdf": FormatPDF}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("docx")
	assert.Error(t, err)
}

func TestFormatFromFilename(t *testing.T) {
	f, err := FormatFromFilename("patients.XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = FormatFromFilename("patients.pdf")
	assert.Error(t, err)
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Equal(t, ".xlsx", FormatXLSX.Extension())
	assert.Equal(t, "patients-2026-10-19.csv", FormatCSV.Filename("patients", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleTable()))

	assert.True(t, strings.HasPrefix(buf.String(), utf8BOM))
	assert.Contains(t, buf.String(), `"Ramesh, Kumar"`)

	records, err := Read(&buf, FormatCSV)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[0].Row)
	assert.Equal(t, "Sunita Devi", records[0].Get("name"))
	assert.Equal(t, "CMP-2026-000001", records[0].Get("Registration No"))
	assert.Equal(t, "", records[2].Get("phone"))
}

func TestWriteCSV_EscapesFormulas(t *testing.T) {
	table := &Table{
		Columns: []Column{{Key: "name", Header: "Name"}, {Key: "notes", Header: "Notes"}},
		Rows: [][]string{
			{`=HYPERLINK("http://evil","x")`, "+91 call"},
			{"@SUM(A1)", "-2+3"},
			{"\tcmd", "Sunita Devi"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, table))

	records, err := Read(&buf, FormatCSV)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, `'=HYPERLINK("http://evil","x")`, records[0].Get("name"))
	assert.Equal(t, "'+91 call", records[0].Get("notes"))
	assert.Equal(t, "'@SUM(A1)", records[1].Get("name"))
	assert.Equal(t, "'-2+3", records[1].Get("notes"))
	assert.Equal(t, "'\tcmd", records[2].Get("name"))
	assert.Equal(t, "Sunita Devi", records[2].Get("notes"))
}

func TestWriteXLSX_KeepsFormulaText(t *testing.T) {
	table := &Table{
		Columns: []Column{{Key: "name", Header: "Name"}},
		Rows:    [][]string{{"=1+1"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, table))

	records, err := Read(&buf, FormatXLSX)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "=1+1", records[0].Get("name"))
}

func TestWriteXLSX_HeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleTable()))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Patients"}, f.GetSheetList())
	rows, err := f.GetRows("Patients")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Registration No", "Name", "Phone"}, rows[0])
	assert.Equal(t, "Ramesh, Kumar", rows[2][1])

	width, err := f.GetColWidth("Patients", "B")
	require.NoError(t, err)
	assert.InDelta(t, 24, width, 0.01)
}

func TestRead_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Name", "Alternate-Phone", ""}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Asha Patil", "9000000001", "ignored"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"Meena", ""}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	records, err := Read(&buf, FormatXLSX)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "9000000001", records[0].Get("alternate phone"))
	assert.Equal(t, 4, records[1].Row)
	_, hasBlankHeader := records[0].Values[""]
	assert.False(t, hasBlankHeader)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader(""), FormatCSV)
	assert.Error(t, err)

	_, err = Read(strings.NewReader("a,b"), FormatPDF)
	assert.Error(t, err)

	_, err = Read(strings.NewReader("not a zip"), FormatXLSX)
	assert.Error(t, err)
}

func TestWritePDF(t *testing.T) {
	table := sampleTable()
	for i := 0; i < 80; i++ {
		table.Rows = append(table.Rows, []string{"CMP-2026-1", strings.Repeat("Very Long Name ", 10), "9999999999"})
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatPDF, table))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestFitCell_ShortensUTF8BeforeEncoding(t *testing.T) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", pdfFontSize)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	name := "Sunita Dévi Pàwar, Gaon Wâgholi, Tâluka Hâveli"
	const width = 30.0
	got := fitCell(pdf, tr, name, width)

	require.True(t, strings.HasSuffix(got, "..."), got)
	assert.LessOrEqual(t, pdf.GetStringWidth(got), width-2)
	assert.NotContains(t, got, "\uFFFD")

	runes := []rune(name)
	matched := false
	for k := range runes {
		if tr(string(runes[:k])+"...") == got {
			matched = true
			break
		}
	}
	assert.True(t, matched, "expected an encoded prefix of the name, got %q", got)

	assert.Equal(t, tr("Dévi"), fitCell(pdf, tr, "Dévi", width))
}

func TestWritePDF_Empty(t *testing.T) {
	table := sampleTable()
	table.Rows = nil
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatPDF, table))
	assert.NotZero(t, buf.Len())
}

func TestWrite_NoColumns(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, FormatCSV, &Table{Title: "Empty"}))
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths([]Column{{Width: 10}, {Width: 30}, {}}, 110)
	assert.InDeltaSlice(t, []float64{20, 60, 30}, widths, 0.001)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Staff   Nurses", sheetName("Staff / Nurses"))
	assert.Equal(t, "Export", sheetName("   "))
	assert.Len(t, []rune(sheetName(strings.Repeat("x", 40))), maxSheetName)
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Name":             "name",
		" Alternate Phone": "alternate_phone",
		"hospital--code":   "hospital_code",
		"Date_of  Birth":   "date_of_birth",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestDates(t *testing.T) {
	d := time.Date(1990, 4, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "07-04-1990", FormatDate(&d))
	assert.Equal(t, "", FormatDate(nil))

	for _, s := range []string{"1990-04-07", "07-04-1990", "07/04/1990"} {
		got, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.True(t, got.Equal(d), s)
	}
	_, err := ParseDate("April 7")
	assert.Error(t, err)
}

func TestAttachment(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/hospitals/export", nil), rec)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	err := Attachment(c, FormatCSV, "hospitals", now, func(w io.Writer) error {
		_, err := io.WriteString(w, "code,name\n")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="hospitals-2026-10-19.csv"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "code,name\n", rec.Body.String())
}

func TestAttachment_RenderError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := Attachment(c, FormatPDF, "x", time.Now(), func(io.Writer) error {
		return errors.New("render failed")
	})
	require.Error(t, err)
	assert.Empty(t, rec.Header().Get(echo.HeaderContentDisposition))
}

package patient

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/compass/compass/internal/platform/export"
)

const importCSV = `Name,Gender,Age,Phone,Village,Hospital Code,Diseases
Sunita Devi,F,45,+91 98765 43210,Wagholi,phc-wagholi,Diabetes; TB
Ramesh Kumar,M,50.0,9123456780,Uruli,CHC-URULI,
sunita devi,female,44,9876543210,Wagholi,,
Kamala Bai,F,,9988776655,,,
Meena Patil,F,30,9000000001,,PHC-UNKNOWN,
Lata Jadhav,F,38,9000000002,,,
Anita Shinde,F,16,9000000003,Lonikand,,
`

func seedAnita(t *testing.T, svc *Service) *Patient {
	t.Helper()
	return mustCreate(t, svc, adminCtx(), newPatient("Anita Shinde", "9000000003", 16))
}

func TestImportPatients(t *testing.T) {
	svc, repo, reports := newTestService()
	seedAnita(t, svc)

	report, err := svc.ImportPatients(adminCtx(), strings.NewReader(importCSV), export.FormatCSV, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 7 || report.Created != 3 || report.Duplicates != 2 || report.Failed != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	wantRows := []int{4, 5, 6, 8}
	if len(report.Errors) != len(wantRows) {
		t.Fatalf("expected %d row errors, got %+v", len(wantRows), report.Errors)
	}
	for i, row := range wantRows {
		if report.Errors[i].Row != row {
			t.Errorf("error %d: expected row %d, got %d (%s)", i, row, report.Errors[i].Row, report.Errors[i].Message)
		}
	}
	if msg := report.Errors[0].Message; msg != "possible duplicate of row 2 (Sunita Devi)" {
		t.Errorf("unexpected in-file duplicate message %q", msg)
	}
	if msg := report.Errors[3].Message; msg != "possible duplicate of CMP-2026-000001 (Anita Shinde)" {
		t.Errorf("unexpected stored duplicate message %q", msg)
	}
	if !strings.Contains(report.Errors[2].Message, "PHC-UNKNOWN") {
		t.Errorf("expected unknown hospital code in message, got %q", report.Errors[2].Message)
	}

	if len(repo.patients) != 4 {
		t.Errorf("expected 4 stored patients, got %d", len(repo.patients))
	}
	list, _, _ := svc.ListPatients(adminCtx(), Filter{Query: "Sunita"}, 0, 0)
	if len(list) != 1 {
		t.Fatalf("expected one Sunita, got %d", len(list))
	}
	sunita := list[0]
	if sunita.HospitalID == nil || *sunita.HospitalID != hospitalA {
		t.Errorf("expected hospital resolved from code, got %v", sunita.HospitalID)
	}
	if sunita.RegistrationNo != "CMP-2026-000002" || len(sunita.Diseases) != 2 {
		t.Errorf("unexpected imported patient %+v", sunita)
	}
	if reports.invalidations != 2 {
		t.Errorf("expected one invalidation for the import, got %d total", reports.invalidations)
	}
}

func TestImportPatients_DryRun(t *testing.T) {
	svc, repo, reports := newTestService()
	seedAnita(t, svc)

	report, err := svc.ImportPatients(adminCtx(), strings.NewReader(importCSV), export.FormatCSV, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.DryRun || report.Created != 3 || report.Duplicates != 2 {
		t.Errorf("unexpected dry-run report: %+v", report)
	}
	if len(repo.patients) != 1 || repo.seq != 1 {
		t.Errorf("dry run must not write, have %d patients and seq %d", len(repo.patients), repo.seq)
	}
	if reports.invalidations != 1 {
		t.Errorf("dry run must not invalidate reports, got %d", reports.invalidations)
	}
}

func TestImportPatients_ASHAOwnsRows(t *testing.T) {
	svc, _, _ := newTestService()
	csvData := "name,sex,age,mobile\nSunita Devi,f,45,9876543210\n"

	report, err := svc.ImportPatients(ashaCtx(ashaOne, hospitalA), strings.NewReader(csvData), export.FormatCSV, false)
	if err != nil || report.Created != 1 {
		t.Fatalf("unexpected result %+v, %v", report, err)
	}
	list, _, _ := svc.ListPatients(ashaCtx(ashaOne, hospitalA), Filter{}, 0, 0)
	if len(list) != 1 || *list[0].ASHAID != ashaOne || *list[0].HospitalID != hospitalA {
		t.Errorf("imported row must belong to the importing ASHA: %+v", list)
	}
}

func TestImportPatients_ReportsBestDuplicate(t *testing.T) {
	svc, _, _ := newTestService()
	stored := newPatient("Sunita Devi Pawar", "9000000009", 45)
	stored.AlternatePhone = "9876543210"
	mustCreate(t, svc, adminCtx(), stored)

	csvData := "name,gender,age,phone,alternate_phone\n" +
		"Sunita Devi,F,45,9876543211,9876543210\n" +
		"Sunita Devi,F,45,9876543210,\n"
	report, err := svc.ImportPatients(adminCtx(), strings.NewReader(csvData), export.FormatCSV, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Created != 1 || report.Duplicates != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if msg := report.Errors[0].Message; msg != "possible duplicate of row 2 (Sunita Devi)" {
		t.Errorf("expected the exact in-file match to be named, got %q", msg)
	}
}

func TestImportPatients_HidesOutOfScopeDuplicates(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Sunita Devi Pawar", "9876543210", 45))

	csvData := "name,gender,age,phone\nSunita Devi Pawar,F,45,9876543210\n"
	report, err := svc.ImportPatients(ashaCtx(ashaTwo, hospitalB), strings.NewReader(csvData), export.FormatCSV, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Duplicates != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	msg := report.Errors[0].Message
	if strings.Contains(msg, "Pawar") || strings.Contains(msg, "CMP-") {
		t.Errorf("message leaks the other patient: %q", msg)
	}
}

func TestImportPatients_RejectsFile(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.ImportPatients(adminCtx(), strings.NewReader("%PDF-1.4"), export.FormatPDF, false); !errors.Is(err, ErrValidation) {
		t.Errorf("pdf: expected ErrValidation, got %v", err)
	}
	if _, err := svc.ImportPatients(adminCtx(), strings.NewReader(""), export.FormatCSV, false); !errors.Is(err, ErrValidation) {
		t.Errorf("empty: expected ErrValidation, got %v", err)
	}

	big := "name,gender,age,phone\n" + strings.Repeat("Sunita Devi,F,45,9876543210\n", MaxImportRows+1)
	if _, err := svc.ImportPatients(adminCtx(), strings.NewReader(big), export.FormatCSV, false); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized: expected ErrValidation, got %v", err)
	}
}

func TestExport_CSV(t *testing.T) {
	svc, _, _ := newTestService()
	p := newPatient("Sunita Devi", "9876543210", 45)
	p.Diseases = []string{"diabetes", "tb"}
	mustCreate(t, svc, adminCtx(), p)
	seedAnita(t, svc)

	var buf bytes.Buffer
	if err := svc.Export(adminCtx(), Filter{Sort: SortName}, export.FormatCSV, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\ufeff"))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Registration No" || rows[0][11] != "Hospital Code" {
		t.Errorf("unexpected header %v", rows[0])
	}
	sunita := rows[2]
	if sunita[1] != "Sunita Devi" || sunita[3] != "45" || sunita[4] != "01-01-1981" {
		t.Errorf("unexpected row %v", sunita)
	}
	if sunita[10] != "diabetes; tb" || sunita[11] != "PHC-WAGHOLI" || sunita[12] != StatusActive {
		t.Errorf("unexpected row %v", sunita)
	}

	// An export can be imported into an empty workspace as is.
	fresh, _, _ := newTestService()
	report, err := fresh.ImportPatients(adminCtx(), &buf, export.FormatCSV, true)
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if report.Created != 2 || report.Failed != 0 {
		t.Errorf("expected the export to re-import cleanly, got %+v", report)
	}
}

func TestExport_Scoped(t *testing.T) {
	svc, _, _ := newTestService()
	seedScoped(t, svc)

	var buf bytes.Buffer
	if err := svc.Export(doctorCtx(hospitalB), Filter{}, export.FormatCSV, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "Asha One Patient") || !strings.Contains(buf.String(), "Hospital B Patient") {
		t.Errorf("export must only contain the caller's patients:\n%s", buf.String())
	}
}

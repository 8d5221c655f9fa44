package patient

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compass/compass/internal/domain/hospital"
	"github.com/compass/compass/internal/domain/staff"
	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/notification"
)

var (
	hospitalA = uuid.MustParse("0b7a3c6e-1f53-4a9e-9d5e-2a1c1f00a001")
	hospitalB = uuid.MustParse("0b7a3c6e-1f53-4a9e-9d5e-2a1c1f00b002")
	ashaOne   = uuid.MustParse("5d1e7f0a-9c44-4c2b-8e1f-6b2d3c00a5a1")
	ashaTwo   = uuid.MustParse("5d1e7f0a-9c44-4c2b-8e1f-6b2d3c00a5a2")
	doctorOne = uuid.MustParse("7e2f8a1b-0d55-4d3c-9f20-7c3e4d00d0c1")
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *fakeReports) {
	repo := newMockRepo()
	reports := &fakeReports{}
	hospitals := newFakeHospitals(
		&hospital.Hospital{ID: hospitalA, Code: "PHC-WAGHOLI", Name: "PHC Wagholi", Type: hospital.TypePHC},
		&hospital.Hospital{ID: hospitalB, Code: "CHC-URULI", Name: "CHC Uruli", Type: hospital.TypeCHC},
	)
	svc := NewService(repo, hospitals, reports, nil, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo, reports
}

func adminCtx() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{UserID: "admin", Roles: []string{auth.RoleAdmin}})
}

func doctorCtx(hospitalID uuid.UUID) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: "doctor", StaffID: doctorOne.String(), HospitalID: hospitalID.String(), Roles: []string{auth.RoleDoctor},
	})
}

func ashaCtx(id, hospitalID uuid.UUID) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: "asha-" + id.String(), StaffID: id.String(), HospitalID: hospitalID.String(), Roles: []string{auth.RoleASHA},
	})
}

func intPtr(n int) *int { return &n }

func newPatient(name, phone string, age int) *Patient {
	h := hospitalA
	return &Patient{
		Name:       name,
		Gender:     "female",
		Age:        intPtr(age),
		Phone:      phone,
		Village:    "Wagholi",
		HospitalID: &h,
	}
}

func mustCreate(t *testing.T, svc *Service, ctx context.Context, p *Patient) *Patient {
	t.Helper()
	if err := svc.CreatePatient(ctx, p, false); err != nil {
		t.Fatalf("create %s: %v", p.Name, err)
	}
	return p
}

func TestCreatePatient_DerivesDOBFromAge(t *testing.T) {
	svc, repo, reports := newTestService()

	p := newPatient("  Sunita   Devi ", "+91 98765-43210", 45)
	p.Diseases = []string{"Diabetes", " hypertension", "diabetes", ""}
	mustCreate(t, svc, adminCtx(), p)

	if p.RegistrationNo != "CMP-2026-000001" {
		t.Errorf("unexpected registration number %q", p.RegistrationNo)
	}
	if p.Name != "Sunita Devi" || p.Phone != "9876543210" {
		t.Errorf("expected normalised name and phone, got %q %q", p.Name, p.Phone)
	}
	want := time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC)
	if p.DateOfBirth == nil || !p.DateOfBirth.Equal(want) || !p.DOBEstimated {
		t.Errorf("expected estimated DOB %v, got %v (estimated=%v)", want, p.DateOfBirth, p.DOBEstimated)
	}
	if p.Age == nil || *p.Age != 45 {
		t.Errorf("expected derived age 45, got %v", p.Age)
	}
	if p.Status != StatusActive {
		t.Errorf("expected default status active, got %q", p.Status)
	}
	if len(p.Diseases) != 2 || p.Diseases[0] != "diabetes" || p.Diseases[1] != "hypertension" {
		t.Errorf("unexpected diseases %v", p.Diseases)
	}
	if _, ok := repo.patients[p.ID]; !ok {
		t.Error("patient not stored")
	}
	if reports.invalidations != 1 {
		t.Errorf("expected reports to be invalidated once, got %d", reports.invalidations)
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	future := testNow.AddDate(0, 0, 2)
	tests := []struct {
		name   string
		mutate func(p *Patient)
	}{
		{"missing name", func(p *Patient) { p.Name = " " }},
		{"bad gender", func(p *Patient) { p.Gender = "x" }},
		{"short phone", func(p *Patient) { p.Phone = "98765" }},
		{"bad alternate phone", func(p *Patient) { p.AlternatePhone = "123" }},
		{"future dob", func(p *Patient) { p.Age = nil; p.DateOfBirth = &future }},
		{"age too high", func(p *Patient) { p.Age = intPtr(131) }},
		{"negative age", func(p *Patient) { p.Age = intPtr(-1) }},
		{"no dob or age", func(p *Patient) { p.Age = nil }},
		{"unknown status", func(p *Patient) { p.Status = "cured" }},
		{"phone with extra digit", func(p *Patient) { p.Phone = "98765432101" }},
		{"overlong phone", func(p *Patient) { p.Phone = "1234567890123456" }},
		{"long name", func(p *Patient) { p.Name = strings.Repeat("Sunita ", 57) }},
		{"long village", func(p *Patient) { p.Village = strings.Repeat("v", 300) }},
		{"long district", func(p *Patient) { p.District = strings.Repeat("d", 129) }},
	}
	for _, tt := range tests {
		svc, _, _ := newTestService()
		p := newPatient("Sunita Devi", "9876543210", 45)
		tt.mutate(p)
		if err := svc.CreatePatient(adminCtx(), p, false); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestCreatePatient_StripsControlCharacters(t *testing.T) {
	svc, repo, _ := newTestService()
	p := newPatient("Sunita\x00 Devi\x1b", "9876543210", 45)
	p.Village = "Wagholi\x00"
	p.Notes = "BP 140/90\r\nfollow up\x07"

	if err := svc.CreatePatient(adminCtx(), p, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.patients[p.ID]
	if stored.Name != "Sunita Devi" {
		t.Errorf("name = %q", stored.Name)
	}
	if stored.Village != "Wagholi" {
		t.Errorf("village = %q", stored.Village)
	}
	if stored.Notes != "BP 140/90\nfollow up" {
		t.Errorf("notes = %q", stored.Notes)
	}
}

func TestCreatePatient_ExplicitDOBWins(t *testing.T) {
	svc, _, _ := newTestService()
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	p := newPatient("Meena Patil", "9123456780", 10)
	p.DateOfBirth = &dob
	mustCreate(t, svc, adminCtx(), p)

	if p.DOBEstimated {
		t.Error("explicit DOB must not be marked estimated")
	}
	if *p.Age != 36 {
		t.Errorf("expected age 36 from DOB, got %d", *p.Age)
	}
}

func TestCreatePatient_ASHAAssignsSelf(t *testing.T) {
	svc, _, _ := newTestService()
	p := newPatient("Sunita Devi", "9876543210", 45)
	p.HospitalID = nil
	other := ashaTwo
	p.ASHAID = &other

	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), p)

	if p.ASHAID == nil || *p.ASHAID != ashaOne {
		t.Errorf("expected ASHA creator to be assigned, got %v", p.ASHAID)
	}
	if p.HospitalID == nil || *p.HospitalID != hospitalA {
		t.Errorf("expected ASHA's hospital, got %v", p.HospitalID)
	}
	if p.RegisteredBy == nil || *p.RegisteredBy != ashaOne {
		t.Errorf("expected registered_by to be the ASHA, got %v", p.RegisteredBy)
	}
}

func TestCreatePatient_DoctorHospital(t *testing.T) {
	svc, _, _ := newTestService()
	p := newPatient("Sunita Devi", "9876543210", 45)
	p.HospitalID = nil
	mustCreate(t, svc, doctorCtx(hospitalB), p)
	if p.HospitalID == nil || *p.HospitalID != hospitalB {
		t.Errorf("expected doctor's hospital, got %v", p.HospitalID)
	}

	other := newPatient("Kamala Bai", "9988776655", 60)
	if err := svc.CreatePatient(doctorCtx(hospitalB), other, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for another hospital, got %v", err)
	}
}

func TestCreatePatient_Duplicate(t *testing.T) {
	svc, _, _ := newTestService()
	first := mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))

	dup := newPatient("sunita  devi", "+91 98765 43210", 44)
	err := svc.CreatePatient(adminCtx(), dup, false)
	var de *DuplicateError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DuplicateError, got %v", err)
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Error("DuplicateError must unwrap to ErrDuplicate")
	}
	if len(de.Candidates) != 1 || de.Candidates[0].Patient.ID != first.ID || de.Candidates[0].Reason != ReasonSameName {
		t.Errorf("unexpected candidates %+v", de.Candidates)
	}

	if err := svc.CreatePatient(adminCtx(), dup, true); err != nil {
		t.Fatalf("forced create failed: %v", err)
	}
	if dup.RegistrationNo != "CMP-2026-000002" {
		t.Errorf("expected second registration number, got %q", dup.RegistrationNo)
	}
}

func TestCreatePatient_SharedPhoneDifferentName(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))

	// Family members often share one phone.
	husband := newPatient("Ramesh Kumar", "9876543210", 50)
	husband.Gender = "m"
	if err := svc.CreatePatient(adminCtx(), husband, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if husband.Gender != GenderMale {
		t.Errorf("expected gender alias to normalise, got %q", husband.Gender)
	}
}

func TestUpdatePatient(t *testing.T) {
	svc, _, reports := newTestService()
	p := mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))

	upd := newPatient("Sunita Devi", "9876543210", 0)
	upd.ID = p.ID
	upd.Age = nil
	upd.Status = StatusReferred
	upd.Diseases = []string{"TB"}
	if err := svc.UpdatePatient(adminCtx(), upd, false); err != nil {
		t.Fatalf("update must not flag the record itself as duplicate: %v", err)
	}
	if upd.RegistrationNo != p.RegistrationNo {
		t.Errorf("registration number changed: %q -> %q", p.RegistrationNo, upd.RegistrationNo)
	}
	if upd.DateOfBirth == nil || !upd.DateOfBirth.Equal(*p.DateOfBirth) || !upd.DOBEstimated {
		t.Error("expected DOB to be kept when neither DOB nor age is sent")
	}
	got, _ := svc.GetPatient(adminCtx(), p.ID)
	if got.Status != StatusReferred || got.Diseases[0] != "tb" {
		t.Errorf("update not stored: %+v", got)
	}
	if reports.invalidations != 2 {
		t.Errorf("expected 2 invalidations, got %d", reports.invalidations)
	}
}

func TestUpdatePatient_DuplicateOfAnother(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))
	other := mustCreate(t, svc, adminCtx(), newPatient("Kamala Bai", "9988776655", 60))

	upd := newPatient("Sunita Devi", "9876543210", 45)
	upd.ID = other.ID
	var de *DuplicateError
	if err := svc.UpdatePatient(adminCtx(), upd, false); !errors.As(err, &de) {
		t.Fatalf("expected *DuplicateError, got %v", err)
	}
}

func TestUpdatePatient_ASHACannotReassign(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := ashaCtx(ashaOne, hospitalA)
	p := mustCreate(t, svc, ctx, newPatient("Sunita Devi", "9876543210", 45))

	upd := newPatient("Sunita Devi", "9876543210", 45)
	upd.ID = p.ID
	other := ashaTwo
	upd.ASHAID = &other
	if err := svc.UpdatePatient(ctx, upd, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *upd.ASHAID != ashaOne {
		t.Error("ASHA must not be able to hand a patient to someone else")
	}
}

func seedScoped(t *testing.T, svc *Service) {
	t.Helper()
	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Asha One Patient", "9000000001", 30))
	mustCreate(t, svc, ashaCtx(ashaTwo, hospitalA), newPatient("Asha Two Patient", "9000000002", 31))
	b := newPatient("Hospital B Patient", "9000000003", 32)
	b.HospitalID = nil
	mustCreate(t, svc, doctorCtx(hospitalB), b)
}

func TestListPatients_Scope(t *testing.T) {
	svc, _, _ := newTestService()
	seedScoped(t, svc)

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"admin", adminCtx(), 3},
		{"doctor A", doctorCtx(hospitalA), 2},
		{"doctor B", doctorCtx(hospitalB), 1},
		{"asha one", ashaCtx(ashaOne, hospitalA), 1},
	}
	for _, tt := range tests {
		list, total, err := svc.ListPatients(tt.ctx, Filter{}, 20, 0)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if total != tt.want || len(list) != tt.want {
			t.Errorf("%s: expected %d patients, got %d/%d", tt.name, tt.want, len(list), total)
		}
	}

	noStaff := auth.WithActor(context.Background(), auth.Actor{UserID: "x", Roles: []string{auth.RoleASHA}})
	if _, _, err := svc.ListPatients(noStaff, Filter{}, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unlinked ASHA, got %v", err)
	}
}

func TestListPatients_FilterAndPaginate(t *testing.T) {
	svc, _, _ := newTestService()
	seedScoped(t, svc)

	list, total, err := svc.ListPatients(adminCtx(), Filter{Sort: SortName}, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(list) != 2 || list[0].Name != "Asha One Patient" {
		t.Errorf("unexpected page: total=%d first=%v", total, list)
	}
	for _, p := range list {
		if p.Age == nil {
			t.Error("listed patients must carry a derived age")
		}
	}

	list, total, _ = svc.ListPatients(adminCtx(), Filter{Query: "hospital b"}, 20, 0)
	if total != 1 || list[0].Name != "Hospital B Patient" {
		t.Errorf("query filter failed: %d", total)
	}
}

func TestGetPatient_OutOfScopeIsNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	p := mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))

	if _, err := svc.GetPatient(doctorCtx(hospitalB), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetPatient(doctorCtx(hospitalA), p.ID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDeletePatient(t *testing.T) {
	svc, repo, reports := newTestService()
	p := mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi", "9876543210", 45))

	if err := svc.DeletePatient(doctorCtx(hospitalB), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("out-of-scope delete: expected ErrNotFound, got %v", err)
	}
	if err := svc.DeletePatient(doctorCtx(hospitalA), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.patients) != 0 {
		t.Error("patient not deleted")
	}
	if reports.invalidations != 2 {
		t.Errorf("expected 2 invalidations, got %d", reports.invalidations)
	}
}

func TestCheckDuplicates(t *testing.T) {
	svc, _, _ := newTestService()
	p := mustCreate(t, svc, adminCtx(), newPatient("Sunita Devi Pawar", "9876543210", 45))

	got, err := svc.CheckDuplicates(adminCtx(), "Sunita Pawar", "09876543210", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Reason != ReasonNameSubset {
		t.Errorf("expected a name_subset candidate, got %+v", got)
	}

	got, _ = svc.CheckDuplicates(adminCtx(), "Sunita Pawar", "9876543210", &p.ID)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result when excluding self, got %v", got)
	}

	if _, err := svc.CheckDuplicates(adminCtx(), "", "9876543210", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for empty name, got %v", err)
	}
	if _, err := svc.CheckDuplicates(adminCtx(), "Sunita", "123", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for short phone, got %v", err)
	}
}

func TestCheckDuplicates_RedactsOutsideScope(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Sunita Devi Pawar", "9876543210", 45))

	tests := []struct {
		name       string
		ctx        context.Context
		restricted bool
	}{
		{"owning asha", ashaCtx(ashaOne, hospitalA), false},
		{"same hospital doctor", doctorCtx(hospitalA), false},
		{"admin", adminCtx(), false},
		{"asha at another hospital", ashaCtx(ashaTwo, hospitalB), true},
		{"doctor at another hospital", doctorCtx(hospitalB), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.CheckDuplicates(tt.ctx, "Sunita Devi Pawar", "9876543210", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected one candidate, got %+v", got)
			}
			c := got[0]
			if c.Restricted != tt.restricted {
				t.Errorf("restricted = %v, want %v", c.Restricted, tt.restricted)
			}
			if tt.restricted && c.Patient != nil {
				t.Errorf("restricted candidate exposes %+v", *c.Patient)
			}
			if !tt.restricted && (c.Patient == nil || c.Patient.Name != "Sunita Devi Pawar") {
				t.Errorf("expected visible candidate, got %+v", c)
			}
			if c.Score != 1 || c.Reason != ReasonSameName {
				t.Errorf("match strength must survive redaction, got %v %q", c.Score, c.Reason)
			}
		})
	}
}

func TestCreatePatient_DuplicateOutsideScopeIsRedacted(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Sunita Devi Pawar", "9876543210", 45))

	p := newPatient("Sunita Devi Pawar", "9876543210", 45)
	p.HospitalID = nil
	err := svc.CreatePatient(ashaCtx(ashaTwo, hospitalB), p, false)
	var de *DuplicateError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DuplicateError, got %v", err)
	}
	if len(de.Candidates) != 1 || !de.Candidates[0].Restricted || de.Candidates[0].Patient != nil {
		t.Errorf("expected a redacted candidate, got %+v", de.Candidates)
	}
}

func TestFollowUps(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := adminCtx()
	p := mustCreate(t, svc, ctx, newPatient("Sunita Devi", "9876543210", 45))

	if _, err := svc.ScheduleFollowUp(ctx, p.ID, testNow.AddDate(0, 0, -1), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("past date: expected ErrValidation, got %v", err)
	}

	later, err := svc.ScheduleFollowUp(ctx, p.ID, testNow.AddDate(0, 0, 14), "BP check")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sooner, err := svc.ScheduleFollowUp(ctx, p.ID, testNow.AddDate(0, 0, 7), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := svc.GetPatient(ctx, p.ID)
	if got.NextFollowUp == nil || !got.NextFollowUp.Equal(sooner.ScheduledDate) {
		t.Fatalf("expected next follow-up %v, got %v", sooner.ScheduledDate, got.NextFollowUp)
	}

	if _, err := svc.CompleteFollowUp(ctx, p.ID, sooner.ID, " ", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("missing outcome: expected ErrValidation, got %v", err)
	}
	done, err := svc.CompleteFollowUp(ctx, p.ID, sooner.ID, "BP controlled", "continue medication")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.CompletedAt == nil || done.Outcome != "BP controlled" {
		t.Errorf("follow-up not completed: %+v", done)
	}
	got, _ = svc.GetPatient(ctx, p.ID)
	if got.NextFollowUp == nil || !got.NextFollowUp.Equal(later.ScheduledDate) {
		t.Errorf("expected next follow-up to move to %v, got %v", later.ScheduledDate, got.NextFollowUp)
	}

	if _, err := svc.CompleteFollowUp(ctx, p.ID, sooner.ID, "again", ""); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}

	other := mustCreate(t, svc, ctx, newPatient("Kamala Bai", "9988776655", 60))
	if _, err := svc.CompleteFollowUp(ctx, other.ID, later.ID, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("follow-up of another patient: expected ErrNotFound, got %v", err)
	}

	list, _ := svc.ListFollowUps(ctx, p.ID)
	if len(list) != 2 {
		t.Errorf("expected 2 follow-ups, got %d", len(list))
	}
}

// scheduleAt books a follow-up with the service clock moved to at.
func scheduleAt(t *testing.T, svc *Service, ctx context.Context, patientID uuid.UUID, at time.Time) *FollowUp {
	t.Helper()
	saved := svc.now
	svc.now = func() time.Time { return at }
	defer func() { svc.now = saved }()
	f, err := svc.ScheduleFollowUp(ctx, patientID, at, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return f
}

func TestListDueFollowUps_Scoped(t *testing.T) {
	svc, _, _ := newTestService()
	a := mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Asha One Patient", "9000000001", 30))
	b := mustCreate(t, svc, ashaCtx(ashaTwo, hospitalA), newPatient("Asha Two Patient", "9000000002", 31))
	scheduleAt(t, svc, adminCtx(), a.ID, testNow.AddDate(0, 0, -3))
	scheduleAt(t, svc, adminCtx(), b.ID, testNow.AddDate(0, 0, -1))
	scheduleAt(t, svc, adminCtx(), b.ID, testNow.AddDate(0, 0, 5))

	due, err := svc.ListDueFollowUps(adminCtx(), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 || due[0].PatientName != "Asha One Patient" {
		t.Errorf("expected 2 due follow-ups oldest first, got %d", len(due))
	}

	due, _ = svc.ListDueFollowUps(ashaCtx(ashaTwo, hospitalA), testNow)
	if len(due) != 1 || due[0].PatientID != b.ID {
		t.Errorf("ASHA must only see own due follow-ups, got %d", len(due))
	}
}

func TestAssignmentPush(t *testing.T) {
	svc, _, _ := newTestService()
	push := &fakePush{}
	dir := &fakeStaff{users: map[uuid.UUID]*staff.StaffUser{
		ashaOne: {ID: ashaOne, Name: "Sunita Pawar", Role: auth.RoleASHA, Active: true, DeviceToken: "token-asha-1"},
	}}
	svc.EnableAssignmentPush(dir, notification.NewManager(push, nil, 10))

	p := newPatient("Kamala Bai", "9988776655", 60)
	asha := ashaOne
	p.ASHAID = &asha
	mustCreate(t, svc, doctorCtx(hospitalA), p)

	if len(push.sent) != 1 || push.sent[0].token != "token-asha-1" {
		t.Fatalf("expected one push to the assigned ASHA, got %+v", push.sent)
	}
	if push.sent[0].title != "New patient assigned" {
		t.Errorf("unexpected title %q", push.sent[0].title)
	}

	mustCreate(t, svc, ashaCtx(ashaOne, hospitalA), newPatient("Sunita Devi", "9876543210", 45))
	if len(push.sent) != 1 {
		t.Error("an ASHA registering their own patient must not be notified")
	}
}

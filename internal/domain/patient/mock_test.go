package patient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/domain/hospital"
	"github.com/compass/compass/internal/domain/staff"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	seq       int64
	patients  map[uuid.UUID]*Patient
	followUps map[uuid.UUID]*FollowUp
	order     []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:  make(map[uuid.UUID]*Patient),
		followUps: make(map[uuid.UUID]*FollowUp),
	}
}

func clonePatient(p *Patient) *Patient {
	cp := *p
	cp.Diseases = append([]string{}, p.Diseases...)
	return &cp
}

func (m *mockRepo) NextRegistrationSeq(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	// Registration order drives created_at so sorting is deterministic.
	p.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(m.order)) * time.Hour)
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = clonePatient(p)
	m.order = append(m.order, p.ID)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = clonePatient(p)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	for fid, f := range m.followUps {
		if f.PatientID == id {
			delete(m.followUps, fid)
		}
	}
	return nil
}

func (m *mockRepo) List(_ context.Context, scope Scope) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, id := range m.order {
		p, ok := m.patients[id]
		if ok && scope.Contains(p) {
			out = append(out, clonePatient(p))
		}
	}
	return out, nil
}

func (m *mockRepo) FindByPhone(_ context.Context, phone string) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, id := range m.order {
		p, ok := m.patients[id]
		if ok && (p.Phone == phone || p.AlternatePhone == phone) {
			out = append(out, clonePatient(p))
		}
	}
	return out, nil
}

func (m *mockRepo) CreateFollowUp(_ context.Context, f *FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[f.PatientID]; !ok {
		return ErrValidation
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	cp := *f
	m.followUps[f.ID] = &cp
	return nil
}

func (m *mockRepo) GetFollowUp(_ context.Context, id uuid.UUID) (*FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followUps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockRepo) ListFollowUps(_ context.Context, patientID uuid.UUID) ([]*FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FollowUp
	for _, f := range m.followUps {
		if f.PatientID == patientID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDate.Before(out[j].ScheduledDate) })
	return out, nil
}

func (m *mockRepo) CompleteFollowUp(_ context.Context, f *FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.followUps[f.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.CompletedAt != nil {
		return ErrAlreadyCompleted
	}
	cp := *f
	m.followUps[f.ID] = &cp
	return nil
}

func (m *mockRepo) RefreshNextFollowUp(_ context.Context, patientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok {
		return nil
	}
	p.NextFollowUp = nil
	for _, f := range m.followUps {
		if f.PatientID != patientID || f.CompletedAt != nil {
			continue
		}
		if p.NextFollowUp == nil || f.ScheduledDate.Before(*p.NextFollowUp) {
			d := f.ScheduledDate
			p.NextFollowUp = &d
		}
	}
	return nil
}

func (m *mockRepo) ListDueFollowUps(_ context.Context, scope Scope, on time.Time) ([]*DueFollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DueFollowUp
	for _, f := range m.followUps {
		if f.CompletedAt != nil || f.ScheduledDate.After(on) {
			continue
		}
		p, ok := m.patients[f.PatientID]
		if !ok || !scope.Contains(p) {
			continue
		}
		out = append(out, &DueFollowUp{
			FollowUp:       *f,
			PatientName:    p.Name,
			RegistrationNo: p.RegistrationNo,
			Village:        p.Village,
			Phone:          p.Phone,
			HospitalID:     p.HospitalID,
			ASHAID:         p.ASHAID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].PatientName < out[j].PatientName
	})
	return out, nil
}

// -- Fake collaborators --

type fakeHospitals struct {
	byCode map[string]*hospital.Hospital
}

func newFakeHospitals(hs ...*hospital.Hospital) *fakeHospitals {
	f := &fakeHospitals{byCode: map[string]*hospital.Hospital{}}
	for _, h := range hs {
		f.byCode[h.Code] = h
	}
	return f
}

func (f *fakeHospitals) GetByCode(_ context.Context, code string) (*hospital.Hospital, error) {
	h, ok := f.byCode[code]
	if !ok {
		return nil, hospital.ErrNotFound
	}
	return h, nil
}

func (f *fakeHospitals) Options(_ context.Context) ([]hospital.Option, error) {
	var out []hospital.Option
	for _, h := range f.byCode {
		out = append(out, h.Option())
	}
	return out, nil
}

type fakeReports struct {
	invalidations int
}

func (f *fakeReports) Invalidate(context.Context) error {
	f.invalidations++
	return nil
}

type fakeStaff struct {
	users map[uuid.UUID]*staff.StaffUser
}

func (f *fakeStaff) GetStaff(_ context.Context, id uuid.UUID) (*staff.StaffUser, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, staff.ErrNotFound
	}
	return u, nil
}

type sentPush struct {
	token, title, body string
}

type fakePush struct {
	mu   sync.Mutex
	sent []sentPush
	fail map[string]error
}

func (f *fakePush) Send(_ context.Context, token, title, body string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[token]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentPush{token: token, title: title, body: body})
	return nil
}

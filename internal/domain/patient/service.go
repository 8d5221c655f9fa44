package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compass/compass/internal/domain/hospital"
	"github.com/compass/compass/internal/domain/staff"
	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/notification"
	"github.com/compass/compass/internal/platform/telemetry"
	"github.com/compass/compass/pkg/pagination"
)

var (
	ErrNotFound         = errors.New("patient not found")
	ErrValidation       = errors.New("invalid patient")
	ErrDuplicate        = errors.New("possible duplicate patient")
	ErrForbidden        = errors.New("not allowed")
	ErrAlreadyCompleted = errors.New("follow-up already completed")
)

// HospitalDirectory resolves hospitals referenced by imports and exports.
type HospitalDirectory interface {
	GetByCode(ctx context.Context, code string) (*hospital.Hospital, error)
	Options(ctx context.Context) ([]hospital.Option, error)
}

// StaffDirectory looks up the staff users patients are assigned to.
type StaffDirectory interface {
	GetStaff(ctx context.Context, id uuid.UUID) (*staff.StaffUser, error)
}

// ReportCache is invalidated whenever patient data changes.
type ReportCache interface {
	Invalidate(ctx context.Context) error
}

type Service struct {
	repo      Repository
	hospitals HospitalDirectory
	reports   ReportCache
	staff     StaffDirectory
	notifier  *notification.Manager
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, hospitals HospitalDirectory, reports ReportCache, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		hospitals: hospitals,
		reports:   reports,
		metrics:   metrics,
		logger:    logger.With().Str("component", "patient").Logger(),
		now:       time.Now,
	}
}

// EnableAssignmentPush notifies an ASHA by push whenever someone else assigns
// a patient to them.
func (s *Service) EnableAssignmentPush(dir StaffDirectory, mgr *notification.Manager) {
	s.staff = dir
	s.notifier = mgr
}

// ScopeFor returns the patients actor may see: admins see all, ASHAs their
// assigned patients and other staff their own hospital.
func ScopeFor(actor auth.Actor) (Scope, error) {
	if actor.IsAdmin() {
		return Scope{}, nil
	}
	if actor.HasRole(auth.RoleASHA) {
		id, err := uuid.Parse(actor.StaffID)
		if err != nil {
			return Scope{}, fmt.Errorf("%w: caller is not linked to a staff record", ErrForbidden)
		}
		return Scope{ASHAID: &id}, nil
	}
	if actor.HasRole(auth.RoleDoctor) || actor.HasRole(auth.RoleNurse) {
		id, err := uuid.Parse(actor.HospitalID)
		if err != nil {
			return Scope{}, fmt.Errorf("%w: caller is not assigned to a hospital", ErrForbidden)
		}
		return Scope{HospitalID: &id}, nil
	}
	return Scope{}, ErrForbidden
}

// inTx runs fn in a transaction when ctx carries a tenant connection.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.ConnFromContext(ctx) == nil || db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := db.WithTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate cached reports")
	}
}

// applyActor fills the assignment fields a non-admin creator implies and
// rejects hospitals outside the caller's own.
func applyActor(actor auth.Actor, p *Patient) error {
	if staffID, err := uuid.Parse(actor.StaffID); err == nil && p.RegisteredBy == nil {
		p.RegisteredBy = &staffID
	}
	if actor.IsAdmin() {
		return nil
	}
	if actor.HasRole(auth.RoleASHA) {
		id, err := uuid.Parse(actor.StaffID)
		if err != nil {
			return fmt.Errorf("%w: caller is not linked to a staff record", ErrForbidden)
		}
		p.ASHAID = &id
	}
	own, err := uuid.Parse(actor.HospitalID)
	if err != nil {
		if actor.HasRole(auth.RoleASHA) {
			return nil
		}
		return fmt.Errorf("%w: caller is not assigned to a hospital", ErrForbidden)
	}
	if p.HospitalID == nil {
		p.HospitalID = &own
	} else if *p.HospitalID != own {
		return fmt.Errorf("%w: patients can only be registered at your own hospital", ErrForbidden)
	}
	return nil
}

// prepare normalises p, derives its birth date and validates it.
func (s *Service) prepare(p *Patient) error {
	now := s.now()
	p.normalize()
	if err := p.resolveDOB(now); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := p.validate(now); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// duplicates returns the existing patients p may duplicate. Matches outside
// the caller's scope are redacted.
func (s *Service) duplicates(ctx context.Context, p *Patient, exclude *uuid.UUID) ([]Candidate, error) {
	existing, err := s.repo.FindByPhone(ctx, p.Phone)
	if err != nil {
		return nil, err
	}
	candidates := FindDuplicates(p.Name, p.Phone, existing, exclude)
	if len(candidates) == 0 {
		return candidates, nil
	}

	scope, scopeErr := ScopeFor(auth.ActorFromContext(ctx))
	byID := make(map[uuid.UUID]*Patient, len(existing))
	for _, e := range existing {
		byID[e.ID] = e
	}
	for i, c := range candidates {
		if scopeErr != nil || !scope.Contains(byID[c.Patient.ID]) {
			candidates[i] = c.redact()
		}
	}
	return candidates, nil
}

// insert assigns the registration number and stores p.
func (s *Service) insert(ctx context.Context, p *Patient) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		seq, err := s.repo.NextRegistrationSeq(ctx)
		if err != nil {
			return err
		}
		p.RegistrationNo = RegistrationNumber(s.now().Year(), seq)
		return s.repo.Create(ctx, p)
	})
}

// CreatePatient registers a new patient. Unless force is set, a likely
// duplicate fails with a *DuplicateError listing the candidates.
func (s *Service) CreatePatient(ctx context.Context, p *Patient, force bool) error {
	actor := auth.ActorFromContext(ctx)
	if err := applyActor(actor, p); err != nil {
		return err
	}
	if err := s.prepare(p); err != nil {
		return err
	}
	if !force {
		candidates, err := s.duplicates(ctx, p, nil)
		if err != nil {
			return err
		}
		if len(candidates) > 0 {
			s.metrics.DuplicateDetected()
			return &DuplicateError{Candidates: candidates}
		}
	}
	if err := s.insert(ctx, p); err != nil {
		return err
	}
	p.deriveAge(s.now())
	s.metrics.PatientRegistered("api")
	s.invalidateReports(ctx)
	s.notifyAssignment(ctx, actor, p, nil)
	return nil
}

func (s *Service) getScoped(ctx context.Context, id uuid.UUID) (*Patient, error) {
	scope, err := ScopeFor(auth.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.Contains(p) {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.getScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	p.deriveAge(s.now())
	return p, nil
}

// UpdatePatient replaces the editable fields of an existing patient. The
// registration number, registration metadata and next follow-up are kept.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient, force bool) error {
	existing, err := s.getScoped(ctx, p.ID)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)

	p.RegistrationNo = existing.RegistrationNo
	p.RegisteredBy = existing.RegisteredBy
	p.NextFollowUp = existing.NextFollowUp
	p.CreatedAt = existing.CreatedAt
	if p.DateOfBirth == nil && p.Age == nil {
		p.DateOfBirth = existing.DateOfBirth
		p.DOBEstimated = existing.DOBEstimated
	}
	if !actor.IsAdmin() {
		if actor.HasRole(auth.RoleASHA) {
			p.ASHAID = existing.ASHAID
		}
		if p.HospitalID == nil {
			p.HospitalID = existing.HospitalID
		}
		if !sameID(p.HospitalID, existing.HospitalID) {
			if err := applyActor(actor, p); err != nil {
				return err
			}
		}
	}

	if err := s.prepare(p); err != nil {
		return err
	}
	if !force {
		candidates, err := s.duplicates(ctx, p, &p.ID)
		if err != nil {
			return err
		}
		if len(candidates) > 0 {
			s.metrics.DuplicateDetected()
			return &DuplicateError{Candidates: candidates}
		}
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	p.deriveAge(s.now())
	s.invalidateReports(ctx)
	s.notifyAssignment(ctx, actor, p, existing.ASHAID)
	return nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getScoped(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	return nil
}

// ListPatients loads the caller's patients, applies f in memory and returns
// the requested page together with the filtered total. A limit of 0 returns
// every match.
func (s *Service) ListPatients(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	scope, err := ScopeFor(auth.ActorFromContext(ctx))
	if err != nil {
		return nil, 0, err
	}
	all, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, p := range all {
		p.deriveAge(now)
	}
	matched := f.Apply(all, now)
	return pagination.Paginate(matched, limit, offset), len(matched), nil
}

// CheckDuplicates lists the registered patients that a patient with this name
// and phone would duplicate.
func (s *Service) CheckDuplicates(ctx context.Context, name, phone string, exclude *uuid.UUID) ([]Candidate, error) {
	p := &Patient{Name: name, Phone: phone}
	p.normalize()
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !phonePattern.MatchString(p.Phone) {
		return nil, fmt.Errorf("%w: phone must have 10 digits", ErrValidation)
	}
	candidates, err := s.duplicates(ctx, p, exclude)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = []Candidate{}
	}
	return candidates, nil
}

// notifyAssignment pushes a message to the ASHA a patient was just assigned
// to, unless the ASHA made the change. Failures are logged only.
func (s *Service) notifyAssignment(ctx context.Context, actor auth.Actor, p *Patient, previous *uuid.UUID) {
	if s.notifier == nil || s.staff == nil || p.ASHAID == nil || sameID(p.ASHAID, previous) {
		return
	}
	if actor.StaffID == p.ASHAID.String() {
		return
	}
	asha, err := s.staff.GetStaff(ctx, *p.ASHAID)
	if err != nil {
		s.logger.Warn().Err(err).Str("asha_id", p.ASHAID.String()).Msg("assigned ASHA not found")
		return
	}
	if !asha.HasDevice() || !asha.Active {
		return
	}
	_, err = s.notifier.SendFromTemplate(ctx, notification.TemplatePatientAssigned, map[string]string{
		"patient_name":    p.Name,
		"registration_no": p.RegistrationNo,
		"village":         p.Village,
	}, asha.ID.String(), asha.DeviceToken)
	if err != nil {
		s.logger.Warn().Err(err).Str("asha_id", asha.ID.String()).Msg("failed to send assignment push")
	}
}

package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compass/compass/internal/platform/auth"
)

func actorStaffID(ctx context.Context) *uuid.UUID {
	id, err := uuid.Parse(auth.ActorFromContext(ctx).StaffID)
	if err != nil {
		return nil
	}
	return &id
}

// ScheduleFollowUp books a follow-up visit for a patient on date, which may
// not lie in the past.
func (s *Service) ScheduleFollowUp(ctx context.Context, patientID uuid.UUID, date time.Time, notes string) (*FollowUp, error) {
	if _, err := s.getScoped(ctx, patientID); err != nil {
		return nil, err
	}
	date = dateOf(date)
	if date.Before(dateOf(s.now())) {
		return nil, fmt.Errorf("%w: follow-up date is in the past", ErrValidation)
	}
	f := &FollowUp{
		PatientID:     patientID,
		ScheduledDate: date,
		Notes:         strings.TrimSpace(notes),
		RecordedBy:    actorStaffID(ctx),
	}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateFollowUp(ctx, f); err != nil {
			return err
		}
		return s.repo.RefreshNextFollowUp(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return f, nil
}

func (s *Service) ListFollowUps(ctx context.Context, patientID uuid.UUID) ([]*FollowUp, error) {
	if _, err := s.getScoped(ctx, patientID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListFollowUps(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*FollowUp{}
	}
	return out, nil
}

// CompleteFollowUp records the outcome of a visit and moves the patient's
// next follow-up to the earliest one still pending.
func (s *Service) CompleteFollowUp(ctx context.Context, patientID, followUpID uuid.UUID, outcome, notes string) (*FollowUp, error) {
	if _, err := s.getScoped(ctx, patientID); err != nil {
		return nil, err
	}
	f, err := s.repo.GetFollowUp(ctx, followUpID)
	if err != nil {
		return nil, err
	}
	if f.PatientID != patientID {
		return nil, ErrNotFound
	}
	if !f.Pending() {
		return nil, ErrAlreadyCompleted
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return nil, fmt.Errorf("%w: outcome is required", ErrValidation)
	}

	now := s.now().UTC()
	f.CompletedAt = &now
	f.Outcome = outcome
	if n := strings.TrimSpace(notes); n != "" {
		f.Notes = n
	}
	f.RecordedBy = actorStaffID(ctx)

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CompleteFollowUp(ctx, f); err != nil {
			return err
		}
		return s.repo.RefreshNextFollowUp(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return f, nil
}

// ListDueFollowUps returns the caller's pending follow-ups scheduled on or
// before on, oldest first.
func (s *Service) ListDueFollowUps(ctx context.Context, on time.Time) ([]*DueFollowUp, error) {
	scope, err := ScopeFor(auth.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListDueFollowUps(ctx, scope, dateOf(on))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*DueFollowUp{}
	}
	return out, nil
}

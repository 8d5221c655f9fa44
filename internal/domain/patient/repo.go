package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Scope restricts which patients a caller can see. A nil field does not
// restrict.
type Scope struct {
	HospitalID *uuid.UUID
	ASHAID     *uuid.UUID
}

// Contains reports whether p falls inside the scope.
func (s Scope) Contains(p *Patient) bool {
	if s.HospitalID != nil && (p.HospitalID == nil || *p.HospitalID != *s.HospitalID) {
		return false
	}
	if s.ASHAID != nil && (p.ASHAID == nil || *p.ASHAID != *s.ASHAID) {
		return false
	}
	return true
}

type Repository interface {
	NextRegistrationSeq(ctx context.Context) (int64, error)
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, scope Scope) ([]*Patient, error)
	// FindByPhone returns patients whose phone or alternate phone is phone.
	FindByPhone(ctx context.Context, phone string) ([]*Patient, error)

	CreateFollowUp(ctx context.Context, f *FollowUp) error
	GetFollowUp(ctx context.Context, id uuid.UUID) (*FollowUp, error)
	ListFollowUps(ctx context.Context, patientID uuid.UUID) ([]*FollowUp, error)
	CompleteFollowUp(ctx context.Context, f *FollowUp) error
	// RefreshNextFollowUp sets the patient's next follow-up to its earliest
	// pending follow-up date.
	RefreshNextFollowUp(ctx context.Context, patientID uuid.UUID) error
	// ListDueFollowUps returns pending follow-ups scheduled on or before on.
	ListDueFollowUps(ctx context.Context, scope Scope, on time.Time) ([]*DueFollowUp, error)
}

package hospital

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for hospitals.
type Repository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetByCode(ctx context.Context, code string) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Hospital, int, error)
	// Options lists active hospitals ordered by name.
	Options(ctx context.Context) ([]Option, error)
	// CountPatients returns the number of patients assigned to the hospital.
	CountPatients(ctx context.Context, id uuid.UUID) (int, error)
	// CountStaff returns the number of staff users, active or not, at the hospital.
	CountStaff(ctx context.Context, id uuid.UUID) (int, error)
}

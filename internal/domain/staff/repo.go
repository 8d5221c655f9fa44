package staff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for staff users.
type Repository interface {
	Create(ctx context.Context, s *StaffUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error)
	GetByEmail(ctx context.Context, email string) (*StaffUser, error)
	GetByAuthUID(ctx context.Context, uid string) (*StaffUser, error)
	Update(ctx context.Context, s *StaffUser) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetDeviceToken(ctx context.Context, id uuid.UUID, token string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*StaffUser, int, error)
	CountActiveAdmins(ctx context.Context) (int, error)
}

package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/db"
)

// Provisioner keeps the identity provider in step with staff records.
type Provisioner interface {
	// Provision creates the login for s before it is stored.
	Provision(ctx context.Context, s *StaffUser, password string) error
	// SyncIdentity pushes role, hospital and staff id to the provider.
	SyncIdentity(ctx context.Context, s *StaffUser) error
	SetActive(ctx context.Context, s *StaffUser, active bool) error
	Remove(ctx context.Context, s *StaffUser) error
}

// LocalAccounts stores bcrypt password hashes in staff_user. It backs the
// standalone and development auth modes.
type LocalAccounts struct{}

func (LocalAccounts) Provision(_ context.Context, s *StaffUser, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return err
	}
	s.PasswordHash = hash
	return nil
}

func (LocalAccounts) SyncIdentity(context.Context, *StaffUser) error { return nil }

func (LocalAccounts) SetActive(context.Context, *StaffUser, bool) error { return nil }

func (LocalAccounts) Remove(context.Context, *StaffUser) error { return nil }

type firebaseAccounts interface {
	CreateAccount(ctx context.Context, acct auth.Account) (string, error)
	SetIdentity(ctx context.Context, uid string, a auth.Actor, tenantID string) error
	SetDisabled(ctx context.Context, uid string, disabled bool) error
	DeleteAccount(ctx context.Context, uid string) error
}

// FirebaseAccounts provisions staff as Firebase Authentication users whose
// custom claims carry the portal identity.
type FirebaseAccounts struct {
	fb firebaseAccounts
}

func NewFirebaseAccounts(p *auth.FirebaseProvisioner) *FirebaseAccounts {
	return &FirebaseAccounts{fb: p}
}

func (f *FirebaseAccounts) Provision(ctx context.Context, s *StaffUser, password string) error {
	if password != "" && len(password) < auth.MinPasswordLength {
		return fmt.Errorf("%w: %v", ErrValidation, auth.ErrPasswordTooShort)
	}
	uid, err := f.fb.CreateAccount(ctx, auth.Account{
		Email:       s.Email,
		Password:    password,
		DisplayName: s.Name,
		Phone:       s.Phone,
	})
	if err != nil {
		return err
	}
	s.AuthUID = &uid
	return nil
}

func (f *FirebaseAccounts) SyncIdentity(ctx context.Context, s *StaffUser) error {
	if s.AuthUID == nil {
		return nil
	}
	return f.fb.SetIdentity(ctx, *s.AuthUID, s.Actor(), db.TenantFromContext(ctx))
}

func (f *FirebaseAccounts) SetActive(ctx context.Context, s *StaffUser, active bool) error {
	if s.AuthUID == nil {
		return nil
	}
	return f.fb.SetDisabled(ctx, *s.AuthUID, !active)
}

func (f *FirebaseAccounts) Remove(ctx context.Context, s *StaffUser) error {
	if s.AuthUID == nil {
		return nil
	}
	return f.fb.DeleteAccount(ctx, *s.AuthUID)
}

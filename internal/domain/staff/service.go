package staff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compass/compass/internal/platform/auth"
	"github.com/compass/compass/internal/platform/db"
	"github.com/compass/compass/internal/platform/export"
	"github.com/compass/compass/internal/platform/telemetry"
)

var (
	ErrNotFound           = errors.New("staff user not found")
	ErrValidation         = errors.New("invalid staff user")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrLastAdmin          = errors.New("cannot remove the last active admin")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactive           = errors.New("account is disabled")
	ErrLoginUnavailable   = errors.New("password login is not enabled")
	ErrForbidden          = errors.New("not allowed")
)

// LoginResult is returned by a successful password login.
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Staff     *StaffUser `json:"staff"`
}

type Service struct {
	repo        Repository
	accounts    Provisioner
	issuer      *auth.TokenIssuer
	revocations *auth.RevocationStore
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewService builds the staff service. issuer is nil unless password login is
// served by this process.
func NewService(repo Repository, accounts Provisioner, issuer *auth.TokenIssuer, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	if accounts == nil {
		accounts = LocalAccounts{}
	}
	return &Service{
		repo:     repo,
		accounts: accounts,
		issuer:   issuer,
		metrics:  metrics,
		logger:   logger.With().Str("component", "staff").Logger(),
		now:      time.Now,
	}
}

// WithRevocations makes changes that narrow a user's access end the sessions
// they already hold.
func (s *Service) WithRevocations(store *auth.RevocationStore) *Service {
	s.revocations = store
	return s
}

// revokeSessions invalidates every token issued to u so far.
func (s *Service) revokeSessions(ctx context.Context, u *StaffUser) {
	if err := s.revocations.RevokeUser(ctx, u.ID.String()); err != nil {
		// The local cutoff is already in place; only other replicas miss it.
		s.logger.Error().Err(err).Str("staff_id", u.ID.String()).Msg("failed to share session revocation")
	}
}

// CreateStaff validates the request, provisions the login and stores the user.
func (s *Service) CreateStaff(ctx context.Context, req CreateRequest) (*StaffUser, error) {
	u := &StaffUser{
		ID:         uuid.New(),
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Role:       req.Role,
		HospitalID: req.HospitalID,
		Active:     true,
	}
	u.normalize()
	if err := u.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if u.Role == auth.RoleAdmin {
		u.HospitalID = nil
	}

	if _, err := s.repo.GetByEmail(ctx, u.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.accounts.Provision(ctx, u, req.Password); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if rmErr := s.accounts.Remove(ctx, u); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("email", u.Email).Msg("failed to roll back provisioned account")
		}
		return nil, err
	}
	if err := s.accounts.SyncIdentity(ctx, u); err != nil {
		s.rollbackCreate(ctx, u)
		return nil, fmt.Errorf("sync identity: %w", err)
	}
	return u, nil
}

// rollbackCreate undoes a half-finished CreateStaff so the email can be
// registered again.
func (s *Service) rollbackCreate(ctx context.Context, u *StaffUser) {
	if err := s.repo.Delete(ctx, u.ID); err != nil {
		s.logger.Error().Err(err).Str("staff_id", u.ID.String()).Msg("failed to roll back staff record")
	}
	if err := s.accounts.Remove(ctx, u); err != nil {
		s.logger.Error().Err(err).Str("email", u.Email).Msg("failed to roll back provisioned account")
	}
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*StaffUser, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStaff changes the contact details and hospital of a user.
func (s *Service) UpdateStaff(ctx context.Context, id uuid.UUID, req UpdateRequest) (*StaffUser, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	hospitalChanged := !sameHospital(u.HospitalID, req.HospitalID)
	u.Name = req.Name
	u.Phone = req.Phone
	u.HospitalID = req.HospitalID
	u.normalize()
	if err := u.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	if hospitalChanged {
		s.revokeSessions(ctx, u)
		if err := s.accounts.SyncIdentity(ctx, u); err != nil {
			return nil, fmt.Errorf("sync identity: %w", err)
		}
	}
	return u, nil
}

func sameHospital(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// guardLastAdmin fails when u is the only active admin.
func (s *Service) guardLastAdmin(ctx context.Context, u *StaffUser) error {
	if u.Role != auth.RoleAdmin || !u.Active {
		return nil
	}
	n, err := s.repo.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// ChangeRole moves a user to another role and refreshes their provider claims.
func (s *Service) ChangeRole(ctx context.Context, id uuid.UUID, role string, hospitalID *uuid.UUID) (*StaffUser, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == u.Role && (hospitalID == nil || sameHospital(u.HospitalID, hospitalID)) {
		return u, nil
	}
	if role != auth.RoleAdmin {
		if err := s.guardLastAdmin(ctx, u); err != nil {
			return nil, err
		}
	}
	u.Role = role
	if hospitalID != nil {
		u.HospitalID = hospitalID
	}
	if role == auth.RoleAdmin {
		u.HospitalID = nil
	}
	if err := u.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	s.revokeSessions(ctx, u)
	if err := s.accounts.SyncIdentity(ctx, u); err != nil {
		return nil, fmt.Errorf("sync identity: %w", err)
	}
	return u, nil
}

// SetActive enables or disables a user both locally and at the provider.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*StaffUser, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Active == active {
		return u, nil
	}
	if !active {
		if err := s.guardLastAdmin(ctx, u); err != nil {
			return nil, err
		}
	}
	if err := s.accounts.SetActive(ctx, u, active); err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	if !active {
		s.revokeSessions(ctx, u)
	}
	u.Active = active
	return u, nil
}

// DeleteStaff removes a user and their provider account.
func (s *Service) DeleteStaff(ctx context.Context, id uuid.UUID) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.guardLastAdmin(ctx, u); err != nil {
		return err
	}
	if err := s.accounts.Remove(ctx, u); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.revokeSessions(ctx, u)
	return nil
}

// ListStaff searches users. Callers other than admins only see their own
// hospital.
func (s *Service) ListStaff(ctx context.Context, params map[string]string, limit, offset int) ([]*StaffUser, int, error) {
	actor := auth.ActorFromContext(ctx)
	if !actor.IsAdmin() {
		if actor.HospitalID == "" {
			return nil, 0, ErrForbidden
		}
		params["hospital_id"] = actor.HospitalID
	}
	if h := params["hospital_id"]; h != "" {
		if _, err := uuid.Parse(h); err != nil {
			return nil, 0, fmt.Errorf("%w: hospital_id must be a UUID", ErrValidation)
		}
	}
	if r := params["role"]; r != "" {
		params["role"] = strings.ToLower(r)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Login verifies a password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if s.issuer == nil {
		return nil, ErrLoginUnavailable
	}
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInactive
	}

	now := s.now().UTC()
	if err := s.repo.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("staff_id", u.ID.String()).Msg("failed to record last login")
	}
	u.LastLoginAt = &now

	token, exp, err := s.issuer.Issue(u.Actor(), db.TenantFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, Staff: u}, nil
}

// Me returns the staff record of the caller.
func (s *Service) Me(ctx context.Context) (*StaffUser, error) {
	actor := auth.ActorFromContext(ctx)
	if actor.StaffID != "" {
		id, err := uuid.Parse(actor.StaffID)
		if err == nil {
			return s.repo.GetByID(ctx, id)
		}
	}
	if actor.UserID != "" {
		return s.repo.GetByAuthUID(ctx, actor.UserID)
	}
	return nil, ErrNotFound
}

// RegisterDeviceToken stores the caller's FCM token. An empty token
// unregisters the device.
func (s *Service) RegisterDeviceToken(ctx context.Context, token string) error {
	u, err := s.Me(ctx)
	if err != nil {
		return err
	}
	if len(token) > 4096 {
		return fmt.Errorf("%w: device token too long", ErrValidation)
	}
	return s.repo.SetDeviceToken(ctx, u.ID, strings.TrimSpace(token))
}

var exportColumns = []export.Column{
	{Key: "name", Header: "Name", Width: 26},
	{Key: "email", Header: "Email", Width: 30},
	{Key: "phone", Header: "Phone", Width: 14},
	{Key: "role", Header: "Role", Width: 10},
	{Key: "hospital_id", Header: "Hospital ID", Width: 38},
	{Key: "active", Header: "Active", Width: 8},
	{Key: "last_login", Header: "Last Login", Width: 14},
}

// Export writes every staff user matching params to w.
func (s *Service) Export(ctx context.Context, params map[string]string, format export.Format, w io.Writer) error {
	users, _, err := s.ListStaff(ctx, params, 0, 0)
	if err != nil {
		return err
	}
	table := &export.Table{
		Title:       "Staff",
		Columns:     exportColumns,
		GeneratedAt: s.now(),
	}
	for _, u := range users {
		hospital := ""
		if u.HospitalID != nil {
			hospital = u.HospitalID.String()
		}
		active := "No"
		if u.Active {
			active = "Yes"
		}
		table.Rows = append(table.Rows, []string{
			u.Name, u.Email, u.Phone, u.Role, hospital, active, export.FormatDate(u.LastLoginAt),
		})
	}
	if err := export.Write(w, format, table); err != nil {
		return err
	}
	s.metrics.Exported("staff", string(format))
	return nil
}

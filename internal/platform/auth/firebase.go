package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"google.golang.org/api/option"
)

// NewFirebaseApp initialises the Admin SDK. An empty credentialsFile uses
// application default credentials.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

// IDTokenVerifier is satisfied by *fbauth.Client.
type IDTokenVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseMiddleware authenticates Firebase ID tokens, rejecting those of
// disabled users or issued before the user's refresh tokens were revoked.
// Portal identity lives in custom claims set by FirebaseProvisioner.
// revocations may be nil.
func FirebaseMiddleware(verifier IDTokenVerifier, defaultTenant string, skipper func(echo.Context) bool, revocations *RevocationStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			token, err := verifier.VerifyIDTokenAndCheckRevoked(c.Request().Context(), tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			claims := claimsFromFirebase(token, defaultTenant)
			if revocations.revokes(c.Request().Context(), claims) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}
			if len(claims.Roles) == 0 {
				return echo.NewHTTPError(http.StatusForbidden, "account has no portal role")
			}
			setIdentity(c, claims)
			return next(c)
		}
	}
}

func claimsFromFirebase(token *fbauth.Token, defaultTenant string) *Claims {
	str := func(key string) string {
		v, _ := token.Claims[key].(string)
		return v
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  token.UID,
			IssuedAt: jwt.NewNumericDate(time.Unix(token.IssuedAt, 0)),
		},
		TenantID:         str("tenant_id"),
		HospitalID:       str("hospital_id"),
		StaffID:          str("staff_id"),
	}
	if claims.TenantID == "" {
		claims.TenantID = defaultTenant
	}
	if role := str("role"); ValidRole(role) {
		claims.Roles = []string{role}
	}
	return claims
}

// firebaseUsers is the part of *fbauth.Client the provisioner needs.
type firebaseUsers interface {
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *fbauth.UserToUpdate) (*fbauth.UserRecord, error)
	SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
	RevokeRefreshTokens(ctx context.Context, uid string) error
	DeleteUser(ctx context.Context, uid string) error
}

// Account describes a login to create for a staff member.
type Account struct {
	Email       string
	Password    string
	DisplayName string
	Phone       string
}

// FirebaseProvisioner manages Firebase Authentication users for staff.
type FirebaseProvisioner struct {
	users firebaseUsers
}

func NewFirebaseProvisioner(client *fbauth.Client) *FirebaseProvisioner {
	return &FirebaseProvisioner{users: client}
}

// CreateAccount creates the login and returns its uid.
func (p *FirebaseProvisioner) CreateAccount(ctx context.Context, acct Account) (string, error) {
	params := (&fbauth.UserToCreate{}).
		Email(acct.Email).
		DisplayName(acct.DisplayName)
	// Without a password the user signs in through a reset link.
	if acct.Password != "" {
		params = params.Password(acct.Password)
	}
	if acct.Phone != "" {
		params = params.PhoneNumber("+91" + acct.Phone)
	}
	rec, err := p.users.CreateUser(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create firebase user: %w", err)
	}
	return rec.UID, nil
}

// SetIdentity stores the portal identity as custom claims on uid and revokes
// the sessions that still carry the old claims.
func (p *FirebaseProvisioner) SetIdentity(ctx context.Context, uid string, a Actor, tenantID string) error {
	claims := map[string]interface{}{
		"role":        a.PrimaryRole(),
		"hospital_id": a.HospitalID,
		"staff_id":    a.StaffID,
		"tenant_id":   tenantID,
	}
	if err := p.users.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("set custom claims: %w", err)
	}
	return p.revoke(ctx, uid)
}

// SetDisabled blocks or restores sign-in. Disabling also ends every session.
func (p *FirebaseProvisioner) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	if _, err := p.users.UpdateUser(ctx, uid, (&fbauth.UserToUpdate{}).Disabled(disabled)); err != nil {
		return fmt.Errorf("update firebase user: %w", err)
	}
	if disabled {
		return p.revoke(ctx, uid)
	}
	return nil
}

func (p *FirebaseProvisioner) revoke(ctx context.Context, uid string) error {
	if err := p.users.RevokeRefreshTokens(ctx, uid); err != nil {
		return fmt.Errorf("revoke firebase sessions: %w", err)
	}
	return nil
}

func (p *FirebaseProvisioner) DeleteAccount(ctx context.Context, uid string) error {
	if err := p.users.DeleteUser(ctx, uid); err != nil && !fbauth.IsUserNotFound(err) {
		return fmt.Errorf("delete firebase user: %w", err)
	}
	return nil
}

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const standaloneIssuer = "compass"

// TokenIssuer signs and validates HS256 session tokens for the standalone auth
// mode, where staff log in with a password stored in the portal database.
type TokenIssuer struct {
	key         []byte
	ttl         time.Duration
	now         func() time.Time
	revocations *RevocationStore
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl, now: time.Now}
}

// WithRevocations makes the issuer's middleware reject tokens revoked in store.
func (i *TokenIssuer) WithRevocations(store *RevocationStore) *TokenIssuer {
	i.revocations = store
	return i
}

// Revocations returns the store set by WithRevocations. Safe on a nil issuer.
func (i *TokenIssuer) Revocations() *RevocationStore {
	if i == nil {
		return nil
	}
	return i.revocations
}

// Issue signs a token for the actor in tenantID and returns it with its expiry.
func (i *TokenIssuer) Issue(a Actor, tenantID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    standaloneIssuer,
			Subject:   a.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID:   tenantID,
		Roles:      a.Roles,
		HospitalID: a.HospitalID,
		StaffID:    a.StaffID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates a token issued by Issue.
func (i *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) { return i.key, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(standaloneIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware validates locally issued tokens.
func (i *TokenIssuer) Middleware(skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return JWTMiddleware(JWTConfig{
		Issuer:      standaloneIssuer,
		SigningKey:  i.key,
		Skipper:     skipper,
		Revocations: i.revocations,
	})
}

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	UserRolesKey  contextKey = "user_roles"
	StaffIDKey    contextKey = "staff_id"
	HospitalIDKey contextKey = "hospital_id"
)

// Claims carried by portal tokens, whether issued locally or by an external
// identity provider.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tenant_id"`
	Roles      []string `json:"roles"`
	HospitalID string   `json:"hospital_id,omitempty"`
	StaffID    string   `json:"staff_id,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HS256 for locally issued tokens.
	SigningKey []byte
	Skipper    func(echo.Context) bool
	// Revocations, when set, rejects tokens issued before a staff cutoff.
	Revocations *RevocationStore
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches RSA keys from a remote JWKS endpoint.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the key for kid, refetching on a miss or after the TTL so
// rotated keys are picked up.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

// JWKSURLForIssuer falls back to the conventional well-known location when
// AUTH_JWKS_URL is unset.
func JWKSURLForIssuer(issuer string) string {
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// setIdentity publishes claims to the echo and request contexts.
func setIdentity(c echo.Context, claims *Claims) {
	c.Set("jwt_tenant_id", claims.TenantID)
	ctx := WithActor(c.Request().Context(), Actor{
		UserID:     claims.Subject,
		StaffID:    claims.StaffID,
		HospitalID: claims.HospitalID,
		Roles:      claims.Roles,
	})
	c.SetRequest(c.Request().WithContext(ctx))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" && cfg.Issuer != "" {
			jwksURL = JWKSURLForIssuer(cfg.Issuer)
		}
		cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("token has no kid header")
			}
			return cache.GetKey(kid)
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if cfg.Revocations.revokes(c.Request().Context(), claims) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}

			setIdentity(c, claims)
			return next(c)
		}
	}
}

// DevAuthMiddleware grants admin access to requests without a token. Requests
// that do carry one are validated with the issuer's key so role-specific
// behaviour can still be exercised locally.
func DevAuthMiddleware(issuer *TokenIssuer, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" || issuer == nil {
				setIdentity(c, &Claims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
					TenantID:         defaultTenant,
					Roles:            []string{RoleAdmin},
				})
				return next(c)
			}

			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			claims, err := issuer.Parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if issuer.revocations.revokes(c.Request().Context(), claims) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}
			setIdentity(c, claims)
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func StaffIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(StaffIDKey).(string)
	return id
}

func HospitalIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(HospitalIDKey).(string)
	return id
}

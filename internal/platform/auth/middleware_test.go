package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPError(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectHTTPError(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:   "pune",
		Roles:      []string{RoleDoctor},
		HospitalID: "hosp-1",
		StaffID:    "staff-9",
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor Actor
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.UserID != "uid-42" || actor.StaffID != "staff-9" || actor.HospitalID != "hosp-1" {
		t.Errorf("unexpected actor %+v", actor)
	}
	if !actor.HasRole(RoleDoctor) {
		t.Errorf("expected doctor role, got %v", actor.Roles)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "pune" {
		t.Errorf("expected tenant pune, got %q", tid)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Roles: []string{RoleNurse},
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPError(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{Roles: []string{RoleASHA}}, []byte("another-key"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPError(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var actor Actor
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	}

	if err := DevAuthMiddleware(nil, "default")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.UserID != "dev-user" || !actor.IsAdmin() {
		t.Errorf("expected dev admin, got %+v", actor)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "default" {
		t.Errorf("expected default tenant, got %q", tid)
	}
}

func TestDevAuthMiddleware_WithToken(t *testing.T) {
	issuer := NewTokenIssuer(testSigningKey, time.Hour)
	tokenStr, _, err := issuer.Issue(Actor{UserID: "u1", StaffID: "s1", HospitalID: "h1", Roles: []string{RoleASHA}}, "default")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var actor Actor
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return nil
	}
	if err := DevAuthMiddleware(issuer, "default")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.IsAdmin() || !actor.HasRole(RoleASHA) {
		t.Errorf("expected asha actor from token, got %+v", actor)
	}
}

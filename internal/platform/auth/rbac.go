package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Portal roles.
const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
	RoleNurse  = "nurse"
	RoleASHA   = "asha"
)

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDoctor, RoleNurse, RoleASHA:
		return true
	}
	return false
}

// Actor is the authenticated staff member behind a request.
type Actor struct {
	UserID     string
	StaffID    string
	HospitalID string
	Roles      []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// PrimaryRole returns the most privileged role the actor holds.
func (a Actor) PrimaryRole() string {
	for _, r := range []string{RoleAdmin, RoleDoctor, RoleNurse, RoleASHA} {
		if a.HasRole(r) {
			return r
		}
	}
	return ""
}

// ActorFromContext assembles the actor from the values the auth middleware
// stored on ctx.
func ActorFromContext(ctx context.Context) Actor {
	return Actor{
		UserID:     UserIDFromContext(ctx),
		StaffID:    StaffIDFromContext(ctx),
		HospitalID: HospitalIDFromContext(ctx),
		Roles:      RolesFromContext(ctx),
	}
}

// WithActor stores a on ctx the same way the auth middleware does.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, a.Roles)
	ctx = context.WithValue(ctx, StaffIDKey, a.StaffID)
	ctx = context.WithValue(ctx, HospitalIDKey, a.HospitalID)
	return ctx
}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

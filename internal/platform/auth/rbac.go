package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/respond"
)

// Role names as they appear in the users table and in token claims.
const (
	RoleAdmin    = "ADMIN"
	RoleProvider = "PROVIDER"
	RolePatient  = "PATIENT"
)

// RequireRole returns middleware that rejects the request unless the caller
// holds one of the given roles. ADMIN passes every role gate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleFromContext(c.Request().Context())
			if role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if role == required {
					return next(c)
				}
			}
			return respond.Forbidden(fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// IsAdmin reports whether the role string is the admin role.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

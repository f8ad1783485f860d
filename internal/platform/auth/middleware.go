package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/respond"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRoleKey  contextKey = "user_role"
	UserEmailKey contextKey = "user_email"
	ProviderKey  contextKey = "auth_provider"
	ClaimsKey    contextKey = "auth_claims"
)

// Authenticate returns middleware that requires a valid bearer token on every
// request whose path is not public, and loads the token's claims into the
// request context.
func Authenticate(verifier *Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			tokenStr, err := BearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				return err
			}

			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				return respond.Unauthorized("invalid token")
			}

			c.SetRequest(c.Request().WithContext(ContextWithClaims(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", respond.Unauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", respond.Unauthorized("invalid authorization format")
	}
	return parts[1], nil
}

// ContextWithClaims stores the authenticated identity on the context. The
// WebSocket handshake uses it directly after verifying its own credential.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRoleKey, claims.Role)
	ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
	ctx = context.WithValue(ctx, ProviderKey, claims.Provider)
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return ctx
}

// ClaimsFromContext returns the full claim set, or nil outside an
// authenticated request.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// UserIDFromContext returns the authenticated user's ID (token subject).
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// CallerID returns the authenticated local user ID as a UUID. External
// subjects must have been resolved to a local user before this is called.
func CallerID(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, respond.Unauthorized("no authenticated user")
	}
	return id, nil
}

// RoleFromContext returns the authenticated user's role.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}

// EmailFromContext returns the authenticated user's email.
func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

// ProviderFromContext returns which token source authenticated the request.
func ProviderFromContext(ctx context.Context) string {
	p, _ := ctx.Value(ProviderKey).(string)
	return p
}

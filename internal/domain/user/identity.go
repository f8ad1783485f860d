package user

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

// ResolveIdentity maps an externally issued token's subject to the local user
// row so every downstream check sees a local user ID and role. Local tokens
// already carry them; external subjects are looked up by (provider, subject).
// The sync endpoint is exempt because it exists to create that mapping.
func ResolveIdentity(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := auth.ClaimsFromContext(c.Request().Context())
			if claims == nil || claims.Issuer == auth.LocalIssuer {
				return next(c)
			}
			if strings.HasSuffix(c.Path(), "/auth/sync") {
				return next(c)
			}

			u, err := svc.repo.GetByExternalID(c.Request().Context(), ProviderOIDC, claims.Subject)
			if errors.Is(err, ErrNotFound) {
				return respond.Unauthorized("account not provisioned; call /auth/sync first")
			}
			if err != nil {
				return err
			}
			if !u.IsActive {
				return respond.Unauthorized("account is deactivated")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, auth.UserIDKey, u.ID.String())
			ctx = context.WithValue(ctx, auth.UserRoleKey, u.Role)
			ctx = context.WithValue(ctx, auth.UserEmailKey, u.Email)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

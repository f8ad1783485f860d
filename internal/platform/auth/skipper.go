package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass authentication: infrastructure
// endpoints and the credential endpoints themselves.
var publicPaths = map[string]bool{
	"/health":               true,
	"/api/v1/auth/register": true,
	"/api/v1/auth/login":    true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses auth.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

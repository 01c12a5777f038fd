package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// anonymousUser is the principal for unauthenticated requests.
const anonymousUser = "anonymous"

// extractUser resolves the caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-User-ID > anonymous.
func extractUser(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if user := c.Request().Header.Get("X-User-ID"); user != "" {
		return user
	}
	return anonymousUser
}

// extractToken returns the bearer token from the Authorization header,
// or empty. The token is passed through to the store as an opaque auth
// principal; the API never inspects it.
func extractToken(c *echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

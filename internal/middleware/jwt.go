package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/utils"
)

// SessionIdentity resolves the caller's session id and stores it under
// "session_id". A Bearer session token wins; otherwise the X-Session-ID
// header is trusted as is. A malformed or expired token is rejected with
// 401 rather than silently falling back.
func SessionIdentity(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				id, err := utils.ParseSessionToken(secret, strings.TrimPrefix(auth, "Bearer "))
				if err != nil {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session token"})
				}
				c.Set(sessionKey, id)
				return next(c)
			}
			if id := strings.TrimSpace(c.Request().Header.Get(HeaderSessionID)); id != "" {
				c.Set(sessionKey, id)
			}
			return next(c)
		}
	}
}

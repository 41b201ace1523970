package middleware

import "github.com/labstack/echo/v4"

// HeaderSessionID carries an anonymous session id when no token is sent.
const HeaderSessionID = "X-Session-ID"

const sessionKey = "session_id"

// SessionID returns the session resolved by SessionIdentity, or "" when the
// request carried none.
func SessionID(c echo.Context) string {
	if s, ok := c.Get(sessionKey).(string); ok {
		return s
	}
	return ""
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/utils"
)

// SessionHandler issues anonymous browsing sessions. A session is what owns
// holds; it is not a user account.
type SessionHandler struct {
	Secret string
	TTL    time.Duration
	Clock  clock.Clock
	Log    *slog.Logger
}

// Create handles POST /v1/sessions. It returns a fresh session id and a
// signed token carrying it.
func (h *SessionHandler) Create(c echo.Context) error {
	id := uuid.NewString()
	tok, err := utils.NewSessionToken(h.Secret, id, h.TTL, h.Clock.Now())
	if err != nil {
		h.Log.Error("sign session token", "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"sessionId": id,
		"token":     tok.Token,
		"expiresAt": tok.Exp,
	})
}

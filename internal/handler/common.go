// Package handler holds the echo handlers of the seat-hold API.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

var errNoSession = errors.New("session id is required")

// parseID reads a positive uint64 path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// sessionOf prefers the identity resolved by middleware over the one sent
// in the request body.
func sessionOf(c echo.Context, fromBody string) string {
	if id := middleware.SessionID(c); id != "" {
		return id
	}
	return fromBody
}

func screeningNotFound(c echo.Context, err error) (bool, error) {
	if errors.Is(err, repository.ErrScreeningNotFound) {
		return true, c.JSON(http.StatusNotFound, echo.Map{"error": "screening not found"})
	}
	return false, nil
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

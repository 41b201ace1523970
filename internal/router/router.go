// Package router registers the HTTP routes of the seat-hold API.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/handler"
)

// RegisterRoutes registers the probes, which never pass through session or
// rate-limit middleware.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterSessions registers anonymous session issuance.
func RegisterSessions(e *echo.Echo, h *handler.SessionHandler) {
	e.POST("/v1/sessions", h.Create)
}

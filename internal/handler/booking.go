package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/booking"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// Purger drops cached responses for a request path.
type Purger interface {
	Purge(ctx context.Context, path string)
}

// BookingHandler exposes the booking executor over HTTP.
type BookingHandler struct {
	Executor *booking.Executor
	Cache    Purger
	Log      *slog.Logger
}

type makeBookingRequest struct {
	ScreeningID uint64                   `json:"screening_id"`
	SessionID   string                   `json:"sessionId"`
	Seats       []booking.SeatAssignment `json:"seats"`
}

// LayoutPath is the request path of a screening's seat map.
func LayoutPath(screeningID uint64) string {
	return fmt.Sprintf("/v1/screenings/%d/layout", screeningID)
}

// MakeBooking handles POST /v1/makeBooking. 201 carries the booking, 409
// lists every seat that was already taken.
func (h *BookingHandler) MakeBooking(c echo.Context) error {
	var body makeBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	res, err := h.Executor.Commit(ctx, booking.CommitRequest{
		ScreeningID: body.ScreeningID,
		SessionID:   sessionOf(c, body.SessionID),
		Seats:       body.Seats,
	})
	switch {
	case errors.Is(err, booking.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrScreeningNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "screening not found"})
	case err != nil:
		h.Log.Warn("make booking failed", "screening_id", body.ScreeningID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking failed"})
	}
	if !res.OK {
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "some seats are no longer available",
			"taken": res.Conflicts,
		})
	}
	if h.Cache != nil {
		h.Cache.Purge(context.WithoutCancel(ctx), LayoutPath(body.ScreeningID))
	}
	return c.JSON(http.StatusCreated, res.Booking)
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	b, err := h.Executor.Get(c.Request().Context(), id)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	}
	if err != nil {
		return internalError(c)
	}
	return c.JSON(http.StatusOK, b)
}

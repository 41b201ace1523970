package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/holds"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// SeatHandler serves the seat map of a screening and the hold endpoints.
type SeatHandler struct {
	Holds      *holds.Store
	Screenings *repository.ScreeningRepo
	Bookings   *repository.BookingRepo
	TTL        time.Duration
	Log        *slog.Logger
}

type holdRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// Hold handles POST /v1/screenings/:id/seats/:seatId/hold. The action is
// "hold" (default), "extend" or "release". Losing a seat to another session
// is a normal {ok:false} answer, not an error status.
func (h *SeatHandler) Hold(c echo.Context) error {
	screeningID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	seatID, ok := parseID(c, "seatId")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	var body holdRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	session := sessionOf(c, body.SessionID)
	if session == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": errNoSession.Error()})
	}

	ctx := c.Request().Context()
	scr, err := h.Screenings.GetByID(ctx, screeningID)
	if err != nil {
		if nf, rerr := screeningNotFound(c, err); nf {
			return rerr
		}
		h.Log.Error("load screening", "screening_id", screeningID, "err", err)
		return internalError(c)
	}

	switch body.Action {
	case "release":
		released := h.Holds.Release(screeningID, seatID, session, false)
		return c.JSON(http.StatusOK, echo.Map{"ok": released})
	case "", "hold", "extend":
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "action must be hold, extend or release"})
	}

	inAuditorium, err := h.Screenings.SeatInAuditorium(ctx, scr.AuditoriumID, seatID)
	if err != nil {
		h.Log.Error("check seat", "screening_id", screeningID, "seat_id", seatID, "err", err)
		return internalError(c)
	}
	if !inAuditorium {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	}
	err = h.Holds.EnsureWarm(screeningID, func() ([]uint64, error) {
		return h.Bookings.OccupiedSeats(ctx, screeningID)
	})
	if err != nil {
		h.Log.Error("load occupied seats", "screening_id", screeningID, "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, h.Holds.Hold(screeningID, seatID, session, h.TTL))
}

// ReleaseMine handles DELETE /v1/screenings/:id/holds: every hold of the
// calling session on the screening is released.
func (h *SeatHandler) ReleaseMine(c echo.Context) error {
	screeningID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	session := sessionOf(c, c.QueryParam("sessionId"))
	if session == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": errNoSession.Error()})
	}
	released := h.Holds.ReleaseSession(screeningID, session)
	if released == nil {
		released = []uint64{}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// HoldSnapshot handles GET /v1/screenings/:id/holds.
func (h *SeatHandler) HoldSnapshot(c echo.Context) error {
	screeningID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"screeningId": screeningID,
		"held":        h.Holds.Snapshot(screeningID),
	})
}

type layoutSeat struct {
	ID         uint64 `json:"id"`
	Taken      bool   `json:"taken"`
	SeatNumber int    `json:"seatNumber"`
}

type layoutRow struct {
	RowLabel string       `json:"row_label"`
	RowIndex int          `json:"row_index"`
	Seats    []layoutSeat `json:"seats"`
}

// Layout handles GET /v1/screenings/:id/layout. Seats are grouped by row in
// display order; taken means booked, holds are not reflected.
func (h *SeatHandler) Layout(c echo.Context) error {
	screeningID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	ctx := c.Request().Context()
	scr, err := h.Screenings.GetByID(ctx, screeningID)
	if err != nil {
		if nf, rerr := screeningNotFound(c, err); nf {
			return rerr
		}
		h.Log.Error("load screening", "screening_id", screeningID, "err", err)
		return internalError(c)
	}
	seats, err := h.Screenings.Seats(ctx, scr.AuditoriumID)
	if err != nil {
		h.Log.Error("load seats", "auditorium_id", scr.AuditoriumID, "err", err)
		return internalError(c)
	}
	occupied, err := h.Bookings.OccupiedSeats(ctx, screeningID)
	if err != nil {
		h.Log.Error("load occupied seats", "screening_id", screeningID, "err", err)
		return internalError(c)
	}
	taken := make(map[uint64]bool, len(occupied))
	for _, id := range occupied {
		taken[id] = true
	}

	rows := []layoutRow{}
	for _, s := range seats {
		if n := len(rows); n == 0 || rows[n-1].RowIndex != s.RowIndex {
			rows = append(rows, layoutRow{RowLabel: s.RowLabel, RowIndex: s.RowIndex})
		}
		last := &rows[len(rows)-1]
		last.Seats = append(last.Seats, layoutSeat{ID: s.ID, Taken: taken[s.ID], SeatNumber: s.SeatNumber})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"screening_id":    scr.ID,
		"auditorium_name": scr.AuditoriumName,
		"movie_title":     scr.MovieTitle,
		"starts_at":       scr.StartsAt,
		"rows":            rows,
	})
}

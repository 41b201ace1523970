package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/broadcast"
	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

// StreamHandler serves the per-screening Server-Sent Events feed.
type StreamHandler struct {
	Broadcaster *broadcast.Broadcaster
	Screenings  *repository.ScreeningRepo
	Clock       clock.Clock
	Heartbeat   time.Duration
	Buffer      int
	Log         *slog.Logger
}

// Stream handles GET /v1/bookings/stream?screeningId=ID and
// GET /v1/screenings/:id/seats/stream. The first event is always a fresh
// snapshot, also when the client reconnects with Last-Event-ID.
func (h *StreamHandler) Stream(c echo.Context) error {
	raw := c.Param("id")
	if raw == "" {
		raw = c.QueryParam("screeningId")
	}
	screeningID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || screeningID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screening id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Screenings.GetByID(ctx, screeningID); err != nil {
		if nf, rerr := screeningNotFound(c, err); nf {
			return rerr
		}
		h.Log.Error("load screening", "screening_id", screeningID, "err", err)
		return internalError(c)
	}

	log := h.Log.With("screening_id", screeningID, "remote", c.RealIP())
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		log.Info("stream resumed, sending snapshot", "last_event_id", last)
	}

	q := broadcast.NewQueue(h.Buffer)
	defer q.Close()
	unsubscribe, err := h.Broadcaster.Subscribe(ctx, screeningID, q)
	if err != nil {
		log.Error("subscribe", "err", err)
		return internalError(c)
	}
	defer unsubscribe()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := h.Clock.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-q.Events():
			if err := writeEvent(res, ev); err != nil {
				log.Debug("stream write failed", "err", err)
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": keepalive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case <-q.Done():
			log.Warn("stream dropped by broadcaster")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(res *echo.Response, ev seatevent.Event) error {
	err := sse.Encode(res, sse.Event{
		Id:    strconv.FormatUint(ev.ID, 10),
		Event: ev.Type,
		Data:  ev.Data,
	})
	if err != nil {
		return err
	}
	res.Flush()
	return nil
}

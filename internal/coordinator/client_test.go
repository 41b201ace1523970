package coordinator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/booking"
	"github.com/iliyamo/cinema-seat-hold/internal/broadcast"
	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/holds"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/router"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
	"github.com/iliyamo/cinema-seat-hold/internal/testutil"
)

func startServer(t *testing.T) (*httptest.Server, *database.SeedResult) {
	t.Helper()
	db, seed := testutil.SeededDB(t, 4, 6)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Real()
	screenings := repository.NewScreeningRepo(db)
	bookings := repository.NewBookingRepo(db)
	store := holds.NewStore(clk, 2*time.Minute, logger)
	bc := broadcast.New(store, bookings, logger)
	store.SetEmitter(bc)

	e := echo.New()
	router.RegisterSessions(e, &handler.SessionHandler{Secret: "s", TTL: time.Hour, Clock: clk, Log: logger})
	router.RegisterScreenings(e, router.Screening{
		Seats: &handler.SeatHandler{Holds: store, Screenings: screenings, Bookings: bookings, TTL: 2 * time.Minute, Log: logger},
		Stream: &handler.StreamHandler{
			Broadcaster: bc, Screenings: screenings, Clock: clk,
			Heartbeat: time.Minute, Buffer: 64, Log: logger,
		},
		Bookings: &handler.BookingHandler{Executor: booking.NewExecutor(db, store, bc), Log: logger},
		Identity: middleware.SessionIdentity("s"),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		bc.Close()
		srv.Close()
		store.Close()
	})
	return srv, seed
}

func TestClientDrivesCoordinatorEndToEnd(t *testing.T) {
	srv, seed := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := NewHTTPClient(srv.URL)
	sess, err := alice.CreateSession(ctx)
	require.NoError(t, err)
	layout, err := alice.Layout(ctx, seed.ScreeningID)
	require.NoError(t, err)
	require.Len(t, layout.Rows, 4)
	require.Len(t, layout.Rows[0].Seats, 6)

	events := make(chan seatevent.Event, 64)
	c := New(alice, seed.ScreeningID, sess.SessionID, layout)
	go func() {
		_ = alice.Stream(ctx, seed.ScreeningID, func(ev seatevent.Event) {
			c.ApplyEvent(ev)
			events <- ev
		})
	}()
	snap := testutil.Receive(t, events, 5*time.Second, "snapshot")
	require.Equal(t, seatevent.TypeSnapshot, snap.Type)

	require.NoError(t, c.SetRequired(ctx, 2))
	picked := c.Selected()
	require.Len(t, picked, 2)
	for range picked {
		ev := testutil.Receive(t, events, 5*time.Second, "seat:held")
		assert.Equal(t, seatevent.TypeHeld, ev.Type)
	}

	// Bob cannot take Alice's seats.
	bob := NewHTTPClient(srv.URL)
	bobSess, err := bob.CreateSession(ctx)
	require.NoError(t, err)
	reply, err := bob.Hold(ctx, seed.ScreeningID, picked[0], ActionHold, "")
	require.NoError(t, err)
	assert.False(t, reply.OK)

	out, err := c.Finalize(ctx, func(uint64) uint64 { return seed.TicketTypeIDs[0] })
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Len(t, out.Confirmation, 10)
	assert.EqualValues(t, 2400, out.TotalPrice)

	ev := testutil.Receive(t, events, 5*time.Second, "seat:booked")
	require.Equal(t, seatevent.TypeBooked, ev.Type)
	assert.ElementsMatch(t, picked, ev.Data.(seatevent.SeatBooked).SeatIDs)

	out, err = bob.Book(ctx, BookingRequest{
		ScreeningID: seed.ScreeningID,
		SessionID:   bobSess.SessionID,
		Seats:       []SeatTicket{{SeatID: picked[1], TicketTypeID: seed.TicketTypeIDs[0]}},
	})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, []uint64{picked[1]}, out.Conflicts)

	layout, err = bob.Layout(ctx, seed.ScreeningID)
	require.NoError(t, err)
	taken := 0
	for _, r := range layout.Rows {
		for _, s := range r.Seats {
			if s.Taken {
				taken++
			}
		}
	}
	assert.Equal(t, 2, taken)
}

func TestClientReportsStatusErrors(t *testing.T) {
	srv, _ := startServer(t)
	c := NewHTTPClient(srv.URL)

	_, err := c.Layout(context.Background(), 9999)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "screening not found", se.Message)

	err = c.Stream(context.Background(), 9999, func(seatevent.Event) {})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestReadEvents(t *testing.T) {
	raw := strings.Join([]string{
		"id:4",
		"event:seat:held",
		`data:{"screeningId":1,"seatId":7,"sessionId":"a","expiresAt":"2026-05-01T20:00:00Z"}`,
		"",
		": keepalive",
		"",
		"id: 5",
		"event: seat:booked",
		`data: {"screeningId":1,"seatIds":[7],"bookingId":3}`,
		"",
		"id:6",
		"event:seat:held",
		"data:{not json",
		"",
	}, "\n")

	var got []seatevent.Event
	received, err := readEvents(strings.NewReader(raw), func(ev seatevent.Event) { got = append(got, ev) })
	require.NoError(t, err)
	assert.True(t, received)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].ID)
	assert.Equal(t, uint64(7), got[0].Data.(seatevent.SeatHeld).SeatID)
	assert.Equal(t, uint64(5), got[1].ID)
	assert.Equal(t, []uint64{7}, got[1].Data.(seatevent.SeatBooked).SeatIDs)
}

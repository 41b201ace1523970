package handler_test

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

const secret = "test-secret"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type purgeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (p *purgeRecorder) Purge(_ context.Context, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
}

type app struct {
	e      *echo.Echo
	db     *sql.DB
	seed   *database.SeedResult
	seats  []uint64
	clk    *clock.FakeClock
	store  *holds.Store
	bc     *broadcast.Broadcaster
	purged *purgeRecorder
}

func newApp(t *testing.T) *app {
	t.Helper()
	db, seed := testutil.SeededDB(t, 3, 4)
	a := &app{
		db:     db,
		seed:   seed,
		seats:  testutil.SeatIDs(t, db, seed.AuditoriumID),
		clk:    clock.NewFake(time.Now()),
		purged: &purgeRecorder{},
	}
	screenings := repository.NewScreeningRepo(db)
	bookings := repository.NewBookingRepo(db)
	a.store = holds.NewStore(a.clk, 2*time.Minute, nil)
	a.bc = broadcast.New(a.store, bookings, nil)
	a.store.SetEmitter(a.bc)
	t.Cleanup(func() {
		a.bc.Close()
		a.store.Close()
	})

	a.e = echo.New()
	router.RegisterRoutes(a.e, db)
	router.RegisterSessions(a.e, &handler.SessionHandler{Secret: secret, TTL: time.Hour, Clock: a.clk, Log: discard()})
	router.RegisterScreenings(a.e, router.Screening{
		Seats: &handler.SeatHandler{Holds: a.store, Screenings: screenings, Bookings: bookings, TTL: 2 * time.Minute, Log: discard()},
		Stream: &handler.StreamHandler{
			Broadcaster: a.bc, Screenings: screenings, Clock: a.clk,
			Heartbeat: 20 * time.Second, Buffer: 16, Log: discard(),
		},
		Bookings: &handler.BookingHandler{
			Executor: booking.NewExecutor(db, a.store, a.bc, booking.WithClock(a.clk)),
			Cache:    a.purged,
			Log:      discard(),
		},
		Identity: middleware.SessionIdentity(secret),
	})
	return a
}

func (a *app) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *app) hold(t *testing.T, seatID uint64, action, session string) *httptest.ResponseRecorder {
	t.Helper()
	path := fmt.Sprintf("/v1/screenings/%d/seats/%d/hold", a.seed.ScreeningID, seatID)
	return a.do(t, http.MethodPost, path, fmt.Sprintf(`{"action":%q,"sessionId":%q}`, action, session))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type holdResponse struct {
	OK        bool      `json:"ok"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason"`
}

type layoutResponse struct {
	ScreeningID    uint64 `json:"screening_id"`
	AuditoriumName string `json:"auditorium_name"`
	Rows           []struct {
		RowLabel string `json:"row_label"`
		Seats    []struct {
			ID         uint64 `json:"id"`
			Taken      bool   `json:"taken"`
			SeatNumber int    `json:"seatNumber"`
		} `json:"seats"`
	} `json:"rows"`
}

func TestHoldBookThenOccupied(t *testing.T) {
	a := newApp(t)
	s1, s2 := a.seats[0], a.seats[1]

	rec := a.hold(t, s1, "hold", "a")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[holdResponse](t, rec)
	assert.True(t, got.OK)
	assert.WithinDuration(t, a.clk.Now().Add(2*time.Minute), got.ExpiresAt, time.Second)

	got = decode[holdResponse](t, a.hold(t, s1, "hold", "b"))
	assert.False(t, got.OK)
	assert.Equal(t, holds.ReasonHeld, got.Reason)
	assert.True(t, decode[holdResponse](t, a.hold(t, s2, "hold", "b")).OK)

	body := fmt.Sprintf(`{"screening_id":%d,"sessionId":"a","seats":[{"seat_id":%d,"ticketType_id":%d}]}`,
		a.seed.ScreeningID, s1, a.seed.TicketTypeIDs[0])
	rec = a.do(t, http.MethodPost, "/v1/makeBooking", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.NotZero(t, created["booking_id"])
	assert.Len(t, created["booking_confirmation"], 10)
	assert.EqualValues(t, 1200, created["total_price"])
	assert.Equal(t, []string{handler.LayoutPath(a.seed.ScreeningID)}, a.purged.paths)

	got = decode[holdResponse](t, a.hold(t, s1, "hold", "c"))
	assert.False(t, got.OK)
	assert.Equal(t, holds.ReasonOccupied, got.Reason)

	rec = a.do(t, http.MethodGet, handler.LayoutPath(a.seed.ScreeningID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	layout := decode[layoutResponse](t, rec)
	assert.Equal(t, "Hall 3x4", layout.AuditoriumName)
	require.Len(t, layout.Rows, 3)
	assert.Equal(t, "A", layout.Rows[0].RowLabel)
	require.Len(t, layout.Rows[0].Seats, 4)
	assert.Equal(t, s1, layout.Rows[0].Seats[0].ID)
	assert.True(t, layout.Rows[0].Seats[0].Taken)
	assert.False(t, layout.Rows[0].Seats[1].Taken, "holds are not taken")
	assert.Equal(t, 2, layout.Rows[0].Seats[1].SeatNumber)
}

func TestMakeBookingConflictListsTakenSeats(t *testing.T) {
	a := newApp(t)
	tt := a.seed.TicketTypeIDs[0]
	first := fmt.Sprintf(`{"screening_id":%d,"seats":[{"seat_id":%d,"ticketType_id":%d},{"seat_id":%d,"ticketType_id":%d}]}`,
		a.seed.ScreeningID, a.seats[0], tt, a.seats[1], tt)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/makeBooking", first).Code)

	second := fmt.Sprintf(`{"screening_id":%d,"seats":[{"seat_id":%d,"ticketType_id":%d},{"seat_id":%d,"ticketType_id":%d},{"seat_id":%d,"ticketType_id":%d}]}`,
		a.seed.ScreeningID, a.seats[1], tt, a.seats[2], tt, a.seats[0], tt)
	rec := a.do(t, http.MethodPost, "/v1/makeBooking", second)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error string   `json:"error"`
		Taken []uint64 `json:"taken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, []uint64{a.seats[0], a.seats[1]}, body.Taken)
	assert.Len(t, a.purged.paths, 1)
}

func TestMakeBookingErrors(t *testing.T) {
	a := newApp(t)
	tt := a.seed.TicketTypeIDs[0]
	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"screening_id":`, http.StatusBadRequest},
		{"empty seats", fmt.Sprintf(`{"screening_id":%d,"seats":[]}`, a.seed.ScreeningID), http.StatusBadRequest},
		{"duplicate seat", fmt.Sprintf(`{"screening_id":%d,"seats":[{"seat_id":%d,"ticketType_id":%d},{"seat_id":%d,"ticketType_id":%d}]}`,
			a.seed.ScreeningID, a.seats[0], tt, a.seats[0], tt), http.StatusBadRequest},
		{"unknown screening", fmt.Sprintf(`{"screening_id":9999,"seats":[{"seat_id":%d,"ticketType_id":%d}]}`, a.seats[0], tt), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/v1/makeBooking", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestHoldValidation(t *testing.T) {
	a := newApp(t)
	path := fmt.Sprintf("/v1/screenings/%d/seats/%d/hold", a.seed.ScreeningID, a.seats[0])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path, `{"action":"hold"}`).Code, "no session")
	assert.Equal(t, http.StatusBadRequest, a.hold(t, a.seats[0], "steal", "a").Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(t, http.MethodPost, fmt.Sprintf("/v1/screenings/9999/seats/%d/hold", a.seats[0]), `{"sessionId":"a"}`).Code)
	assert.Equal(t, http.StatusNotFound, a.hold(t, 424242, "hold", "a").Code, "seat outside the auditorium")
	assert.Equal(t, http.StatusBadRequest,
		a.do(t, http.MethodPost, "/v1/screenings/x/seats/1/hold", `{"sessionId":"a"}`).Code)
}

func TestReleaseAndExtend(t *testing.T) {
	a := newApp(t)
	seat := a.seats[3]
	require.True(t, decode[holdResponse](t, a.hold(t, seat, "hold", "a")).OK)

	assert.False(t, decode[holdResponse](t, a.hold(t, seat, "release", "b")).OK, "only the owner releases")

	a.clk.Advance(time.Minute)
	ext := decode[holdResponse](t, a.hold(t, seat, "extend", "a"))
	require.True(t, ext.OK)
	assert.WithinDuration(t, a.clk.Now().Add(2*time.Minute), ext.ExpiresAt, time.Second)

	assert.True(t, decode[holdResponse](t, a.hold(t, seat, "release", "a")).OK)
	assert.Empty(t, a.store.Snapshot(a.seed.ScreeningID))
}

func TestReleaseMineAndHoldSnapshot(t *testing.T) {
	a := newApp(t)
	require.True(t, decode[holdResponse](t, a.hold(t, a.seats[0], "hold", "a")).OK)
	require.True(t, decode[holdResponse](t, a.hold(t, a.seats[1], "hold", "a")).OK)
	require.True(t, decode[holdResponse](t, a.hold(t, a.seats[2], "hold", "b")).OK)

	holdsPath := fmt.Sprintf("/v1/screenings/%d/holds", a.seed.ScreeningID)
	var snap struct {
		Held []seatevent.HeldSeat `json:"held"`
	}
	require.NoError(t, json.Unmarshal(a.do(t, http.MethodGet, holdsPath, "").Body.Bytes(), &snap))
	assert.Len(t, snap.Held, 3)

	rec := a.do(t, http.MethodDelete, holdsPath, "", middleware.HeaderSessionID, "a")
	require.Equal(t, http.StatusOK, rec.Code)
	var released struct {
		Released []uint64 `json:"released"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &released))
	assert.ElementsMatch(t, []uint64{a.seats[0], a.seats[1]}, released.Released)

	held := a.store.Snapshot(a.seed.ScreeningID)
	require.Len(t, held, 1)
	assert.Equal(t, "b", held[0].SessionID)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodDelete, holdsPath, "").Code)
}

func TestSessionTokenIdentifiesHolds(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.Token)

	path := fmt.Sprintf("/v1/screenings/%d/seats/%d/hold", a.seed.ScreeningID, a.seats[0])
	rec = a.do(t, http.MethodPost, path, `{"sessionId":"someone-else"}`, echo.HeaderAuthorization, "Bearer "+sess.Token)
	require.True(t, decode[holdResponse](t, rec).OK)

	held := a.store.Snapshot(a.seed.ScreeningID)
	require.Len(t, held, 1)
	assert.Equal(t, sess.SessionID, held[0].SessionID)

	rec = a.do(t, http.MethodPost, path, `{"sessionId":"x"}`, echo.HeaderAuthorization, "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetBooking(t *testing.T) {
	a := newApp(t)
	body := fmt.Sprintf(`{"screening_id":%d,"seats":[{"seat_id":%d,"ticketType_id":%d}]}`,
		a.seed.ScreeningID, a.seats[5], a.seed.TicketTypeIDs[1])
	created := decode[map[string]any](t, a.do(t, http.MethodPost, "/v1/makeBooking", body))

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/v1/bookings/%v", created["booking_id"]), "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, created["booking_confirmation"], got["booking_confirmation"])
	assert.EqualValues(t, 800, got["total_price"])

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/bookings/9999", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/bookings/zero", "").Code)
}

func TestProbes(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", rec.Body.String())
	rec = a.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.db.Close())
	assert.Equal(t, http.StatusServiceUnavailable, a.do(t, http.MethodGet, "/readyz", "").Code)
}

type frame struct {
	id, event, data string
	comment         bool
}

func readFrame(t *testing.T, r *bufio.Reader) frame {
	t.Helper()
	var f frame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" || f.data != "" || f.comment {
				return f
			}
		case strings.HasPrefix(line, ":"):
			f.comment = true
		case strings.HasPrefix(line, "id:"):
			f.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			f.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			f.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestStreamSnapshotEventsAndHeartbeat(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	tt := a.seed.TicketTypeIDs[0]
	body := fmt.Sprintf(`{"screening_id":%d,"seats":[{"seat_id":%d,"ticketType_id":%d}]}`, a.seed.ScreeningID, a.seats[0], tt)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/makeBooking", body).Code)
	require.True(t, decode[holdResponse](t, a.hold(t, a.seats[1], "hold", "b")).OK)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/bookings/stream?screeningId=%d", srv.URL, a.seed.ScreeningID), nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "17")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	f := readFrame(t, r)
	require.Equal(t, seatevent.TypeSnapshot, f.event)
	ev, err := seatevent.Decode(1, f.event, []byte(f.data))
	require.NoError(t, err)
	snap := ev.Data.(seatevent.Snapshot)
	assert.Equal(t, []uint64{a.seats[0]}, snap.Occupied)
	require.Len(t, snap.Held, 1)
	assert.Equal(t, a.seats[1], snap.Held[0].SeatID)

	require.True(t, decode[holdResponse](t, a.hold(t, a.seats[2], "hold", "a")).OK)
	f = readFrame(t, r)
	assert.Equal(t, seatevent.TypeHeld, f.event)
	assert.Contains(t, f.data, fmt.Sprintf(`"seatId":%d`, a.seats[2]))
	assert.NotEmpty(t, f.id)

	a.clk.Advance(20 * time.Second)
	f = readFrame(t, r)
	assert.True(t, f.comment, "heartbeat comment")

	a.clk.Advance(2 * time.Minute)
	for _, want := range []uint64{a.seats[1], a.seats[2]} {
		f = readFrame(t, r)
		for f.comment {
			f = readFrame(t, r)
		}
		assert.Equal(t, seatevent.TypeReleased, f.event)
		assert.Contains(t, f.data, fmt.Sprintf(`"seatId":%d`, want))
		assert.Contains(t, f.data, `"reason":"expired"`)
	}

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Eventually(t, func() bool { return a.bc.SubscriberCount(a.seed.ScreeningID) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsUnknownScreening(t *testing.T) {
	a := newApp(t)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/screenings/9999/seats/stream", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/bookings/stream", "").Code)
}

// Package booking turns a seat selection into a durable booking. It is the
// only place that decides who gets a seat: holds are advisory, the
// transactional re-read of booked seats and the (screening, seat) unique key
// are authoritative.
package booking

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

var (
	// ErrValidation marks requests rejected before any write.
	ErrValidation = errors.New("invalid booking request")
	// ErrStorage is the only error surfaced for database failures.
	ErrStorage = errors.New("booking could not be completed")
	// ErrScreeningNotFound is returned for an unknown screening id.
	ErrScreeningNotFound = repository.ErrScreeningNotFound
)

const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// SeatAssignment is one requested seat and the ticket type to charge.
type SeatAssignment struct {
	SeatID       uint64 `json:"seat_id"`
	TicketTypeID uint64 `json:"ticketType_id"`
}

// CommitRequest asks for seats in one screening. SessionID identifies the
// caller's holds; seats held by any other session are conflicts.
type CommitRequest struct {
	ScreeningID uint64
	SessionID   string
	Seats       []SeatAssignment
}

// Result is either a committed booking or the complete list of seats that
// blocked it.
type Result struct {
	OK        bool
	Booking   *model.Booking
	Conflicts []uint64
}

// HoldStore is the part of the hold registry the executor needs.
type HoldStore interface {
	HeldByOthers(screeningID uint64, seatIDs []uint64, sessionID string) []uint64
	ClearHoldsForSeats(screeningID uint64, seatIDs []uint64)
}

// Emitter broadcasts seat:booked.
type Emitter interface {
	Broadcast(screeningID uint64, eventType string, payload any)
}

// Notifier is told about committed bookings. Failures are logged only.
type Notifier interface {
	BookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// Executor commits bookings.
type Executor struct {
	db         *sql.DB
	screenings *repository.ScreeningRepo
	tickets    *repository.TicketTypeRepo
	bookings   *repository.BookingRepo
	holds      HoldStore
	events     Emitter
	notifier   Notifier
	clock      clock.Clock
	log        *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotifier sends booking notifications after each commit.
func WithNotifier(n Notifier) Option { return func(e *Executor) { e.notifier = n } }

// WithClock overrides the clock used for created_at.
func WithClock(c clock.Clock) Option { return func(e *Executor) { e.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.log = l } }

// NewExecutor wires an Executor over db.
func NewExecutor(db *sql.DB, holds HoldStore, events Emitter, opts ...Option) *Executor {
	e := &Executor{
		db:         db,
		screenings: repository.NewScreeningRepo(db),
		tickets:    repository.NewTicketTypeRepo(db),
		bookings:   repository.NewBookingRepo(db),
		holds:      holds,
		events:     events,
		clock:      clock.Real(),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "booking")
	return e
}

func validate(req CommitRequest) error {
	if req.ScreeningID == 0 {
		return fmt.Errorf("%w: screening id is required", ErrValidation)
	}
	if len(req.Seats) == 0 {
		return fmt.Errorf("%w: no seats selected", ErrValidation)
	}
	seen := make(map[uint64]struct{}, len(req.Seats))
	for _, s := range req.Seats {
		if s.SeatID == 0 || s.TicketTypeID == 0 {
			return fmt.Errorf("%w: seat and ticket type ids must be positive", ErrValidation)
		}
		if _, dup := seen[s.SeatID]; dup {
			return fmt.Errorf("%w: seat %d requested twice", ErrValidation, s.SeatID)
		}
		seen[s.SeatID] = struct{}{}
	}
	return nil
}

// Commit books the requested seats or reports every conflicting seat.
// Conflicts are a normal result; the returned error is ErrValidation,
// ErrScreeningNotFound or ErrStorage.
func (e *Executor) Commit(ctx context.Context, req CommitRequest) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	seatIDs := make([]uint64, len(req.Seats))
	for i, s := range req.Seats {
		seatIDs[i] = s.SeatID
	}
	// Read before the transaction: the hold store must never be locked while
	// a database connection is pinned.
	heldElsewhere := e.holds.HeldByOthers(req.ScreeningID, seatIDs, req.SessionID)

	booking, screening, conflicts, err := e.commitTx(ctx, req, seatIDs, heldElsewhere)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		e.log.Info("booking conflict", "screening_id", req.ScreeningID, "session_id", req.SessionID, "conflicts", conflicts)
		return &Result{Conflicts: conflicts}, nil
	}

	booked := booking.SeatIDs()
	e.holds.ClearHoldsForSeats(req.ScreeningID, booked)
	e.events.Broadcast(req.ScreeningID, seatevent.TypeBooked, seatevent.SeatBooked{
		ScreeningID: req.ScreeningID,
		SeatIDs:     booked,
		BookingID:   booking.ID,
	})
	e.log.Info("booking committed", "booking_id", booking.ID, "screening_id", req.ScreeningID, "seats", len(booked))
	e.notify(ctx, booking, screening)
	return &Result{OK: true, Booking: booking}, nil
}

func (e *Executor) commitTx(ctx context.Context, req CommitRequest, seatIDs, heldElsewhere []uint64) (*model.Booking, *model.Screening, []uint64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, e.storageErr("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	screening, err := e.screenings.GetByIDTx(ctx, tx, req.ScreeningID)
	if errors.Is(err, repository.ErrScreeningNotFound) {
		return nil, nil, nil, ErrScreeningNotFound
	}
	if err != nil {
		return nil, nil, nil, e.storageErr("load screening", err)
	}

	inAuditorium, err := e.screenings.SeatsInAuditoriumTx(ctx, tx, screening.AuditoriumID, seatIDs)
	if err != nil {
		return nil, nil, nil, e.storageErr("load seats", err)
	}
	ticketIDs := make([]uint64, 0, len(req.Seats))
	for _, s := range req.Seats {
		if !inAuditorium[s.SeatID] {
			return nil, nil, nil, fmt.Errorf("%w: seat %d is not part of screening %d", ErrValidation, s.SeatID, req.ScreeningID)
		}
		if !slices.Contains(ticketIDs, s.TicketTypeID) {
			ticketIDs = append(ticketIDs, s.TicketTypeID)
		}
	}
	types, err := e.tickets.ByIDsTx(ctx, tx, ticketIDs)
	if err != nil {
		return nil, nil, nil, e.storageErr("load ticket types", err)
	}
	for _, id := range ticketIDs {
		if _, ok := types[id]; !ok {
			return nil, nil, nil, fmt.Errorf("%w: unknown ticket type %d", ErrValidation, id)
		}
	}

	occupied, err := e.bookings.OccupiedSeatsTx(ctx, tx, req.ScreeningID)
	if err != nil {
		return nil, nil, nil, e.storageErr("load occupied seats", err)
	}
	if conflicts := intersect(seatIDs, append(occupied, heldElsewhere...)); len(conflicts) > 0 {
		return nil, nil, conflicts, nil
	}

	b := &model.Booking{
		ScreeningID: req.ScreeningID,
		SessionID:   req.SessionID,
		CreatedAt:   e.clock.Now().UTC().Truncate(time.Second),
	}
	for _, s := range req.Seats {
		tt := types[s.TicketTypeID]
		b.Seats = append(b.Seats, model.BookingSeat{SeatID: s.SeatID, TicketTypeID: tt.ID, PriceCents: tt.PriceCents})
		b.TotalPriceCents += tt.PriceCents
	}

	if err := e.insertBooking(ctx, tx, b); err != nil {
		return nil, nil, nil, err
	}
	if err := e.bookings.CreateSeatsBulkTx(ctx, tx, b); err != nil {
		if !database.IsDuplicateKey(err) {
			return nil, nil, nil, e.storageErr("insert booking seats", err)
		}
		// A concurrent booking committed one of our seats after the re-read.
		_ = tx.Rollback()
		committed = true
		return e.conflictsAfterRace(ctx, req.ScreeningID, seatIDs)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, e.storageErr("commit", err)
	}
	committed = true
	return b, screening, nil, nil
}

// insertBooking retries with a fresh confirmation code on the rare code
// collision.
func (e *Executor) insertBooking(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newConfirmationCode(10)
		if err != nil {
			return e.storageErr("confirmation code", err)
		}
		b.ConfirmationCode = code
		err = e.bookings.CreateTx(ctx, tx, b)
		if err == nil {
			return nil
		}
		if !database.IsDuplicateKey(err) {
			return e.storageErr("insert booking", err)
		}
	}
	return e.storageErr("insert booking", errors.New("confirmation code collisions exhausted"))
}

func (e *Executor) conflictsAfterRace(ctx context.Context, screeningID uint64, seatIDs []uint64) (*model.Booking, *model.Screening, []uint64, error) {
	occupied, err := e.bookings.OccupiedSeats(ctx, screeningID)
	if err != nil {
		return nil, nil, nil, e.storageErr("reload occupied seats", err)
	}
	conflicts := intersect(seatIDs, occupied)
	if len(conflicts) == 0 {
		return nil, nil, nil, e.storageErr("insert booking seats", errors.New("unique violation without a booked seat"))
	}
	return nil, nil, conflicts, nil
}

func (e *Executor) storageErr(op string, err error) error {
	e.log.Error("booking storage failure", "op", op, "err", err)
	return ErrStorage
}

// Get returns a committed booking.
func (e *Executor) Get(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := e.bookings.GetByID(ctx, id)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, e.storageErr("load booking", err)
	}
	return b, nil
}

func (e *Executor) notify(ctx context.Context, b *model.Booking, s *model.Screening) {
	if e.notifier == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		BookingID:        b.ID,
		ConfirmationCode: b.ConfirmationCode,
		ScreeningID:      b.ScreeningID,
		SessionID:        b.SessionID,
		MovieTitle:       s.MovieTitle,
		AuditoriumName:   s.AuditoriumName,
		StartsAt:         s.StartsAt.UTC().Format(time.RFC3339),
		SeatIDs:          b.SeatIDs(),
		TotalPriceCents:  b.TotalPriceCents,
		ConfirmedAt:      b.CreatedAt.Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		if err := e.notifier.BookingConfirmed(ctx, ev); err != nil {
			e.log.Warn("booking notification failed", "booking_id", b.ID, "err", err)
		}
	}()
}

// intersect returns the ids of want that appear in have, sorted and unique.
func intersect(want, have []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	var out []uint64
	for _, id := range want {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// newConfirmationCode returns n characters of Crockford base32 from
// crypto/rand. 256 is a multiple of 32, so masking keeps it uniform.
func newConfirmationCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[b&31]
	}
	return string(buf), nil
}

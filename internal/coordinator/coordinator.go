// Package coordinator is the client side of live seat selection. A
// Coordinator tracks one browser tab's view of a screening, turns clicks and
// ticket counts into hold requests and reconciles them with the server's
// event stream. Its view is advisory; the booking response is the truth.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

// SeatState is the tab's view of one seat.
type SeatState int

const (
	Free SeatState = iota
	SelectedByMe
	HeldByOther
	Occupied
)

func (s SeatState) String() string {
	switch s {
	case Free:
		return "free"
	case SelectedByMe:
		return "selected-by-me"
	case HeldByOther:
		return "held-by-other"
	case Occupied:
		return "occupied"
	}
	return fmt.Sprintf("SeatState(%d)", int(s))
}

var (
	// ErrSelectionFull is returned by Toggle when the selection already has
	// as many seats as tickets are required.
	ErrSelectionFull = errors.New("selection already matches the ticket count")
	// ErrSeatUnavailable is returned by Toggle for a seat that is booked or
	// held by another session.
	ErrSeatUnavailable = errors.New("seat is not available")
	// ErrUnknownSeat is returned for a seat id outside the layout.
	ErrUnknownSeat = errors.New("seat is not part of this screening")
	// ErrNothingSelected is returned by Finalize with an empty selection.
	ErrNothingSelected = errors.New("no seats selected")
)

// Hold actions understood by the hold endpoint.
const (
	ActionHold    = "hold"
	ActionExtend  = "extend"
	ActionRelease = "release"
)

// HoldReply is the server's answer to a hold request.
type HoldReply struct {
	OK        bool      `json:"ok"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

// SeatTicket asks for one seat at one ticket type.
type SeatTicket struct {
	SeatID       uint64 `json:"seat_id"`
	TicketTypeID uint64 `json:"ticketType_id"`
}

// BookingRequest is the makeBooking body.
type BookingRequest struct {
	ScreeningID uint64       `json:"screening_id"`
	SessionID   string       `json:"sessionId,omitempty"`
	Seats       []SeatTicket `json:"seats"`
}

// BookingOutcome is either a booking or the seats that blocked it.
type BookingOutcome struct {
	OK           bool
	BookingID    uint64
	Confirmation string
	TotalPrice   uint32
	Conflicts    []uint64
}

// API is the part of the server the coordinator talks to. A conflict is
// reported through BookingOutcome, not as an error.
type API interface {
	Hold(ctx context.Context, screeningID, seatID uint64, action, sessionID string) (HoldReply, error)
	Book(ctx context.Context, req BookingRequest) (*BookingOutcome, error)
}

// Coordinator is safe for concurrent use. User operations (SetRequired,
// Toggle, Finalize, ExtendHolds) are serialised; events may be applied at
// any time, including while an operation waits on the server.
type Coordinator struct {
	api         API
	screeningID uint64
	sessionID   string
	geo         *geometry
	log         *slog.Logger
	onChange    func()

	op sync.Mutex

	mu          sync.Mutex
	occupied    map[uint64]struct{}
	conflicted  map[uint64]struct{}
	heldBy      map[uint64]string
	selected    []uint64
	required    int
	auto        bool
	lastEventID uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// WithOnChange registers a callback run after every state change, outside
// the coordinator's locks.
func WithOnChange(f func()) Option { return func(c *Coordinator) { c.onChange = f } }

// New returns a Coordinator for one session viewing one screening. Seats
// marked taken in layout start out occupied.
func New(api API, screeningID uint64, sessionID string, layout *Layout, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:         api,
		screeningID: screeningID,
		sessionID:   sessionID,
		geo:         newGeometry(layout),
		log:         slog.Default(),
		occupied:    make(map[uint64]struct{}),
		conflicted:  make(map[uint64]struct{}),
		heldBy:      make(map[uint64]string),
		auto:        true,
	}
	for _, r := range layout.Rows {
		for _, s := range r.Seats {
			if s.Taken {
				c.occupied[s.ID] = struct{}{}
			}
		}
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "coordinator", "screening_id", screeningID)
	return c
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// stateLocked derives a seat's state. Booked wins over everything, then the
// local selection, then other sessions' holds.
func (c *Coordinator) stateLocked(id uint64) SeatState {
	if _, ok := c.occupied[id]; ok {
		return Occupied
	}
	if slices.Contains(c.selected, id) {
		return SelectedByMe
	}
	if owner, ok := c.heldBy[id]; ok && owner != c.sessionID {
		return HeldByOther
	}
	return Free
}

func (c *Coordinator) availableLocked(id uint64) bool {
	return c.stateLocked(id) == Free
}

// State returns the current state of a seat.
func (c *Coordinator) State(seatID uint64) SeatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(seatID)
}

// Selected returns the selected seats, best ranked first.
func (c *Coordinator) Selected() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geo.ranked(c.selected)
}

// Required returns the current ticket count.
func (c *Coordinator) Required() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.required
}

// AutoSelect reports whether the best-available picker is active.
func (c *Coordinator) AutoSelect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// LastEventID is the id of the last event applied, for stream resumption.
func (c *Coordinator) LastEventID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// ApplyEvent folds one stream event into the view. A snapshot replaces the
// server-side state; other events older than the last applied one are
// ignored.
func (c *Coordinator) ApplyEvent(ev seatevent.Event) {
	c.mu.Lock()
	applied := c.applyLocked(ev)
	c.mu.Unlock()
	if applied {
		c.changed()
	}
}

func (c *Coordinator) applyLocked(ev seatevent.Event) bool {
	if ev.Type != seatevent.TypeSnapshot && ev.ID != 0 && ev.ID <= c.lastEventID {
		return false
	}
	switch p := ev.Data.(type) {
	case seatevent.Snapshot:
		c.occupied = make(map[uint64]struct{}, len(p.Occupied))
		c.conflicted = make(map[uint64]struct{})
		c.heldBy = make(map[uint64]string, len(p.Held))
		for _, id := range p.Occupied {
			c.occupied[id] = struct{}{}
		}
		for _, h := range p.Held {
			c.heldBy[h.SeatID] = h.SessionID
		}
		c.pruneSelectionLocked()
	case seatevent.SeatHeld:
		c.heldBy[p.SeatID] = p.SessionID
		if p.SessionID != c.sessionID {
			c.pruneSelectionLocked()
		}
	case seatevent.SeatReleased:
		delete(c.heldBy, p.SeatID)
		if _, ok := c.conflicted[p.SeatID]; ok {
			delete(c.conflicted, p.SeatID)
			delete(c.occupied, p.SeatID)
		}
		if p.SessionID == c.sessionID && p.Reason == seatevent.ReasonExpired {
			c.dropSelectedLocked(p.SeatID)
		}
	case seatevent.SeatBooked:
		for _, id := range p.SeatIDs {
			delete(c.heldBy, id)
			delete(c.conflicted, id)
			c.occupied[id] = struct{}{}
		}
		c.pruneSelectionLocked()
	default:
		return false
	}
	if ev.ID != 0 {
		c.lastEventID = ev.ID
	}
	return true
}

// pruneSelectionLocked drops selected seats the server says are booked or
// held by someone else.
func (c *Coordinator) pruneSelectionLocked() {
	c.selected = slices.DeleteFunc(c.selected, func(id uint64) bool {
		if _, ok := c.occupied[id]; ok {
			return true
		}
		owner, held := c.heldBy[id]
		return held && owner != c.sessionID
	})
}

func (c *Coordinator) dropSelectedLocked(id uint64) {
	c.selected = slices.DeleteFunc(c.selected, func(s uint64) bool { return s == id })
}

// SetRequired sets the ticket count. The selection is trimmed worst seat
// first when it exceeds n; while auto-selection is active it is refilled
// with the best available block. n == 0 clears the selection and turns
// auto-selection back on.
func (c *Coordinator) SetRequired(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("ticket count must not be negative, got %d", n)
	}
	c.op.Lock()
	defer c.op.Unlock()
	defer c.changed()

	c.mu.Lock()
	c.required = n
	if n == 0 {
		c.auto = true
	}
	auto := c.auto
	worstFirst := c.geo.ranked(c.selected)
	c.mu.Unlock()
	slices.Reverse(worstFirst)

	var release []uint64
	if len(worstFirst) > n {
		release = worstFirst[:len(worstFirst)-n]
	}
	if err := c.releaseAll(ctx, release); err != nil {
		return err
	}
	if auto && n > 0 {
		return c.autoFill(ctx)
	}
	return nil
}

// autoFill moves the selection onto the best available block for the
// current ticket count. Seats lost to other sessions on the way are skipped
// and the pick is retried.
func (c *Coordinator) autoFill(ctx context.Context) error {
	for attempt := 0; attempt < 3; attempt++ {
		c.mu.Lock()
		n := c.required
		current := slices.Clone(c.selected)
		pick := c.geo.bestAvailable(n, func(id uint64) bool {
			return c.availableLocked(id) || slices.Contains(current, id)
		})
		c.mu.Unlock()

		var drop, add []uint64
		for _, id := range current {
			if !slices.Contains(pick, id) {
				drop = append(drop, id)
			}
		}
		for _, id := range pick {
			if !slices.Contains(current, id) {
				add = append(add, id)
			}
		}
		if len(add) == 0 && len(drop) == 0 {
			return nil
		}
		if err := c.releaseAll(ctx, drop); err != nil {
			return err
		}
		lost := false
		for _, id := range add {
			ok, err := c.hold(ctx, id)
			if err != nil {
				return err
			}
			lost = lost || !ok
		}
		if !lost {
			return nil
		}
	}
	c.log.Info("auto-selection gave up after repeated contention")
	return nil
}

// hold requests a hold and records the answer. A refusal marks the seat as
// held by an unknown session until the stream says otherwise.
func (c *Coordinator) hold(ctx context.Context, id uint64) (bool, error) {
	reply, err := c.api.Hold(ctx, c.screeningID, id, ActionHold, c.sessionID)
	if err != nil {
		return false, fmt.Errorf("hold seat %d: %w", id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !reply.OK {
		if reply.Reason == seatevent.RefusedOccupied {
			c.occupied[id] = struct{}{}
		} else if owner, ok := c.heldBy[id]; !ok || owner == c.sessionID {
			c.heldBy[id] = ""
		}
		return false, nil
	}
	c.heldBy[id] = c.sessionID
	if !slices.Contains(c.selected, id) {
		c.selected = append(c.selected, id)
	}
	return true, nil
}

func (c *Coordinator) releaseAll(ctx context.Context, ids []uint64) error {
	for _, id := range ids {
		if _, err := c.api.Hold(ctx, c.screeningID, id, ActionRelease, c.sessionID); err != nil {
			return fmt.Errorf("release seat %d: %w", id, err)
		}
		c.mu.Lock()
		c.dropSelectedLocked(id)
		if c.heldBy[id] == c.sessionID {
			delete(c.heldBy, id)
		}
		c.mu.Unlock()
	}
	return nil
}

// Toggle selects or deselects a seat by hand. Any successful toggle turns
// auto-selection off until the ticket count returns to zero. Local state
// only changes once the server has answered.
func (c *Coordinator) Toggle(ctx context.Context, seatID uint64) error {
	if _, ok := c.geo.pos[seatID]; !ok {
		return ErrUnknownSeat
	}
	c.op.Lock()
	defer c.op.Unlock()
	defer c.changed()

	c.mu.Lock()
	state := c.stateLocked(seatID)
	full := len(c.selected) >= c.required
	c.mu.Unlock()

	switch state {
	case Occupied, HeldByOther:
		return ErrSeatUnavailable
	case SelectedByMe:
		if err := c.releaseAll(ctx, []uint64{seatID}); err != nil {
			return err
		}
	default:
		if full {
			return ErrSelectionFull
		}
		ok, err := c.hold(ctx, seatID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSeatUnavailable
		}
	}
	c.mu.Lock()
	c.auto = false
	c.mu.Unlock()
	return nil
}

// ExtendHolds refreshes every selected seat's hold. Seats the server no
// longer lets this session hold are dropped from the selection.
func (c *Coordinator) ExtendHolds(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	ids := slices.Clone(c.selected)
	c.mu.Unlock()

	lost := false
	for _, id := range ids {
		reply, err := c.api.Hold(ctx, c.screeningID, id, ActionExtend, c.sessionID)
		if err != nil {
			return fmt.Errorf("extend seat %d: %w", id, err)
		}
		if !reply.OK {
			lost = true
			c.mu.Lock()
			c.dropSelectedLocked(id)
			c.mu.Unlock()
		}
	}
	if lost {
		c.changed()
	}
	return nil
}

// Finalize books the selection. ticketType picks the ticket type of each
// seat. Conflicting seats are marked unavailable, removed from the
// selection and returned so the user can pick again; a successful booking
// clears the selection and resets the ticket count.
func (c *Coordinator) Finalize(ctx context.Context, ticketType func(seatID uint64) uint64) (*BookingOutcome, error) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	seats := c.geo.ranked(c.selected)
	c.mu.Unlock()
	if len(seats) == 0 {
		return nil, ErrNothingSelected
	}

	req := BookingRequest{ScreeningID: c.screeningID, SessionID: c.sessionID}
	for _, id := range seats {
		req.Seats = append(req.Seats, SeatTicket{SeatID: id, TicketTypeID: ticketType(id)})
	}
	out, err := c.api.Book(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if out.OK {
		for _, id := range seats {
			c.occupied[id] = struct{}{}
			delete(c.heldBy, id)
		}
		c.selected = nil
		c.required = 0
		c.auto = true
	} else {
		for _, id := range out.Conflicts {
			if _, known := c.occupied[id]; !known {
				c.occupied[id] = struct{}{}
				c.conflicted[id] = struct{}{}
			}
			c.dropSelectedLocked(id)
		}
	}
	c.mu.Unlock()
	c.changed()

	if !out.OK {
		c.log.Info("booking conflict", "conflicts", out.Conflicts)
	}
	return out, nil
}

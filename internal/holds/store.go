// Package holds keeps the in-memory registry of temporary seat holds.
//
// A hold is advisory: it gives other viewers fast feedback that a seat is
// being looked at, but only the booking transaction decides who gets a
// seat. Every screening has its own lock, so contention never crosses
// screenings. Events are emitted while that lock is held, which keeps each
// screening's event order identical to its mutation order.
package holds

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

// Refusal reasons reported in HoldResult.Reason.
const (
	ReasonHeld     = seatevent.RefusedHeld
	ReasonOccupied = seatevent.RefusedOccupied
)

// Emitter receives hold lifecycle events. The broadcaster implements it.
// Broadcast must not block and must not call back into the Store.
type Emitter interface {
	Broadcast(screeningID uint64, eventType string, payload any)
}

// HoldResult is the outcome of Hold. A refused hold is a normal result, not
// an error.
type HoldResult struct {
	OK        bool      `json:"ok"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

type hold struct {
	seatID    uint64
	sessionID string
	expiresAt time.Time
	timer     *clock.Timer
}

type screeningHolds struct {
	mu       sync.Mutex
	holds    map[uint64]*hold
	occupied map[uint64]struct{}
	warm     bool
}

// Store is the hold registry. Build one per process with NewStore and share
// it; Close stops every pending expiry timer.
type Store struct {
	clock      clock.Clock
	log        *slog.Logger
	defaultTTL time.Duration

	mu         sync.Mutex
	screenings map[uint64]*screeningHolds
	emitter    Emitter
}

// DefaultTTL replaces a non-positive defaultTTL given to NewStore.
const DefaultTTL = 2 * time.Minute

// NewStore returns an empty Store. defaultTTL is used whenever Hold is
// called with a non-positive ttl.
func NewStore(clk clock.Clock, defaultTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{
		clock:      clk,
		log:        logger.With("component", "holds"),
		defaultTTL: defaultTTL,
		screenings: make(map[uint64]*screeningHolds),
	}
}

// SetEmitter wires the event sink. It must be called before the store is
// shared between goroutines.
func (s *Store) SetEmitter(e Emitter) { s.emitter = e }

func (s *Store) screening(id uint64) *screeningHolds {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.screenings[id]
	if !ok {
		sh = &screeningHolds{
			holds:    make(map[uint64]*hold),
			occupied: make(map[uint64]struct{}),
		}
		s.screenings[id] = sh
	}
	return sh
}

func (s *Store) emit(screeningID uint64, typ string, payload any) {
	if s.emitter != nil {
		s.emitter.Broadcast(screeningID, typ, payload)
	}
}

// Hold claims seatID for sessionID until now+ttl. A second call by the same
// session refreshes the expiry, so hold and extend are the same operation.
// It is refused when another session has an unexpired hold or the seat has
// been booked.
func (s *Store) Hold(screeningID, seatID uint64, sessionID string, ttl time.Duration) HoldResult {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, booked := sh.occupied[seatID]; booked {
		return HoldResult{Reason: ReasonOccupied}
	}

	now := s.clock.Now()
	h, exists := sh.holds[seatID]
	if exists && h.sessionID != sessionID {
		if now.Before(h.expiresAt) {
			return HoldResult{Reason: ReasonHeld}
		}
		// Expired but its timer has not run yet.
		s.dropLocked(screeningID, sh, h, seatevent.ReasonExpired)
		exists = false
	}

	if !exists {
		h = &hold{seatID: seatID, sessionID: sessionID}
		sh.holds[seatID] = h
	} else {
		h.timer.Stop()
	}
	h.expiresAt = now.Add(ttl)
	h.timer = s.clock.AfterFunc(ttl, func() { s.expire(screeningID, sh, h) })

	s.emit(screeningID, seatevent.TypeHeld, seatevent.SeatHeld{
		ScreeningID: screeningID,
		SeatID:      seatID,
		SessionID:   sessionID,
		ExpiresAt:   h.expiresAt,
	})
	return HoldResult{OK: true, ExpiresAt: h.expiresAt}
}

// expire runs on the hold's timer. The hold may have been renewed, released
// or replaced since the timer was armed; in those cases it does nothing.
func (s *Store) expire(screeningID uint64, sh *screeningHolds, h *hold) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.holds[h.seatID]; !ok || cur != h {
		return
	}
	if s.clock.Now().Before(h.expiresAt) {
		return
	}
	s.log.Debug("hold expired", "screening_id", screeningID, "seat_id", h.seatID, "session_id", h.sessionID)
	s.dropLocked(screeningID, sh, h, seatevent.ReasonExpired)
}

func (s *Store) dropLocked(screeningID uint64, sh *screeningHolds, h *hold, reason string) {
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(sh.holds, h.seatID)
	s.emit(screeningID, seatevent.TypeReleased, seatevent.SeatReleased{
		ScreeningID: screeningID,
		SeatID:      h.seatID,
		SessionID:   h.sessionID,
		Reason:      reason,
	})
}

// Release removes the hold on seatID. Only the owning session may release
// unless force is set; any other call leaves state untouched and emits
// nothing. It reports whether a hold was removed.
func (s *Store) Release(screeningID, seatID uint64, sessionID string, force bool) bool {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	h, ok := sh.holds[seatID]
	if !ok {
		return false
	}
	reason := seatevent.ReasonManual
	if h.sessionID != sessionID {
		if !force {
			return false
		}
		reason = seatevent.ReasonForce
	}
	s.dropLocked(screeningID, sh, h, reason)
	return true
}

// ReleaseSession drops every hold sessionID owns in the screening and
// returns the released seat ids in ascending order.
func (s *Store) ReleaseSession(screeningID uint64, sessionID string) []uint64 {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var mine []*hold
	for _, h := range sh.holds {
		if h.sessionID == sessionID {
			mine = append(mine, h)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].seatID < mine[j].seatID })
	released := make([]uint64, 0, len(mine))
	for _, h := range mine {
		s.dropLocked(screeningID, sh, h, seatevent.ReasonManual)
		released = append(released, h.seatID)
	}
	return released
}

// Snapshot lists the unexpired holds of a screening ordered by seat id.
func (s *Store) Snapshot(screeningID uint64) []seatevent.HeldSeat {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return s.heldLocked(sh)
}

func (s *Store) heldLocked(sh *screeningHolds) []seatevent.HeldSeat {
	now := s.clock.Now()
	out := make([]seatevent.HeldSeat, 0, len(sh.holds))
	for _, h := range sh.holds {
		if !now.Before(h.expiresAt) {
			continue
		}
		out = append(out, seatevent.HeldSeat{SeatID: h.seatID, SessionID: h.sessionID, ExpiresAt: h.expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}

// HeldByOthers returns the seats among seatIDs that carry an unexpired hold
// owned by a session other than sessionID.
func (s *Store) HeldByOthers(screeningID uint64, seatIDs []uint64, sessionID string) []uint64 {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.clock.Now()
	var out []uint64
	for _, id := range seatIDs {
		if h, ok := sh.holds[id]; ok && h.sessionID != sessionID && now.Before(h.expiresAt) {
			out = append(out, id)
		}
	}
	return out
}

// ClearHoldsForSeats forgets the holds on seats that were just booked and
// marks them occupied. No release events are emitted; the seat:booked event
// that follows supersedes them.
func (s *Store) ClearHoldsForSeats(screeningID uint64, seatIDs []uint64) {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for _, id := range seatIDs {
		if h, ok := sh.holds[id]; ok {
			h.timer.Stop()
			delete(sh.holds, id)
		}
		sh.occupied[id] = struct{}{}
	}
}

// EnsureWarm loads the booked seats of a screening the first time the store
// sees it, so holds on seats booked before a restart are refused.
func (s *Store) EnsureWarm(screeningID uint64, load func() ([]uint64, error)) error {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.warm {
		return nil
	}
	ids, err := load()
	if err != nil {
		return err
	}
	for _, id := range ids {
		sh.occupied[id] = struct{}{}
	}
	sh.warm = true
	return nil
}

// View is handed to Locked callbacks. It is only valid inside the callback.
type View struct {
	s  *Store
	sh *screeningHolds
}

// Held lists the unexpired holds.
func (v *View) Held() []seatevent.HeldSeat { return v.s.heldLocked(v.sh) }

// MarkOccupied records seats known to be booked.
func (v *View) MarkOccupied(seatIDs []uint64) {
	for _, id := range seatIDs {
		v.sh.occupied[id] = struct{}{}
		if h, ok := v.sh.holds[id]; ok {
			h.timer.Stop()
			delete(v.sh.holds, id)
		}
	}
	v.sh.warm = true
}

// Occupied lists the seats known to be booked, in ascending order.
func (v *View) Occupied() []uint64 {
	out := make([]uint64, 0, len(v.sh.occupied))
	for id := range v.sh.occupied {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Locked runs fn while no hold of the screening can change and no hold event
// for it can be emitted. fn must not call other Store methods.
func (s *Store) Locked(screeningID uint64, fn func(v *View) error) error {
	sh := s.screening(screeningID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return fn(&View{s: s, sh: sh})
}

// Close stops every pending expiry timer and forgets all state.
func (s *Store) Close() {
	s.mu.Lock()
	all := s.screenings
	s.screenings = make(map[uint64]*screeningHolds)
	s.mu.Unlock()
	for _, sh := range all {
		sh.mu.Lock()
		for id, h := range sh.holds {
			h.timer.Stop()
			delete(sh.holds, id)
		}
		sh.mu.Unlock()
	}
}

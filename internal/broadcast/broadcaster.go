// Package broadcast fans seat events out to every viewer of a screening.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-seat-hold/internal/holds"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

// Subscriber is one live viewer connection. Send must not block; an error
// means the subscriber can no longer keep up and it is dropped.
type Subscriber interface {
	Send(ev seatevent.Event) error
}

// OccupiedSource reads the permanently booked seats of a screening.
type OccupiedSource interface {
	OccupiedSeats(ctx context.Context, screeningID uint64) ([]uint64, error)
}

// HoldLocker gives the broadcaster a consistent view of a screening's holds.
// *holds.Store implements it.
type HoldLocker interface {
	Locked(screeningID uint64, fn func(v *holds.View) error) error
}

type channel struct {
	mu   sync.Mutex
	subs map[string]Subscriber
}

// Broadcaster owns the per-screening subscriber sets. Lock order is always
// hold store, then channel.
type Broadcaster struct {
	holds    HoldLocker
	occupied OccupiedSource
	log      *slog.Logger

	lastID atomic.Uint64

	mu       sync.Mutex
	channels map[uint64]*channel
}

// New returns a Broadcaster with no subscribers.
func New(h HoldLocker, occupied OccupiedSource, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		holds:    h,
		occupied: occupied,
		log:      logger.With("component", "broadcast"),
		channels: make(map[uint64]*channel),
	}
}

func (b *Broadcaster) channel(screeningID uint64) *channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[screeningID]
	if !ok {
		ch = &channel{subs: make(map[string]Subscriber)}
		b.channels[screeningID] = ch
	}
	return ch
}

// Subscribe attaches sub to a screening. Booked seats are read from the
// durable store first, without any lock held. The snapshot is then built and
// sent while both the screening's holds and its channel are locked, so the
// first event the subscriber sees after it reflects a state the snapshot
// already includes. A booking that commits between the read and the lock has
// already marked its seats occupied in the hold store, and the snapshot
// takes them from there. The returned func detaches the subscriber and is
// safe to call more than once.
func (b *Broadcaster) Subscribe(ctx context.Context, screeningID uint64, sub Subscriber) (func(), error) {
	id := uuid.NewString()
	ch := b.channel(screeningID)

	booked, err := b.occupied.OccupiedSeats(ctx, screeningID)
	if err != nil {
		return nil, fmt.Errorf("load occupied seats: %w", err)
	}

	err = b.holds.Locked(screeningID, func(v *holds.View) error {
		ch.mu.Lock()
		defer ch.mu.Unlock()

		v.MarkOccupied(booked)
		ev := seatevent.Event{
			ID:   b.lastID.Add(1),
			Type: seatevent.TypeSnapshot,
			Data: seatevent.Snapshot{ScreeningID: screeningID, Occupied: v.Occupied(), Held: v.Held()},
		}
		if err := sub.Send(ev); err != nil {
			return fmt.Errorf("send snapshot: %w", err)
		}
		ch.subs[id] = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.log.Debug("subscriber attached", "screening_id", screeningID, "subscriber_id", id)

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			delete(ch.subs, id)
			ch.mu.Unlock()
			b.log.Debug("subscriber detached", "screening_id", screeningID, "subscriber_id", id)
		})
	}, nil
}

// Broadcast delivers an event to every subscriber of the screening in
// broadcast order. A subscriber whose Send fails is removed and closed; the
// others still receive the event.
func (b *Broadcaster) Broadcast(screeningID uint64, eventType string, payload any) {
	ch := b.channel(screeningID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ev := seatevent.Event{ID: b.lastID.Add(1), Type: eventType, Data: payload}
	for id, sub := range ch.subs {
		if err := sub.Send(ev); err != nil {
			delete(ch.subs, id)
			closeSubscriber(sub)
			b.log.Warn("dropping subscriber", "screening_id", screeningID, "subscriber_id", id, "event_id", ev.ID, "err", err)
		}
	}
}

// LastEventID returns the id of the most recently assigned event.
func (b *Broadcaster) LastEventID() uint64 { return b.lastID.Load() }

// SubscriberCount returns the number of viewers attached to a screening.
func (b *Broadcaster) SubscriberCount(screeningID uint64) int {
	ch := b.channel(screeningID)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// Close detaches and closes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	all := b.channels
	b.channels = make(map[uint64]*channel)
	b.mu.Unlock()
	for _, ch := range all {
		ch.mu.Lock()
		for id, sub := range ch.subs {
			delete(ch.subs, id)
			closeSubscriber(sub)
		}
		ch.mu.Unlock()
	}
}

func closeSubscriber(sub Subscriber) {
	if c, ok := sub.(interface{ Close() }); ok {
		c.Close()
	}
}

package broadcast

import (
	"errors"
	"sync"

	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

var (
	// ErrLagging is returned by Queue.Send when the buffer is full.
	ErrLagging = errors.New("subscriber lagging")
	// ErrClosed is returned by Queue.Send after Close.
	ErrClosed = errors.New("subscriber closed")
)

// Queue is a buffered Subscriber read by one connection writer. A full
// buffer fails the send instead of blocking the broadcaster.
type Queue struct {
	events chan seatevent.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueue returns a Queue buffering up to size events.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		events: make(chan seatevent.Event, size),
		done:   make(chan struct{}),
	}
}

func (q *Queue) Send(ev seatevent.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrLagging
	}
}

// Events is drained by the connection writer.
func (q *Queue) Events() <-chan seatevent.Event { return q.events }

// Done is closed once the queue has been closed.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close marks the queue closed. Buffered events stay readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

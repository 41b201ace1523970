// Package clock lets hold expiry and stream heartbeats run against either
// wall time or a manually advanced test clock.
package clock

import "time"

// Clock is the subset of the time package used by the hold store and the
// stream handlers.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (Real) or inside Advance (Fake).
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancellable scheduled call.
type Timer struct {
	stop func() bool
}

// Stop reports whether the call was cancelled before it ran.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers ticks on C until stopped. Ticks are dropped when the
// reader falls behind.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

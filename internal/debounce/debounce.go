// Package debounce coalesces bursts of triggers into a single trailing
// call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs fn with the most recent value once wait has elapsed
// without a new Trigger. Every Trigger restarts the timer.
type Debouncer[T any] struct {
	wait time.Duration
	fn   func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	gen     uint64
	stopped bool
}

// New returns a Debouncer. A wait <= 0 runs fn synchronously on Trigger.
func New[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, fn: fn}
}

// Trigger schedules fn(v), replacing any value still waiting.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.wait <= 0 {
		d.mu.Unlock()
		d.fn(v)
		return
	}

	d.pending = v
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
	d.mu.Unlock()
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// a newer trigger or Stop raced with this timer
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending = zero
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Flush runs a pending call immediately. It reports whether one was
// pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	v := d.pending
	var zero T
	d.pending = zero
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Stop cancels any pending call; later Triggers are ignored. A call that
// already started is not interrupted.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

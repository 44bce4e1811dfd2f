package audit

import (
	"sync"
	"time"
)

// debouncer coalesces calls to fn so it runs at most once per wait interval.
// fn reads the current state when it fires, giving last-write-wins semantics.
type debouncer struct {
	fn      func()
	timer   *time.Timer
	wait    time.Duration
	mu      sync.Mutex
	pending bool
}

func newDebouncer(wait time.Duration, fn func()) *debouncer {
	return &debouncer{wait: wait, fn: fn}
}

// Trigger schedules fn after the wait interval, restarting any pending timer.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = time.AfterFunc(d.wait, d.fire)
}

// Flush runs fn now if a call is pending.
func (d *debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = false
	d.mu.Unlock()

	if pending {
		d.fn()
	}
}

// Cancel drops a pending call without running it.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

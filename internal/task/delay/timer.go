// Package delay arms one-shot callbacks on the runtime timer.
package delay

import (
	"sync"
	"time"
)

// Timer runs a callback once after a delay unless stopped first.
//
// Exactly one of Stop() returning true or the callback running will happen.
type Timer struct {
	mu       sync.Mutex
	t        *time.Timer
	deadline time.Time
	fired    bool
	stopped  bool
}

// After runs fn on its own goroutine once at least d has elapsed.
// d <= 0 fires as soon as practicable. After never blocks.
func After(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	tm := &Timer{deadline: time.Now().Add(d)}

	// Hold the lock so a zero delay cannot fire before tm.t is assigned.
	tm.mu.Lock()
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		if tm.stopped {
			tm.mu.Unlock()
			return
		}
		tm.fired = true
		tm.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	tm.mu.Unlock()
	return tm
}

// Stop cancels the timer. It reports true only for the call that prevented
// the callback from running; stopping a fired or stopped timer is a no-op.
func (tm *Timer) Stop() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.fired || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// Fired reports whether the callback has started.
func (tm *Timer) Fired() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.fired
}

// Deadline is the earliest time the callback may run.
func (tm *Timer) Deadline() time.Time { return tm.deadline }

// Package debounce holds the timer primitives shared by the segmenter and
// the recognition supervisor: a cancellable trailing debounce, a start
// throttle, and capped exponential backoff on top of go-retry.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
)

// Debouncer runs fn once wait has elapsed since the most recent Trigger.
// Each Trigger restarts the wait. fn runs on the clock's timer goroutine,
// never while the Debouncer's lock is held.
type Debouncer struct {
	clock clockwork.Clock
	wait  time.Duration
	fn    func()

	mu    sync.Mutex
	timer clockwork.Timer
	gen   uint64
}

func New(clock clockwork.Clock, wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: clock, wait: wait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		// superseded by a later Trigger or Cancel
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Cancel stops a pending run. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Throttle admits at most one event per interval.
type Throttle struct {
	clock    clockwork.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewThrottle(clock clockwork.Clock, interval time.Duration) *Throttle {
	return &Throttle{clock: clock, interval: interval}
}

// Allow reports whether an event may proceed now, and if so records it.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Mark records an event without checking the interval.
func (t *Throttle) Mark() {
	t.mu.Lock()
	t.last = t.clock.Now()
	t.mu.Unlock()
}

func (t *Throttle) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}

// Backoff returns min(base * 2^attempts, limit).
func Backoff(base, limit time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	attempts = max(attempts, 0)
	b := retry.WithCappedDuration(limit, retry.NewExponential(base))
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d, _ = b.Next()
		if d == limit {
			break
		}
	}
	return d
}

package progress

import (
	"sync"
	"time"
)

// Throttle coalesces step events to a bounded rate so observer load does not
// scale with the model's internal step frequency. Terminal events and the
// final step always pass.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottle creates a Throttle. An interval <= 0 passes everything.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether the event should be forwarded now.
func (t *Throttle) Allow(ev Event) bool {
	if ev.Terminal() || t.interval <= 0 {
		return true
	}
	if ev.TotalSteps > 0 && ev.Step >= ev.TotalSteps {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Reset clears the rate window, typically between generations.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}

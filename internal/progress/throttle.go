package progress

import "time"

// Throttle limits how often updates are emitted.
type Throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Ready reports whether interval has passed since the last accepted call and,
// if so, records this call as the new reference point.
func (t *Throttle) Ready() bool {
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

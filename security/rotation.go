package security

import "time"

// KeyRotationWindow bounds when a key may still be used. A zero bound is open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// WindowFrom returns a window opening at start and closing after d.
// A non-positive d yields a window that is already closed.
func WindowFrom(start time.Time, d time.Duration) KeyRotationWindow {
	if d <= 0 {
		closed := start.UTC().Add(-time.Nanosecond)
		return KeyRotationWindow{NotBefore: start.UTC(), NotAfter: closed}
	}
	return KeyRotationWindow{NotBefore: start.UTC(), NotAfter: start.UTC().Add(d)}
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

func (w KeyRotationWindow) Closed() bool {
	return !w.NotAfter.IsZero() && !w.NotBefore.IsZero() && w.NotAfter.Before(w.NotBefore)
}

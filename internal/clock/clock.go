// Package clock abstracts wall-clock time so that sync bookkeeping, backoff
// gating, and time-window caches can be driven deterministically in tests.
//
// Replay order never comes from this clock: events carry their own
// client-assigned timestamps.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

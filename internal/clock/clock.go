// Package clock abstracts time so that deadlines can be driven
// deterministically in tests.
//
// Production code takes a Clock and uses Real(); tests use Fake() and
// move time forward with Advance, which runs due AfterFunc callbacks
// synchronously in deadline order.
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f. The returned Timer
	// cancels the pending call with Stop. If d <= 0, f runs immediately
	// (in a new goroutine for the real clock, synchronously for the fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the callback from running. It returns false if the
// callback already ran or the timer was already stopped. Both cases are
// expected and harmless.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

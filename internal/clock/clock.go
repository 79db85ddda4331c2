// Package clock samples the wall clock for the trigger loop.
package clock

import "time"

// Clock reads wall time in nanoseconds since the Unix epoch and suspends
// the caller.
type Clock interface {
	Now() int64
	Sleep(d time.Duration)
}

// System is the host realtime clock.
type System struct{}

// Sleep suspends the calling goroutine for at least d.
func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

//go:build !linux

package clock

import "time"

// Now returns the wall clock in nanoseconds since the epoch.
func (System) Now() int64 {
	return time.Now().UnixNano()
}

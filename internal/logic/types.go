// Package logic contains the pure timing math for phase-locked triggering.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable as nanoseconds.
package logic

import (
	"errors"
	"time"
)

// NsPerSecond is the length of one trigger cycle.
const NsPerSecond int64 = 1_000_000_000

// DefaultMargin is the busy-wait window reserved before each trigger instant.
const DefaultMargin = 10 * time.Millisecond

// MinMargin is the smallest accepted margin. The coarse wait hands over to
// the spin only inside the margin, so it must cover sleep overshoot.
const MinMargin = time.Millisecond

// Configuration errors. All are fatal at startup.
var (
	ErrInvalidFrequency  = errors.New("frequency must be at least 1 Hz")
	ErrInvalidPulseWidth = errors.New("pulse width must be non-negative and shorter than one period")
	ErrInvalidMargin     = errors.New("margin must be at least 1ms and shorter than one second")
)

// PhaseMapper converts a configured phase into a nanosecond offset
// for a trigger period of intervalNs.
type PhaseMapper func(phase float64, intervalNs int64) int64

// TimingConfig is the immutable trigger configuration.
type TimingConfig struct {
	FrequencyHz float64
	Phase       float64
	PulseWidth  time.Duration
	Margin      time.Duration
	// PhaseOffset maps Phase to an offset. Nil means DegreesOffset.
	PhaseOffset PhaseMapper
}

// TimingState is the mutable schedule of the trigger loop.
// It is owned by exactly one loop and never shared.
type TimingState struct {
	IntervalNs  int64
	StartNs     int64
	WindowEndNs int64
	TargetNs    int64
	MarginNs    int64
}

// TriggerEvent is the timestamp of one trigger pulse's rising edge.
type TriggerEvent struct {
	Seconds     int32
	Nanoseconds uint32
	Seq         uint64 // 1-based pulse counter
	TargetNs    int64  // scheduled nanosecond-of-second
}

// Time returns the event timestamp as a time.Time.
func (e TriggerEvent) Time() time.Time {
	return time.Unix(int64(e.Seconds), int64(e.Nanoseconds))
}

// WaitMode selects how the fine wait recognises the trigger instant.
type WaitMode int

const (
	// WaitTarget spins until the clock reaches TargetNs.
	WaitTarget WaitMode = iota
	// WaitWrap spins until the clock wraps into the next cycle's window.
	WaitWrap
	// WaitOneShot handles 1 Hz, where the window start equals its end.
	WaitOneShot
)

func (m WaitMode) String() string {
	switch m {
	case WaitTarget:
		return "target"
	case WaitWrap:
		return "wrap"
	case WaitOneShot:
		return "one-shot"
	}
	return "unknown"
}

package gpio

import "fmt"

// FakeOutput is a test double that records every transition.
type FakeOutput struct {
	// Transitions contains every successful Set in order.
	Transitions []Transition

	// Level is the current level of the line.
	Level Level

	// Now, if set, stamps each transition (nanoseconds since the epoch).
	Now func() int64

	// FailHigh and FailLow, if set, are returned by Set for that level.
	FailHigh error
	FailLow  error

	// FailAfter, if positive, makes every Set after that many successful
	// calls fail.
	FailAfter int

	// Closed tracks if Close was called.
	Closed bool

	// Opened records the chip/line/direction the fake was opened with.
	Chip, Line uint
	Dir        Direction
}

// Transition is a single recorded Set.
type Transition struct {
	Level Level
	AtNs  int64
}

// NewFakeOutput creates a FakeOutput starting low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Opener returns an Opener that hands out f and records the arguments.
func (f *FakeOutput) Opener() Opener {
	return func(chip, line uint, dir Direction) (Output, error) {
		f.Chip, f.Line, f.Dir = chip, line, dir
		return f, nil
	}
}

// Set records the transition, or fails as configured.
func (f *FakeOutput) Set(level Level) error {
	if f.Dir == DirInput {
		return fmt.Errorf("fake: set %s: line %d claimed as input", level, f.Line)
	}
	if f.FailAfter > 0 && len(f.Transitions) >= f.FailAfter {
		return fmt.Errorf("fake: set %s: transition limit %d reached", level, f.FailAfter)
	}
	if level == High && f.FailHigh != nil {
		return f.FailHigh
	}
	if level == Low && f.FailLow != nil {
		return f.FailLow
	}

	var at int64
	if f.Now != nil {
		at = f.Now()
	}
	f.Transitions = append(f.Transitions, Transition{Level: level, AtNs: at})
	f.Level = level
	return nil
}

// Close marks the line as closed and drives it low.
func (f *FakeOutput) Close() error {
	f.Level = Low
	f.Closed = true
	return nil
}

// Rising returns the timestamps of all low-to-high transitions.
func (f *FakeOutput) Rising() []int64 {
	var out []int64
	for _, t := range f.Transitions {
		if t.Level == High {
			out = append(out, t.AtNs)
		}
	}
	return out
}

// Reset clears recorded transitions and injected failures.
func (f *FakeOutput) Reset() {
	f.Transitions = nil
	f.Level = Low
	f.FailHigh = nil
	f.FailLow = nil
	f.FailAfter = 0
	f.Closed = false
}

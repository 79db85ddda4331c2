package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic clock for tests. Every Now call advances time by
// Step so spin loops terminate; Sleep advances by the requested duration.
type Fake struct {
	mu    sync.Mutex
	ns    int64
	Step  int64
	Slept time.Duration
}

// NewFake returns a clock starting at startNs (nanoseconds since the epoch).
func NewFake(startNs, step int64) *Fake {
	return &Fake{ns: startNs, Step: step}
}

// Now returns the current fake time and advances it by Step.
func (f *Fake) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.ns
	f.ns += f.Step
	return n
}

// Sleep advances the fake time by d.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ns += int64(d)
	f.Slept += d
}

// Peek returns the current fake time without advancing it.
func (f *Fake) Peek() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ns
}

// Package trigger runs the phase-locked trigger loop: it waits for each
// scheduled instant, pulses the output line and reports the rising edge.
//
// The loop spins on the clock for the last few milliseconds before every
// pulse. That costs one CPU core in short bursts and is what buys
// sub-millisecond accuracy on a general purpose scheduler.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/sweeney/sensor-trigger/internal/clock"
	"github.com/sweeney/sensor-trigger/internal/gpio"
	"github.com/sweeney/sensor-trigger/internal/logic"
)

// ErrHardware marks a failed output transition. Triggering cannot continue
// after it: the sensor would silently drift out of sync.
var ErrHardware = errors.New("gpio transition failed")

// Publisher receives one event per pulse. It must not block.
type Publisher interface {
	PublishTrigger(event logic.TriggerEvent) error
}

// Observer is told about every emitted pulse (status tracking).
type Observer interface {
	RecordTrigger(event logic.TriggerEvent)
}

// Loop owns the output line and the schedule. The schedule is only ever
// touched by the goroutine running the loop.
type Loop struct {
	pulseWidth time.Duration
	state      logic.TimingState
	line       gpio.Output
	pub        Publisher
	clock      clock.Clock
	observer   Observer
	seq        uint64
}

// New validates cfg and returns a loop driving line. observer may be nil.
func New(cfg logic.TimingConfig, line gpio.Output, pub Publisher, clk clock.Clock, observer Observer) (*Loop, error) {
	st, err := logic.NewTiming(cfg)
	if err != nil {
		return nil, err
	}
	return &Loop{
		pulseWidth: cfg.PulseWidth,
		state:      st,
		line:       line,
		pub:        pub,
		clock:      clk,
		observer:   observer,
	}, nil
}

// Run fires pulses until ctx is cancelled or a transition fails.
// Cancellation is checked once per pulse, never mid-wait.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	st := l.state
	log.Printf("trigger: interval=%dns start=%dns window_end=%dns margin=%dns",
		st.IntervalNs, st.StartNs, st.WindowEndNs, st.MarginNs)

	for ctx.Err() == nil {
		if _, err := l.step(); err != nil {
			return err
		}
	}
	return nil
}

// step runs one full iteration: wait, fire, publish, advance.
func (l *Loop) step() (logic.TriggerEvent, error) {
	st := &l.state
	mode := st.CoarseWait(l.nsOfSecond, l.clock.Sleep)
	st.FineWait(l.nsOfSecond, mode)

	ev, err := l.fire(st.TargetNs)
	st.Advance()
	if err != nil {
		return logic.TriggerEvent{}, err
	}

	if err := l.pub.PublishTrigger(ev); err != nil {
		log.Printf("trigger: publish error: %v", err)
	}
	if l.observer != nil {
		l.observer.RecordTrigger(ev)
	}
	return ev, nil
}

func (l *Loop) fire(targetNs int64) (logic.TriggerEvent, error) {
	if err := l.line.Set(gpio.High); err != nil {
		return logic.TriggerEvent{}, fmt.Errorf("%w: %v", ErrHardware, err)
	}
	l.clock.Sleep(l.pulseWidth)
	after := l.clock.Now()
	if err := l.line.Set(gpio.Low); err != nil {
		return logic.TriggerEvent{}, fmt.Errorf("%w: %v", ErrHardware, err)
	}

	l.seq++
	return logic.NewTriggerEvent(after, l.pulseWidth, l.seq, targetNs), nil
}

func (l *Loop) nsOfSecond() int64 {
	return l.clock.Now() % logic.NsPerSecond
}

// Fired returns the number of pulses emitted so far.
func (l *Loop) Fired() uint64 {
	return l.seq
}

package logic

import (
	"fmt"
	"math"
	"time"
)

// DegreesOffset treats phase as degrees of one trigger period, quantised to
// 0.1 degree. A phase within 1e-7 of zero maps to no offset.
func DegreesOffset(phase float64, intervalNs int64) int64 {
	if math.Abs(phase) <= 1e-7 {
		return 0
	}
	return intervalNs * int64(phase*10) / 3600
}

// NewTiming validates cfg and returns the initial schedule.
func NewTiming(cfg TimingConfig) (TimingState, error) {
	if math.IsNaN(cfg.FrequencyHz) || math.IsInf(cfg.FrequencyHz, 0) || cfg.FrequencyHz < 1.0 {
		return TimingState{}, fmt.Errorf("%w: got %v", ErrInvalidFrequency, cfg.FrequencyHz)
	}
	interval := int64(math.Round(float64(NsPerSecond) / cfg.FrequencyHz))
	if interval <= 0 {
		return TimingState{}, fmt.Errorf("%w: %v Hz is too fast", ErrInvalidFrequency, cfg.FrequencyHz)
	}
	if cfg.PulseWidth < 0 || cfg.PulseWidth.Nanoseconds() >= interval {
		return TimingState{}, fmt.Errorf("%w: got %v, period %v", ErrInvalidPulseWidth, cfg.PulseWidth, time.Duration(interval))
	}
	if cfg.Margin < MinMargin || cfg.Margin >= time.Second {
		return TimingState{}, fmt.Errorf("%w: got %v", ErrInvalidMargin, cfg.Margin)
	}

	mapper := cfg.PhaseOffset
	if mapper == nil {
		mapper = DegreesOffset
	}
	start := mapper(cfg.Phase, interval) % interval
	if start < 0 {
		start += interval
	}

	return TimingState{
		IntervalNs:  interval,
		StartNs:     start,
		WindowEndNs: start - interval + NsPerSecond,
		TargetNs:    start,
		MarginNs:    cfg.Margin.Nanoseconds(),
	}, nil
}

// Plan picks the next trigger instant for a clock reading of nowNs
// (nanosecond of the second) and returns how long remains before the
// busy-wait margin, plus how the fine wait should detect the instant.
// The returned wait may be negative when the margin has already been entered.
func (s *TimingState) Plan(nowNs int64) (int64, WaitMode) {
	if nowNs < s.WindowEndNs {
		for s.TargetNs < nowNs {
			s.TargetNs += s.IntervalNs
		}
		// A period that does not divide the second can push the target past
		// the cycle; the next trigger then belongs to the following cycle.
		if s.TargetNs < NsPerSecond {
			return s.TargetNs - nowNs - s.MarginNs, s.mode(WaitTarget)
		}
	}
	s.TargetNs = s.StartNs
	return NsPerSecond - nowNs + s.StartNs - s.MarginNs, s.mode(WaitWrap)
}

func (s *TimingState) mode(m WaitMode) WaitMode {
	if s.StartNs == s.WindowEndNs {
		return WaitOneShot
	}
	return m
}

// Reached reports whether nowNs satisfies the fine wait for mode.
func (s *TimingState) Reached(nowNs int64, mode WaitMode) bool {
	switch mode {
	case WaitOneShot:
		return nowNs >= s.StartNs && nowNs <= s.StartNs+s.MarginNs
	case WaitWrap:
		return nowNs >= s.StartNs && nowNs < s.WindowEndNs
	default:
		return nowNs >= s.TargetNs
	}
}

// CoarseWait sleeps in halving steps until the remaining time before the
// trigger instant is within the margin. sample returns the nanosecond of
// the current second; sleep suspends the caller.
func (s *TimingState) CoarseWait(sample func() int64, sleep func(time.Duration)) WaitMode {
	for {
		wait, mode := s.Plan(sample())
		if wait <= s.MarginNs {
			return mode
		}
		// Halving keeps coarse sleep primitives from overshooting the deadline.
		sleep(time.Duration(wait / 2))
	}
}

// FineWait spins on sample until the trigger instant and returns the
// final reading. It burns CPU for at most about twice the margin.
func (s *TimingState) FineWait(sample func() int64, mode WaitMode) int64 {
	prev := sample()
	for now := prev; ; now = sample() {
		if s.Reached(now, mode) {
			return now
		}
		// The clock crossed a second boundary while waiting for a target
		// late in the cycle; firing now is closer than a full cycle later.
		if mode == WaitTarget && now < prev {
			return now
		}
		prev = now
	}
}

// Advance moves the target to the next period, wrapping to the cycle start
// when it would leave the current second.
func (s *TimingState) Advance() {
	next := s.TargetNs + s.IntervalNs
	if next >= NsPerSecond {
		next = s.StartNs
	}
	s.TargetNs = next
}

// NewTriggerEvent builds the event for a pulse whose falling edge was
// sampled at postPulseNs (nanoseconds since the epoch). The reported
// timestamp is the rising edge.
func NewTriggerEvent(postPulseNs int64, pulseWidth time.Duration, seq uint64, targetNs int64) TriggerEvent {
	edge := postPulseNs - pulseWidth.Nanoseconds()
	return TriggerEvent{
		Seconds:     int32(edge / NsPerSecond),
		Nanoseconds: uint32(edge % NsPerSecond),
		Seq:         seq,
		TargetNs:    targetNs,
	}
}

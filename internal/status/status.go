// Package status provides a thread-safe status tracker for the sensor-trigger daemon.
// The trigger loop writes to it once per pulse; HTTP handlers and the
// heartbeat read snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/sensor-trigger/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	FrameRateHz  float64
	Phase        float64
	PulseWidthMs int64
	MarginMs     int64
	GPIOName     string
	Chip         uint
	Line         uint
	IntervalNs   int64
	StartNs      int64
	HeartbeatMs  int64
	Broker       string
	HTTPAddr     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Running       bool
	Triggers      uint64
	LastTrigger   logic.TriggerEvent
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// HasTriggered reports whether at least one pulse has fired.
func (s Snapshot) HasTriggered() bool {
	return s.Triggers > 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// RecordTrigger counts a pulse and remembers its timestamp.
// Called from the trigger loop after every pulse.
func (t *Tracker) RecordTrigger(ev logic.TriggerEvent) {
	t.mu.Lock()
	t.snap.Triggers++
	t.snap.LastTrigger = ev
	t.mu.Unlock()
}

// SetRunning marks whether the trigger loop is active.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

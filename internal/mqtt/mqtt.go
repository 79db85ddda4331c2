// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/sensor-trigger/internal/logic"
)

// TopicPrefix is the root of all sensor-trigger topics.
const TopicPrefix = "sensor/trigger"

// Topics holds the per-line topic names.
type Topics struct {
	Trigger string // trigger timestamps, one message per pulse
	System  string // lifecycle events
}

// NewTopics returns the topics for the named trigger line.
func NewTopics(gpioName string) Topics {
	base := TopicPrefix + "/" + gpioName
	return Topics{
		Trigger: base + "/trigger_time",
		System:  base + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishTrigger hands a trigger timestamp to the transport.
	// It must not block the trigger loop.
	PublishTrigger(event logic.TriggerEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "gpio failure"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TriggerPayload is the MQTT message for one trigger pulse.
type TriggerPayload struct {
	TriggerTime TriggerTime `json:"trigger_time"`
}

// TriggerTime is the rising-edge timestamp of a pulse.
type TriggerTime struct {
	Sec       int32  `json:"sec"`
	Nsec      uint32 `json:"nsec"`
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
}

// FormatTriggerPayload creates the JSON payload for a trigger event.
func FormatTriggerPayload(event logic.TriggerEvent) ([]byte, error) {
	payload := TriggerPayload{
		TriggerTime: TriggerTime{
			Sec:       event.Seconds,
			Nsec:      event.Nanoseconds,
			Seq:       event.Seq,
			Timestamp: event.Time().UTC().Format(time.RFC3339Nano),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// willPayload is published by the broker if the daemon drops off without a
// SHUTDOWN. It equals FormatSystemPayload(SystemEvent{Event: "OFFLINE"}).
const willPayload = `{"system":{"event":"OFFLINE"}}`

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

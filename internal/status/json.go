package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Running       bool         `json:"running"`
	Triggers      uint64       `json:"triggers"`
	LastTrigger   *TriggerJSON `json:"last_trigger,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// TriggerJSON is the most recent pulse timestamp.
type TriggerJSON struct {
	Sec       int32  `json:"sec"`
	Nsec      uint32 `json:"nsec"`
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	FrameRateHz  float64 `json:"frame_rate_hz"`
	Phase        float64 `json:"phase"`
	PulseWidthMs int64   `json:"pulse_width_ms"`
	MarginMs     int64   `json:"margin_ms"`
	GPIOName     string  `json:"gpio_name"`
	Chip         uint    `json:"chip"`
	Line         uint    `json:"line"`
	IntervalNs   int64   `json:"interval_ns"`
	StartNs      int64   `json:"start_offset_ns"`
	HeartbeatMs  int64   `json:"heartbeat_ms"`
	Broker       string  `json:"broker"`
	HTTPAddr     string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Running:       snap.Running,
		Triggers:      snap.Triggers,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			FrameRateHz:  snap.Config.FrameRateHz,
			Phase:        snap.Config.Phase,
			PulseWidthMs: snap.Config.PulseWidthMs,
			MarginMs:     snap.Config.MarginMs,
			GPIOName:     snap.Config.GPIOName,
			Chip:         snap.Config.Chip,
			Line:         snap.Config.Line,
			IntervalNs:   snap.Config.IntervalNs,
			StartNs:      snap.Config.StartNs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}

	if snap.HasTriggered() {
		ev := snap.LastTrigger
		inner.LastTrigger = &TriggerJSON{
			Sec:       ev.Seconds,
			Nsec:      ev.Nanoseconds,
			Seq:       ev.Seq,
			Timestamp: ev.Time().UTC().Format(time.RFC3339Nano),
		}
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

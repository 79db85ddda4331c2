package mqtt

import (
	"sync"

	"github.com/sweeney/sensor-trigger/internal/logic"
)

// FakePublisher records published events for test assertions.
// Safe for concurrent use; read the fields once publishing has stopped.
type FakePublisher struct {
	mu sync.Mutex

	// Triggers contains all trigger events that were published.
	Triggers []logic.TriggerEvent

	// TriggerPayloads contains the JSON payloads for trigger events.
	TriggerPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishTriggerError, if set, will be returned by PublishTrigger.
	PublishTriggerError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// OnTrigger, if set, is called after each recorded trigger event.
	OnTrigger func(logic.TriggerEvent)

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTrigger records the trigger event.
func (f *FakePublisher) PublishTrigger(event logic.TriggerEvent) error {
	f.mu.Lock()
	if f.PublishTriggerError != nil {
		err := f.PublishTriggerError
		f.mu.Unlock()
		return err
	}

	payload, err := FormatTriggerPayload(event)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.Triggers = append(f.Triggers, event)
	f.TriggerPayloads = append(f.TriggerPayloads, payload)
	hook := f.OnTrigger
	f.mu.Unlock()

	if hook != nil {
		hook(event)
	}
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// TriggerCount returns the number of recorded trigger events.
func (f *FakePublisher) TriggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Triggers)
}

// SystemEventNames returns the Event field of each recorded system event.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Triggers = nil
	f.TriggerPayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishTriggerError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/sensor-trigger/internal/logic"
)

// DefaultBufferSize is how many trigger messages are held while the broker
// is unreachable.
const DefaultBufferSize = 1024

// RealPublisher publishes to an actual MQTT broker.
// Trigger events are queued and sent from a background goroutine so the
// trigger loop never waits on the network.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu  sync.Mutex
	buf *ringBuffer

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewRealPublisher creates a publisher for the given broker. Connection
// happens in the background and is retried until it succeeds; trigger
// events published before then are buffered.
func NewRealPublisher(broker, clientID string, topics Topics, bufferSize int) *RealPublisher {
	p := &RealPublisher{
		topics: topics,
		buf:    newRingBuffer(bufferSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWriteTimeout(time.Second).
		SetWill(topics.System, willPayload, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", broker)
			p.signal()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()

	p.wg.Add(1)
	go p.sendLoop()

	return p
}

// PublishTrigger queues a trigger event. It never blocks on the network.
func (p *RealPublisher) PublishTrigger(event logic.TriggerEvent) error {
	payload, err := FormatTriggerPayload(event)
	if err != nil {
		return fmt.Errorf("format trigger payload: %w", err)
	}

	p.mu.Lock()
	p.buf.push(bufferedMsg{topic: p.topics.Trigger, payload: payload})
	p.mu.Unlock()

	p.signal()
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - lifecycle events are rare and worth confirming
	token := p.client.Publish(p.topics.System, 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}

	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close flushes what it can and disconnects from the broker.
func (p *RealPublisher) Close() error {
	close(p.done)
	p.wg.Wait()
	p.flush()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *RealPublisher) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
			p.flush()
		}
	}
}

// flush sends every buffered message if the broker is reachable.
// Messages that fail are put back for the next connection.
func (p *RealPublisher) flush() {
	if !p.client.IsConnectionOpen() {
		return
	}

	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()

	for i, m := range msgs {
		// QoS 0 (at-most-once), not retained
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			continue
		}
		log.Printf("mqtt: trigger publish failed, re-buffering %d messages: %v", len(msgs)-i, token.Error())
		p.mu.Lock()
		newer := p.buf.drainAll()
		for _, m := range append(msgs[i:], newer...) {
			p.buf.push(m)
		}
		p.mu.Unlock()
		return
	}
}

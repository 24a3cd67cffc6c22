package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// DefaultBufferSize is the number of messages held while the broker is unreachable.
const DefaultBufferSize = 500

const publishTimeout = 5 * time.Second

// RealPublisher publishes to an actual MQTT broker. It connects in the
// background and retries forever; messages published while disconnected are
// buffered and replayed in order once the connection is up.
type RealPublisher struct {
	client paho.Client
	log    *slog.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher starts connecting to broker and returns immediately.
func NewRealPublisher(broker, clientID string, log *slog.Logger) *RealPublisher {
	if log == nil {
		log = slog.Default()
	}
	p := &RealPublisher{
		log: log.With("broker", broker),
		buf: newRingBuffer(DefaultBufferSize, log),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "connection lost"})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect replays everything buffered while the broker was unreachable.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.log.Info("mqtt connected", "replaying", len(pending))
	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn("mqtt replay timeout", "topic", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			p.log.Warn("mqtt replay failed", "topic", m.topic, "err", err)
		}
	}
}

// PublishBatch sends one tick's readings. QoS 0, not retained.
func (p *RealPublisher) PublishBatch(batch []logic.Reading) error {
	payload, err := FormatBatchPayload(batch)
	if err != nil {
		return fmt.Errorf("format batch payload: %w", err)
	}
	return p.publish(Topic, 0, false, payload)
}

// PublishSystem sends a lifecycle event. QoS 1 so shutdown notices arrive.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// Package memory provides an in-process transport: each agent topic is a
// buffered channel of deliveries.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Name is the transport identifier.
const Name = "memory"

// Delivery 一次投递
type Delivery struct {
	ID          string
	Topic       string
	AgentID     string
	Envelope    types.Envelope
	DeliveredAt time.Time
}

// Config 内存传输配置
type Config struct {
	// Buffer is the per-topic channel capacity.
	Buffer int `json:"buffer" yaml:"buffer"`
	// AutoCreate creates topics on first send. Without it, sending to an
	// unsubscribed topic is a permanent error.
	AutoCreate bool `json:"auto_create" yaml:"auto_create"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Buffer: 256, AutoCreate: true}
}

// Transport 基于 channel 的进程内传输
type Transport struct {
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]chan Delivery
	closed bool
}

// New creates a memory transport.
func New(config Config, logger *zap.Logger) *Transport {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		config: config,
		logger: logger.With(zap.String("component", "transport"), zap.String("transport", Name)),
		topics: make(map[string]chan Delivery),
	}
}

// Name implements transport.Port.
func (t *Transport) Name() string { return Name }

// Subscribe returns the delivery channel of topic, creating it if needed.
func (t *Transport) Subscribe(topic string) <-chan Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topicLocked(topic)
}

func (t *Transport) topicLocked(topic string) chan Delivery {
	ch, ok := t.topics[topic]
	if !ok {
		ch = make(chan Delivery, t.config.Buffer)
		t.topics[topic] = ch
	}
	return ch
}

// Send implements transport.Port. A full topic buffer is a transient error.
func (t *Transport) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	topic := target.Topic
	if topic == "" {
		topic = types.AgentTopic(target.AgentID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", types.NewTransportError("memory transport closed", nil)
	}
	ch, ok := t.topics[topic]
	if !ok {
		if !t.config.AutoCreate {
			t.mu.Unlock()
			return "", types.NewTransportError("no subscriber for topic "+topic, nil)
		}
		ch = t.topicLocked(topic)
	}

	d := Delivery{
		ID:          uuid.NewString(),
		Topic:       topic,
		AgentID:     target.AgentID,
		Envelope:    env,
		DeliveredAt: time.Now(),
	}
	select {
	case ch <- d:
		t.mu.Unlock()
		t.logger.Debug("envelope delivered",
			zap.String("envelope_id", env.ID()),
			zap.String("topic", topic),
			zap.String("delivery_id", d.ID))
		return d.ID, nil
	default:
		t.mu.Unlock()
		return "", types.NewTransientTransportError("topic "+topic+" buffer full", nil)
	}
}

// Pending returns how many deliveries wait on topic.
func (t *Transport) Pending(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}

// Close closes every topic channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, ch := range t.topics {
		close(ch)
	}
	return nil
}

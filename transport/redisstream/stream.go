// Package redisstream delivers envelopes by appending them to a per-agent
// Redis stream. The stream entry id is the delivery id.
package redisstream

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BaSui01/agentmesh/transport"
	"github.com/BaSui01/agentmesh/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Name is the transport identifier.
const Name = "redis_stream"

// Stream entry field names.
const (
	FieldEnvelope   = "envelope"
	FieldEnvelopeID = "envelope_id"
	FieldAgentID    = "agent_id"
	FieldPriority   = "priority"
)

// Config Redis Stream 传输配置
type Config struct {
	// KeyPrefix is prepended to the target topic to form the stream key.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// MaxLen caps each stream approximately. Zero leaves streams unbounded.
	MaxLen int64 `json:"max_len" yaml:"max_len"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{KeyPrefix: "agentmesh:stream:", MaxLen: 10000}
}

// Transport Redis Stream 传输
type Transport struct {
	client redis.UniversalClient
	config Config
	logger *zap.Logger
}

// New creates a stream transport over client.
func New(client redis.UniversalClient, config Config, logger *zap.Logger) *Transport {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "transport"), zap.String("transport", Name)),
	}
}

// Name implements transport.Port.
func (t *Transport) Name() string { return Name }

// StreamKey returns the stream key for a topic.
func (t *Transport) StreamKey(topic string) string {
	return t.config.KeyPrefix + topic
}

// Send implements transport.Port.
func (t *Transport) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	topic := target.Topic
	if topic == "" {
		topic = types.AgentTopic(target.AgentID)
	}
	body, err := json.Marshal(env.View())
	if err != nil {
		return "", types.NewValidationError("encode envelope %s: %v", env.ID(), err)
	}

	args := &redis.XAddArgs{
		Stream: t.StreamKey(topic),
		Values: map[string]any{
			FieldEnvelope:   string(body),
			FieldEnvelopeID: env.ID(),
			FieldAgentID:    target.AgentID,
			FieldPriority:   strconv.Itoa(int(env.Priority())),
		},
	}
	if t.config.MaxLen > 0 {
		args.MaxLen = t.config.MaxLen
		args.Approx = true
	}

	id, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", classify(err)
	}
	t.logger.Debug("envelope appended",
		zap.String("envelope_id", env.ID()),
		zap.String("stream", args.Stream),
		zap.String("entry_id", id))
	return id, nil
}

// Message 从流中读取的一条投递
type Message struct {
	ID       string
	AgentID  string
	Priority types.Priority
	Envelope types.EnvelopeView
}

// Read returns up to count entries of topic after afterID ("" reads from the
// start).
func (t *Transport) Read(ctx context.Context, topic, afterID string, count int64) ([]Message, error) {
	start := "-"
	if afterID != "" {
		// Inclusive range plus one so servers without "(" support behave the same.
		start = afterID
		count++
	}
	entries, err := t.client.XRangeN(ctx, t.StreamKey(topic), start, "+", count).Result()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.ID == afterID {
			continue
		}
		msg := Message{ID: e.ID}
		if v, ok := e.Values[FieldAgentID].(string); ok {
			msg.AgentID = v
		}
		if v, ok := e.Values[FieldPriority].(string); ok {
			p, _ := strconv.Atoi(v)
			msg.Priority = types.Priority(p)
		}
		if v, ok := e.Values[FieldEnvelope].(string); ok {
			if err := json.Unmarshal([]byte(v), &msg.Envelope); err != nil {
				return nil, types.NewValidationError("decode entry %s: %v", e.ID, err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// Len returns the number of entries in topic's stream.
func (t *Transport) Len(ctx context.Context, topic string) (int64, error) {
	n, err := t.client.XLen(ctx, t.StreamKey(topic)).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// classify marks connection-level failures and Redis' own retry hints as
// transient.
func classify(err error) error {
	if transport.IsRetryable(err) {
		return types.NewTransientTransportError("redis stream unavailable", err)
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "READONLY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"} {
		if strings.HasPrefix(msg, prefix) {
			return types.NewTransientTransportError("redis stream busy", err)
		}
	}
	return transport.Classify(err, transport.IsRetryable)
}

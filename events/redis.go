package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "agentmesh:events"

// RedisSink publishes events as JSON on a Redis pub/sub channel. Emit
// performs a synchronous PUBLISH; wrap it in an AsyncSink in production.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisSink creates a publishing sink.
func NewRedisSink(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.With(zap.String("component", "redis_event_sink")),
	}
}

// Channel returns the channel name.
func (s *RedisSink) Channel() string { return s.channel }

// Emit implements Sink.
func (s *RedisSink) Emit(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.String("event_id", e.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

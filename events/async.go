package events

import (
	"context"

	"github.com/BaSui01/agentmesh/internal/pool"
	"go.uber.org/zap"
)

// AsyncSink hands events to a goroutine pool so that slow sinks never block
// the emitter. Events are dropped when the pool queue is full.
type AsyncSink struct {
	next   Sink
	pool   *pool.GoroutinePool
	logger *zap.Logger
}

// NewAsyncSink wraps next. Close must be called to flush pending events.
func NewAsyncSink(next Sink, config pool.GoroutinePoolConfig, logger *zap.Logger) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "async_event_sink"))
	return &AsyncSink{
		next:   OrNop(next),
		pool:   pool.NewGoroutinePool(config, logger),
		logger: logger,
	}
}

// Emit implements Sink.
func (s *AsyncSink) Emit(e Event) {
	err := s.pool.Submit(func(context.Context) error {
		s.next.Emit(e)
		return nil
	})
	if err != nil {
		s.logger.Debug("event dropped",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

// Stats returns delivery statistics of the underlying pool.
func (s *AsyncSink) Stats() pool.GoroutinePoolStats { return s.pool.Stats() }

// Close flushes queued events and stops the workers.
func (s *AsyncSink) Close() { s.pool.Close() }

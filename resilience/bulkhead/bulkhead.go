// Package bulkhead provides admission control for calls to a shared
// downstream: a fixed number of concurrent slots and a bounded wait queue.
package bulkhead

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"go.uber.org/zap"
)

var (
	// ErrBulkheadFull is returned when both slots and queue are occupied.
	ErrBulkheadFull = types.NewError(types.ErrBulkheadFull, "bulkhead is full")
	// ErrQueueTimeout is returned when a queued caller waits past QueueTimeout.
	ErrQueueTimeout = types.NewError(types.ErrBulkheadTimeout, "bulkhead queue wait timed out")
)

// Config bounds concurrency and queueing.
type Config struct {
	MaxConcurrent int
	MaxQueueSize  int
	// QueueTimeout bounds how long a queued caller waits. Zero waits until
	// the caller's context ends.
	QueueTimeout time.Duration
}

// DefaultConfig returns the default bulkhead configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 10,
		MaxQueueSize:  50,
		QueueTimeout:  5 * time.Second,
	}
}

// Stats is a point-in-time view of the bulkhead.
type Stats struct {
	Name          string  `json:"name"`
	Active        int     `json:"active"`
	Queued        int     `json:"queued"`
	MaxConcurrent int     `json:"max_concurrent"`
	MaxQueueSize  int     `json:"max_queue_size"`
	Admitted      int64   `json:"admitted"`
	Rejected      int64   `json:"rejected"`
	TimedOut      int64   `json:"timed_out"`
	Utilization   float64 `json:"utilization"`
	RejectionRate float64 `json:"rejection_rate"`
}

// Bulkhead limits concurrent callers with a counting semaphore.
type Bulkhead struct {
	name   string
	config Config
	logger *zap.Logger

	// semaphore holds one token per free slot.
	semaphore chan struct{}

	// queueMu makes the queue-capacity check and increment atomic.
	queueMu sync.Mutex
	queued  int

	active   atomic.Int32
	admitted atomic.Int64
	rejected atomic.Int64
	timedOut atomic.Int64
}

// New creates a bulkhead. Non-positive limits fall back to defaults; a
// negative queue size disables queueing.
func New(name string, config Config, logger *zap.Logger) *Bulkhead {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.MaxQueueSize == 0 {
		config.MaxQueueSize = def.MaxQueueSize
	}
	if config.MaxQueueSize < 0 {
		config.MaxQueueSize = 0
	}
	if config.QueueTimeout < 0 {
		config.QueueTimeout = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bulkhead{
		name:      name,
		config:    config,
		logger:    logger.With(zap.String("component", "bulkhead"), zap.String("bulkhead", name)),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
	for i := 0; i < config.MaxConcurrent; i++ {
		b.semaphore <- struct{}{}
	}
	return b
}

// Name returns the bulkhead name.
func (b *Bulkhead) Name() string { return b.name }

// Acquire takes a slot, waiting in the queue if necessary. Every successful
// Acquire must be paired with Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case <-b.semaphore:
		b.admit()
		return nil
	default:
	}

	b.queueMu.Lock()
	if b.queued >= b.config.MaxQueueSize {
		b.queueMu.Unlock()
		b.rejected.Add(1)
		b.logger.Debug("bulkhead full, rejecting caller",
			zap.Int("max_concurrent", b.config.MaxConcurrent),
			zap.Int("max_queue_size", b.config.MaxQueueSize))
		return ErrBulkheadFull
	}
	b.queued++
	b.queueMu.Unlock()
	defer b.dequeue()

	var timeout <-chan time.Time
	if b.config.QueueTimeout > 0 {
		timer := time.NewTimer(b.config.QueueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-b.semaphore:
		b.admit()
		return nil
	case <-timeout:
		b.timedOut.Add(1)
		return types.NewError(types.ErrBulkheadTimeout,
			fmt.Sprintf("bulkhead %s: queued longer than %s", b.name, b.config.QueueTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot.
func (b *Bulkhead) Release() {
	b.active.Add(-1)
	b.semaphore <- struct{}{}
}

// Execute runs fn inside a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}

func (b *Bulkhead) admit() {
	b.active.Add(1)
	b.admitted.Add(1)
}

func (b *Bulkhead) dequeue() {
	b.queueMu.Lock()
	b.queued--
	b.queueMu.Unlock()
}

// Stats returns current statistics.
func (b *Bulkhead) Stats() Stats {
	b.queueMu.Lock()
	queued := b.queued
	b.queueMu.Unlock()

	active := int(b.active.Load())
	admitted := b.admitted.Load()
	rejected := b.rejected.Load()

	s := Stats{
		Name:          b.name,
		Active:        active,
		Queued:        queued,
		MaxConcurrent: b.config.MaxConcurrent,
		MaxQueueSize:  b.config.MaxQueueSize,
		Admitted:      admitted,
		Rejected:      rejected,
		TimedOut:      b.timedOut.Load(),
		Utilization:   float64(active) / float64(b.config.MaxConcurrent),
	}
	if total := admitted + rejected; total > 0 {
		s.RejectionRate = float64(rejected) / float64(total)
	}
	return s
}

// IsHealthy reports utilization below 95% and rejection rate below 5%.
func (b *Bulkhead) IsHealthy() bool {
	s := b.Stats()
	return s.Utilization < 0.95 && s.RejectionRate < 0.05
}

// ForDatabase sizes a bulkhead for a database connection pool.
func ForDatabase() Config {
	return Config{MaxConcurrent: 20, MaxQueueSize: 1000, QueueTimeout: 5 * time.Second}
}

// ForExternalAPI sizes a bulkhead for calls to a remote HTTP API.
func ForExternalAPI() Config {
	return Config{MaxConcurrent: 50, MaxQueueSize: 500, QueueTimeout: 30 * time.Second}
}

// ForMessageBroker sizes a bulkhead for publishing to a broker.
func ForMessageBroker() Config {
	return Config{MaxConcurrent: 100, MaxQueueSize: 2000, QueueTimeout: 5 * time.Second}
}

// Preset returns a named configuration.
func Preset(name string) (Config, bool) {
	switch name {
	case "database":
		return ForDatabase(), true
	case "external_api":
		return ForExternalAPI(), true
	case "message_broker":
		return ForMessageBroker(), true
	case "default", "":
		return DefaultConfig(), true
	default:
		return Config{}, false
	}
}

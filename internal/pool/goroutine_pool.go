// Package pool runs fire-and-forget work, such as event delivery, on a
// fixed set of workers behind a bounded queue.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task is one unit of work. Its context carries the per-task deadline.
type Task func(ctx context.Context) error

// GoroutinePoolConfig sizes the pool.
type GoroutinePoolConfig struct {
	MaxWorkers int
	QueueSize  int
	// TaskTimeout bounds each task's context. Zero means no deadline.
	TaskTimeout time.Duration
}

func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{MaxWorkers: 8, QueueSize: 1024, TaskTimeout: 5 * time.Second}
}

func (c GoroutinePoolConfig) withDefaults() GoroutinePoolConfig {
	def := DefaultGoroutinePoolConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.TaskTimeout < 0 {
		c.TaskTimeout = 0
	}
	return c
}

// GoroutinePoolStats is a point-in-time view of the counters.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}

type counters struct {
	active                                         atomic.Int32
	submitted, completed, failed, rejected, panics atomic.Int64
}

// GoroutinePool starts MaxWorkers goroutines up front. Submit never blocks;
// a full queue rejects the task. Close drains what is already queued.
type GoroutinePool struct {
	cfg    GoroutinePoolConfig
	logger *zap.Logger
	queue  chan Task
	stats  counters

	// mu keeps Submit from sending on a queue Close has closed.
	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

// NewGoroutinePool starts the workers. Zero config values take defaults.
func NewGoroutinePool(cfg GoroutinePoolConfig, logger *zap.Logger) *GoroutinePool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &GoroutinePool{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "goroutine_pool")),
		queue:  make(chan Task, cfg.QueueSize),
	}
	p.workers.Add(cfg.MaxWorkers)
	for range cfg.MaxWorkers {
		go p.work()
	}
	return p
}

// Submit enqueues task, returning ErrPoolFull or ErrPoolClosed on rejection.
func (p *GoroutinePool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.stats.submitted.Add(1)
		return nil
	default:
		p.stats.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *GoroutinePool) work() {
	defer p.workers.Done()
	for task := range p.queue {
		p.stats.active.Add(1)
		if err := p.run(task); err != nil {
			p.stats.failed.Add(1)
		} else {
			p.stats.completed.Add(1)
		}
		p.stats.active.Add(-1)
	}
}

func (p *GoroutinePool) run(task Task) (err error) {
	ctx := context.Background()
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Close rejects new tasks, runs the queued ones and waits for the workers.
// Further calls are no-ops.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.workers.Wait()
}

func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   p.cfg.MaxWorkers,
		Active:    int(p.stats.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Failed:    p.stats.failed.Load(),
		Rejected:  p.stats.rejected.Load(),
		Panicked:  p.stats.panics.Load(),
	}
}

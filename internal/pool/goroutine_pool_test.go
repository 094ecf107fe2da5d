package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewGoroutinePool_Defaults(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{}, nil)
	defer p.Close()
	assert.Equal(t, DefaultGoroutinePoolConfig().MaxWorkers, p.cfg.MaxWorkers)
	assert.Equal(t, DefaultGoroutinePoolConfig().QueueSize, cap(p.queue))
}

func TestGoroutinePool_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 64}, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(50), ran.Load())
	s := p.Stats()
	assert.Equal(t, int64(50), s.Submitted)
	assert.Equal(t, int64(50), s.Completed)
	assert.Equal(t, 4, s.Workers)
	assert.Zero(t, s.Active)
	assert.Zero(t, s.Queued)
}

func TestGoroutinePool_RejectsWhenFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, p.Submit(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, p.Submit(func(ctx context.Context) error { return nil }), ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	p.Close()
	assert.ErrorIs(t, p.Submit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_RecoversPanics(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1}, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		defer wg.Done()
		panic("boom")
	}))
	wg.Wait()
	require.NoError(t, p.Submit(func(ctx context.Context) error { return errors.New("failed") }))
	p.Close()

	s := p.Stats()
	assert.Equal(t, int64(1), s.Panicked)
	assert.Equal(t, int64(2), s.Failed)
}

func TestGoroutinePool_TaskTimeout(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, TaskTimeout: 10 * time.Millisecond}, zap.NewNop())

	errCh := make(chan error, 1)
	require.NoError(t, p.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}))
	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
	p.Close()
}

func TestGoroutinePool_CloseDrainsQueue(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 8}, zap.NewNop())

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, p.Submit(func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	close(release)
	<-closed

	assert.Equal(t, int32(6), ran.Load())
	p.Close()
}

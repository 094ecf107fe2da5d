package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/events"
	"github.com/BaSui01/agentmesh/resilience/bulkhead"
	"github.com/BaSui01/agentmesh/resilience/circuitbreaker"
	"github.com/BaSui01/agentmesh/resilience/retry"
	"github.com/BaSui01/agentmesh/testutil"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransient = types.NewTransientTransportError("broker unavailable", nil)

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.Breaker.FailureThreshold = 2
	p.Breaker.SuccessThreshold = 1
	p.Retry = retry.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	p.Bulkhead = bulkhead.Config{MaxConcurrent: 2, MaxQueueSize: -1}
	return p
}

// --- Guard ---

func TestGuard_RetriesInsideSingleBreakerOutcome(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: fastPolicy()}, nil, zap.NewNop())
	g := reg.Guard("broker")

	calls := 0
	out, err := g.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, out.Attempts)

	snap := g.Breaker().Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveFailures, "one breaker outcome per guarded call")
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State())

	_, _ = g.Execute(context.Background(), func(context.Context) error { return errTransient })
	assert.Equal(t, circuitbreaker.StateOpen, g.Breaker().State())

	calls = 0
	_, err = g.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Zero(t, calls, "open circuit must not invoke the function")
}

func TestGuard_ValidationErrorsDoNotTrip(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: fastPolicy()}, nil, zap.NewNop())
	g := reg.Guard("api")

	for i := 0; i < 5; i++ {
		_, err := g.Execute(context.Background(), func(context.Context) error {
			return types.NewValidationError("bad payload")
		})
		assert.True(t, types.IsCode(err, types.ErrValidation))
	}
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State())
}

func TestGuard_BulkheadRejectsBeforeBreaker(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: fastPolicy()}, nil, zap.NewNop())
	g := reg.Guard("narrow")

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), func(context.Context) error {
				started.Done()
				<-release
				return nil
			})
		}()
	}
	started.Wait()

	called := false
	_, err := g.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, bulkhead.ErrBulkheadFull)
	assert.False(t, called)
	assert.Zero(t, g.Breaker().Snapshot().TotalFailures)

	close(release)
	wg.Wait()
	assert.Equal(t, int64(2), g.Breaker().Snapshot().TotalCalls)
}

func TestExecuteTyped(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: fastPolicy()}, nil, zap.NewNop())
	g := reg.Guard("typed")

	attempt := 0
	id, out, err := ExecuteTyped(g, context.Background(), func(context.Context) (string, error) {
		attempt++
		if attempt < 2 {
			return "", errTransient
		}
		return "delivery-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", id)
	assert.Equal(t, 2, out.Attempts)
	assert.Positive(t, out.Duration)
}

// --- Registry ---

func TestRegistry_SharesGuardPerName(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: DefaultPolicy()}, nil, zap.NewNop())

	a := reg.Guard("redis")
	b := reg.Guard("redis")
	c := reg.Guard("websocket")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, []string{"redis", "websocket"}, reg.Names())

	got, ok := reg.Lookup("redis")
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentGuardCreation(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Default: DefaultPolicy()}, nil, zap.NewNop())

	guards := make([]*Guard, 32)
	var wg sync.WaitGroup
	for i := range guards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			guards[i] = reg.Guard("shared")
		}(i)
	}
	wg.Wait()
	for _, g := range guards {
		assert.Same(t, guards[0], g)
	}
}

func TestRegistry_Overrides(t *testing.T) {
	override := fastPolicy()
	override.Bulkhead = bulkhead.Config{MaxConcurrent: 7, MaxQueueSize: 3}
	reg := NewRegistry(RegistryConfig{
		Default:   DefaultPolicy(),
		Overrides: map[string]Policy{"special": override},
	}, nil, zap.NewNop())

	assert.Equal(t, 7, reg.Guard("special").Bulkhead().Stats().MaxConcurrent)
	assert.Equal(t, 10, reg.Guard("other").Bulkhead().Stats().MaxConcurrent)
}

func TestRegistry_EmitsBreakerTransitions(t *testing.T) {
	rec := mocks.NewEventRecorder()
	clock := testutil.NewFakeClock(testutil.Epoch)
	policy := fastPolicy()
	policy.Retry.MaxAttempts = 1
	policy.Breaker.RecoveryTimeout = time.Minute
	policy.Breaker.Clock = clock.Now

	var hookCalls sync.WaitGroup
	hookCalls.Add(3)
	policy.Breaker.OnStateChange = func(string, circuitbreaker.State, circuitbreaker.State) { hookCalls.Done() }

	reg := NewRegistry(RegistryConfig{Default: policy}, rec, zap.NewNop())
	g := reg.Guard("memory")
	fail := func(context.Context) error { return errTransient }

	_, _ = g.Execute(context.Background(), fail)
	_, _ = g.Execute(context.Background(), fail)
	assert.Equal(t, []string{"memory"}, reg.OpenCircuits())
	// The transition callback reads the clock, so let it fire before advancing.
	require.Eventually(t, func() bool { return rec.Count(events.KindCircuitOpened) == 1 }, time.Second, time.Millisecond)

	clock.Advance(2 * time.Minute)
	_, err := g.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, reg.OpenCircuits())

	hookCalls.Wait()
	assert.Eventually(t, func() bool {
		return rec.Count(events.KindCircuitOpened) == 1 &&
			rec.Count(events.KindCircuitHalfOpened) == 1 &&
			rec.Count(events.KindCircuitClosed) == 1
	}, time.Second, 5*time.Millisecond)

	opened := rec.OfKind(events.KindCircuitOpened)[0]
	assert.Equal(t, "memory", opened.Circuit)
	assert.Equal(t, "Closed", opened.From)
	assert.Equal(t, "Open", opened.To)
	assert.True(t, opened.OccurredAt.Equal(testutil.Epoch))
}

func TestRegistry_SnapshotAndResetAll(t *testing.T) {
	policy := fastPolicy()
	policy.Retry.MaxAttempts = 1
	reg := NewRegistry(RegistryConfig{Default: policy}, nil, zap.NewNop())

	for _, name := range []string{"b", "a"} {
		g := reg.Guard(name)
		for i := 0; i < 2; i++ {
			_, _ = g.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
		}
	}
	assert.Equal(t, []string{"a", "b"}, reg.OpenCircuits())

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, "Open", snap[0].Breaker.State)
	assert.False(t, snap[0].Healthy)
	assert.Equal(t, int64(2), snap[0].Retry.Executions)

	reg.ResetAll()
	assert.Empty(t, reg.OpenCircuits())
	for _, s := range reg.Snapshot() {
		assert.True(t, s.Healthy)
	}
}

func TestPresetPolicy(t *testing.T) {
	p, ok := PresetPolicy("message_broker")
	require.True(t, ok)
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, 100, p.Bulkhead.MaxConcurrent)

	p, ok = PresetPolicy("aggressive")
	require.True(t, ok)
	assert.Equal(t, bulkhead.DefaultConfig(), p.Bulkhead)

	_, ok = PresetPolicy("unknown")
	assert.False(t, ok)
}

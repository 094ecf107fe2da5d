package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// --- Event ---

func TestNew_AssignsIDAndUTC(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))
	a := New(KindTaskAssigned, at)
	b := New(KindTaskAssigned, at)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
	assert.True(t, a.OccurredAt.Equal(at))
}

func TestEvent_Builders(t *testing.T) {
	base := New(KindStatusChanged, time.Now()).
		WithAgent("t1", "agent-1").
		WithTask("task-9").
		WithTransition("AVAILABLE", "BUSY").
		WithReason("assigned").
		WithData("score", 0.8)

	assert.Equal(t, "t1", base.TenantID)
	assert.Equal(t, "agent-1", base.AgentID)
	assert.Equal(t, "task-9", base.TaskID)
	assert.Equal(t, "AVAILABLE", base.From)
	assert.Equal(t, "BUSY", base.To)
	assert.Equal(t, "assigned", base.Reason)

	derived := base.WithData("extra", true)
	assert.Len(t, base.Data, 1, "WithData must not alias the base event's map")
	assert.Len(t, derived.Data, 2)

	env := New(KindEnvelopeDelivered, time.Now()).WithEnvelope("t2", "env-1")
	assert.Equal(t, "t2", env.TenantID)
	assert.Equal(t, "env-1", env.EnvelopeID)
}

// --- Sinks ---

func TestMultiAndFunc(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var called int
	sink := Multi(a, nil, b, Func(func(Event) { called++ }))

	sink.Emit(New(KindCircuitOpened, time.Now()))
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())
	assert.Equal(t, 1, called)
}

func TestOrNop(t *testing.T) {
	assert.NotPanics(t, func() { OrNop(nil).Emit(Event{}) })
	r := &recorder{}
	OrNop(r).Emit(Event{})
	assert.Equal(t, 1, r.len())
}

func TestLogSink_LevelsByKind(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(New(KindTaskAssigned, time.Now()).WithAgent("t", "a1").WithTask("x"))
	sink.Emit(New(KindEnvelopeFailed, time.Now()).WithEnvelope("t", "e1").WithReason("all targets failed"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "e1", entries[1].ContextMap()["envelope_id"])
}

func TestAsyncSink_DeliversAndFlushesOnClose(t *testing.T) {
	r := &recorder{}
	sink := NewAsyncSink(r, pool.GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 128}, zap.NewNop())

	for i := 0; i < 100; i++ {
		sink.Emit(New(KindTaskCompleted, time.Now()))
	}
	sink.Close()

	assert.Equal(t, 100, r.len())
	assert.Equal(t, int64(100), sink.Stats().Completed)
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := Func(func(Event) { <-release })
	sink := NewAsyncSink(blocking, pool.GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, zap.NewNop())

	for i := 0; i < 10; i++ {
		sink.Emit(New(KindTaskOffered, time.Now()))
	}
	assert.Positive(t, sink.Stats().Rejected)

	close(release)
	sink.Close()
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultRedisChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(client, "", zap.NewNop())
	assert.Equal(t, DefaultRedisChannel, sink.Channel())

	sent := New(KindCircuitClosed, time.Now())
	sent.Circuit = "memory"
	sink.Emit(sent)

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, KindCircuitClosed, got.Kind)
		assert.Equal(t, "memory", got.Circuit)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestRedisSink_PublishFailureIsSwallowed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	sink := NewRedisSink(client, "c", zap.New(core))
	assert.NotPanics(t, func() { sink.Emit(New(KindTaskFailed, time.Now())) })
	assert.Equal(t, 1, logs.FilterMessage("failed to publish event").Len())
}

package agent

import (
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRecord(t *testing.T) Record {
	t.Helper()
	r, err := NewRecord(Spec{
		ID:            "worker-1",
		TenantID:      "tenant-a",
		AgentType:     "etl",
		Capabilities:  []Capability{{Name: "data_processing", Proficiency: 4}, {Name: "ocr", Proficiency: 2}},
		HealthTimeout: 30 * time.Second,
		Tags:          []string{"gpu", "eu", "gpu"},
	}, t0)
	require.NoError(t, err)
	return r
}

func assertInvariant(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvariantViolation), "got %v", err)
}

// ---------------------------------------------------------------------------
// NewRecord
// ---------------------------------------------------------------------------

func TestNewRecord_Defaults(t *testing.T) {
	r := newTestRecord(t)

	assert.Equal(t, StatusAvailable, r.Status())
	assert.Equal(t, 1.0, r.SuccessRate())
	assert.Equal(t, t0, r.LastHeartbeat())
	assert.Equal(t, []string{"eu", "gpu"}, r.Tags())
	assert.True(t, r.HasTag("gpu"))
	_, active := r.ActiveTaskID()
	assert.False(t, active)
	assert.Empty(t, r.PendingQueue())
}

func TestNewRecord_DefaultHealthTimeout(t *testing.T) {
	r, err := NewRecord(Spec{
		ID: "abc", TenantID: "t", Capabilities: []Capability{{Name: "x", Proficiency: 1}},
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, DefaultHealthTimeout, r.HealthTimeout())
}

func TestNewRecord_Validation(t *testing.T) {
	caps := []Capability{{Name: "x", Proficiency: 3}}
	tests := []struct {
		name string
		spec Spec
	}{
		{"short id", Spec{ID: "ab", TenantID: "t", Capabilities: caps}},
		{"long id", Spec{ID: string(make([]byte, 257)), TenantID: "t", Capabilities: caps}},
		{"no tenant", Spec{ID: "abc", Capabilities: caps}},
		{"no capabilities", Spec{ID: "abc", TenantID: "t"}},
		{"duplicate capability", Spec{ID: "abc", TenantID: "t", Capabilities: []Capability{{"x", 1}, {"x", 2}}}},
		{"proficiency zero", Spec{ID: "abc", TenantID: "t", Capabilities: []Capability{{"x", 0}}}},
		{"proficiency six", Spec{ID: "abc", TenantID: "t", Capabilities: []Capability{{"x", 6}}}},
		{"negative timeout", Spec{ID: "abc", TenantID: "t", Capabilities: caps, HealthTimeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecord(tt.spec, t0)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrValidation))
		})
	}
}

// ---------------------------------------------------------------------------
// Task lifecycle
// ---------------------------------------------------------------------------

func TestRecord_AssignCompleteFail(t *testing.T) {
	r := newTestRecord(t)

	busy, err := r.AssignTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, r.Status(), "receiver must not change")
	assert.Equal(t, StatusBusy, busy.Status())
	id, ok := busy.ActiveTaskID()
	assert.True(t, ok)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, int64(1), busy.TasksAssigned())

	done, err := busy.CompleteTask()
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, done.Status())
	assert.Equal(t, int64(1), done.TasksCompleted())

	busy2, err := done.AssignTask("task-2")
	require.NoError(t, err)
	failed, err := busy2.FailTask("timeout talking to s3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed.TasksFailed())
	assert.Equal(t, 0.5, failed.SuccessRate())
	assert.Equal(t, "timeout talking to s3", failed.Metadata(MetaLastError))
	assert.Greater(t, failed.Version(), r.Version())
}

func TestRecord_IllegalTransitions(t *testing.T) {
	r := newTestRecord(t)
	busy, err := r.AssignTask("task-1")
	require.NoError(t, err)
	paused, err := r.Pause()
	require.NoError(t, err)
	unhealthy, err := r.MarkUnhealthy("probe failed")
	require.NoError(t, err)
	terminated, err := r.Terminate(t0)
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func() (Record, error)
	}{
		{"complete while available", func() (Record, error) { return r.CompleteTask() }},
		{"fail while available", func() (Record, error) { return r.FailTask("x") }},
		{"assign while busy", func() (Record, error) { return busy.AssignTask("task-2") }},
		{"pause while busy", func() (Record, error) { return busy.Pause() }},
		{"resume while available", func() (Record, error) { return r.Resume() }},
		{"assign while paused", func() (Record, error) { return paused.AssignTask("t") }},
		{"mark healthy while available", func() (Record, error) { return r.MarkHealthy(t0) }},
		{"mark unhealthy twice", func() (Record, error) { return unhealthy.MarkUnhealthy("again") }},
		{"resume while unhealthy", func() (Record, error) { return unhealthy.Resume() }},
		{"terminate twice", func() (Record, error) { return terminated.Terminate(t0) }},
		{"mark unhealthy when terminated", func() (Record, error) { return terminated.MarkUnhealthy("x") }},
		{"heartbeat when terminated", func() (Record, error) { return terminated.RecordHeartbeat(t0, nil) }},
		{"enqueue while paused", func() (Record, error) { return paused.EnqueueTask("t") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			assertInvariant(t, err)
		})
	}
}

func TestRecord_TaskIDRequired(t *testing.T) {
	r := newTestRecord(t)
	_, err := r.AssignTask(" ")
	assert.True(t, types.IsCode(err, types.ErrValidation))
	_, err = r.EnqueueTask("")
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

// Scenario E: terminate succeeds without an active task and fails while BUSY.
func TestRecord_Terminate(t *testing.T) {
	r := newTestRecord(t)

	term, err := r.Terminate(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, term.Status())
	at, ok := term.TerminatedAt()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), at)

	busy, err := r.AssignTask("task-1")
	require.NoError(t, err)
	_, err = busy.Terminate(t0)
	assertInvariant(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestRecord_TerminateDropsPending(t *testing.T) {
	r := newTestRecord(t)
	r, err := r.EnqueueTask("queued-1")
	require.NoError(t, err)
	term, err := r.Terminate(t0)
	require.NoError(t, err)
	assert.Empty(t, term.PendingQueue())
}

// ---------------------------------------------------------------------------
// Pause / health
// ---------------------------------------------------------------------------

func TestRecord_PauseResume(t *testing.T) {
	r := newTestRecord(t)
	paused, err := r.Pause()
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status())
	assert.False(t, paused.Status().Selectable())

	resumed, err := paused.Resume()
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, resumed.Status())
}

func TestRecord_PauseWithPendingFails(t *testing.T) {
	r := newTestRecord(t)
	r, err := r.EnqueueTask("queued")
	require.NoError(t, err)
	_, err = r.Pause()
	assertInvariant(t, err)
}

func TestRecord_MarkUnhealthyFromBusy(t *testing.T) {
	r := newTestRecord(t)
	busy, err := r.AssignTask("task-1")
	require.NoError(t, err)
	busy, err = busy.EnqueueTask("task-2")
	require.NoError(t, err)

	sick, err := busy.MarkUnhealthy(string(types.ErrHealthCheckExpired))
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, sick.Status())
	_, active := sick.ActiveTaskID()
	assert.False(t, active)
	assert.Empty(t, sick.PendingQueue())
	assert.Equal(t, int64(1), sick.TasksFailed())
	assert.Equal(t, "HEALTH_CHECK_EXPIRED", sick.Metadata(MetaUnhealthyReason))

	healed, err := sick.MarkHealthy(t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, healed.Status())
	assert.Equal(t, t0.Add(time.Hour), healed.LastHeartbeat())
	assert.Empty(t, healed.Metadata(MetaUnhealthyReason))
}

func TestRecord_IsHealthy(t *testing.T) {
	r := newTestRecord(t)
	assert.True(t, r.IsHealthy(t0.Add(29*time.Second)))
	assert.False(t, r.IsHealthy(t0.Add(30*time.Second)))
	assert.Equal(t, 10*time.Second, r.HeartbeatAge(t0.Add(10*time.Second)))
}

func TestRecord_RecordHeartbeat(t *testing.T) {
	r := newTestRecord(t)
	metrics := &HealthMetrics{SuccessRate: 0.8, AvgResponseMs: 1000, ErrorRate: 0.1}

	beat, err := r.RecordHeartbeat(t0.Add(time.Minute), metrics)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), beat.LastHeartbeat())
	m, ok := beat.Metrics()
	require.True(t, ok)
	assert.Equal(t, 0.8, m.SuccessRate)
	assert.Equal(t, 0.8, beat.Performance())
	assert.InDelta(t, 0.5, beat.Responsiveness(), 1e-9)
	assert.InDelta(t, 0.1, beat.ErrorRate(), 1e-9)

	metrics.SuccessRate = 0.1
	m, _ = beat.Metrics()
	assert.Equal(t, 0.8, m.SuccessRate, "metrics are copied")

	sick, err := beat.MarkUnhealthy("probe")
	require.NoError(t, err)
	back, err := sick.RecordHeartbeat(t0.Add(2*time.Minute), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, back.Status())
}

func TestRecord_PerformanceWithoutMetrics(t *testing.T) {
	r := newTestRecord(t)
	assert.Equal(t, 1.0, r.Performance())
	assert.Equal(t, 1.0, r.Responsiveness())
	assert.Equal(t, 0.0, r.ErrorRate())
}

// ---------------------------------------------------------------------------
// Pending queue
// ---------------------------------------------------------------------------

func TestRecord_PendingQueueFIFO(t *testing.T) {
	r := newTestRecord(t)
	var err error
	for _, id := range []string{"a", "b", "c"} {
		r, err = r.EnqueueTask(id)
		require.NoError(t, err)
	}
	_, err = r.EnqueueTask("b")
	assertInvariant(t, err)

	r, err = r.StartNext()
	require.NoError(t, err)
	active, _ := r.ActiveTaskID()
	assert.Equal(t, "a", active)
	assert.Equal(t, []string{"b", "c"}, r.PendingQueue())

	_, err = r.EnqueueTask("a")
	assertInvariant(t, err)

	r, err = r.WithdrawTask("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, r.PendingQueue())
	assert.Equal(t, int64(1), r.TasksAssigned())

	_, err = r.WithdrawTask("zzz")
	assertInvariant(t, err)

	_, err = r.StartNext()
	assertInvariant(t, err)
}

func TestRecord_StartNextOnEmptyQueue(t *testing.T) {
	r := newTestRecord(t)
	_, err := r.StartNext()
	assertInvariant(t, err)
}

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

func TestRecord_Capabilities(t *testing.T) {
	r := newTestRecord(t)

	added, err := r.AddCapability(Capability{Name: "translation", Proficiency: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"data_processing", "ocr", "translation"}, added.CapabilityNames())
	assert.Len(t, r.Capabilities(), 2)

	_, err = added.AddCapability(Capability{Name: "ocr", Proficiency: 5})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	up, err := added.UpgradeCapability("ocr", 5)
	require.NoError(t, err)
	c, _ := up.Capability("ocr")
	assert.Equal(t, 5, c.Proficiency)

	_, err = up.UpgradeCapability("ocr", 4)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	_, err = up.UpgradeCapability("missing", 4)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestRecord_MatchCapabilities(t *testing.T) {
	r := newTestRecord(t)

	m := r.MatchCapabilities([]string{"data_processing"})
	assert.True(t, m.Covers())
	assert.InDelta(t, 0.8, m.Score(), 1e-9)

	m = r.MatchCapabilities([]string{"data_processing", "ocr"})
	assert.InDelta(t, 0.6, m.Score(), 1e-9)

	m = r.MatchCapabilities([]string{"data_processing", "video"})
	assert.False(t, m.Covers())
	assert.InDelta(t, 0.4, m.Score(), 1e-9)

	assert.Equal(t, 1.0, r.MatchCapabilities(nil).Score())
	assert.True(t, r.HasCapabilities(nil))
	assert.False(t, r.HasCapabilities([]string{"video"}))
}

// ---------------------------------------------------------------------------
// State snapshot
// ---------------------------------------------------------------------------

func TestRecord_StateRoundTrip(t *testing.T) {
	r := newTestRecord(t)
	r, err := r.AssignTask("task-1")
	require.NoError(t, err)
	r, err = r.EnqueueTask("task-2")
	require.NoError(t, err)

	back, err := FromState(r.State())
	require.NoError(t, err)
	assert.Equal(t, r.State(), back.State())
}

func TestFromState_RejectsBrokenInvariants(t *testing.T) {
	r := newTestRecord(t)

	s := r.State()
	s.ActiveTaskID = "ghost"
	_, err := FromState(s)
	assertInvariant(t, err)

	s = r.State()
	s.Status = StatusPaused
	s.PendingQueue = []string{"x"}
	_, err = FromState(s)
	assertInvariant(t, err)

	s = r.State()
	s.Status = "SLEEPING"
	_, err = FromState(s)
	assertInvariant(t, err)

	s = r.State()
	s.HealthTimeout = 0
	_, err = FromState(s)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusAvailable, StatusBusy))
	assert.True(t, CanTransition(StatusUnhealthy, StatusAvailable))
	assert.False(t, CanTransition(StatusTerminated, StatusAvailable))
	assert.False(t, CanTransition(StatusBusy, StatusPaused))
}

package agent

import (
	"strings"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🎯 生命周期迁移
// =============================================================================

// requireFrom fails with an InvariantViolation unless r is in one of from.
func (r Record) requireFrom(op Operation, from ...Status) error {
	for _, s := range from {
		if r.status == s {
			return nil
		}
	}
	return illegalTransition(r, op)
}

func requireTaskID(r Record, op Operation, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return types.NewValidationError("agent %s: %s requires a task id", r.id, op)
	}
	return nil
}

// AssignTask starts taskID: AVAILABLE -> BUSY. A task already in the pending
// queue is removed from it.
func (r Record) AssignTask(taskID string) (Record, error) {
	if err := r.requireFrom(OpAssignTask, StatusAvailable); err != nil {
		return r, err
	}
	if err := requireTaskID(r, OpAssignTask, taskID); err != nil {
		return r, err
	}
	next := r.clone()
	next.pending = removeTask(next.pending, taskID)
	next.status = StatusBusy
	next.activeTaskID = taskID
	next.assigned++
	return next, nil
}

// CompleteTask finishes the active task: BUSY -> AVAILABLE.
func (r Record) CompleteTask() (Record, error) {
	if err := r.requireFrom(OpCompleteTask, StatusBusy); err != nil {
		return r, err
	}
	next := r.clone()
	next.status = StatusAvailable
	next.activeTaskID = ""
	next.completed++
	return next, nil
}

// FailTask records a failed active task: BUSY -> AVAILABLE.
func (r Record) FailTask(reason string) (Record, error) {
	if err := r.requireFrom(OpFailTask, StatusBusy); err != nil {
		return r, err
	}
	next := r.clone()
	next.status = StatusAvailable
	next.activeTaskID = ""
	next.failed++
	if reason != "" {
		next.setMeta(MetaLastError, reason)
	}
	return next, nil
}

// Pause moves AVAILABLE -> PAUSED. The pending queue must be empty since a
// paused agent cannot hold accepted work.
func (r Record) Pause() (Record, error) {
	if err := r.requireFrom(OpPause, StatusAvailable); err != nil {
		return r, err
	}
	if len(r.pending) > 0 {
		return r, preconditionFailed(r, OpPause, "%d pending tasks", len(r.pending))
	}
	next := r.clone()
	next.status = StatusPaused
	return next, nil
}

// Resume moves PAUSED -> AVAILABLE.
func (r Record) Resume() (Record, error) {
	if err := r.requireFrom(OpResume, StatusPaused); err != nil {
		return r, err
	}
	next := r.clone()
	next.status = StatusAvailable
	return next, nil
}

// MarkUnhealthy moves AVAILABLE/BUSY/PAUSED -> UNHEALTHY. Pending tasks are
// dropped and an active task counts as failed; callers that need to re-route
// them read PendingQueue and ActiveTaskID from the receiver.
func (r Record) MarkUnhealthy(reason string) (Record, error) {
	if err := r.requireFrom(OpMarkUnhealthy, StatusAvailable, StatusBusy, StatusPaused); err != nil {
		return r, err
	}
	next := r.clone()
	if next.activeTaskID != "" {
		next.failed++
		next.setMeta(MetaLastError, reason)
		next.activeTaskID = ""
	}
	next.pending = nil
	next.status = StatusUnhealthy
	next.setMeta(MetaUnhealthyReason, reason)
	return next, nil
}

// MarkHealthy moves UNHEALTHY -> AVAILABLE and refreshes the heartbeat.
func (r Record) MarkHealthy(now time.Time) (Record, error) {
	if err := r.requireFrom(OpMarkHealthy, StatusUnhealthy); err != nil {
		return r, err
	}
	next := r.clone()
	next.status = StatusAvailable
	next.lastHeartbeat = now
	delete(next.metadata, MetaUnhealthyReason)
	return next, nil
}

// Terminate moves any non-terminal status to TERMINATED. It fails while a
// task is active; pending tasks are dropped.
func (r Record) Terminate(now time.Time) (Record, error) {
	if r.status == StatusTerminated {
		return r, illegalTransition(r, OpTerminate)
	}
	if r.activeTaskID != "" {
		return r, preconditionFailed(r, OpTerminate, "task %s is active", r.activeTaskID)
	}
	next := r.clone()
	next.status = StatusTerminated
	next.pending = nil
	next.terminatedAt = &now
	return next, nil
}

// =============================================================================
// 📥 待处理队列
// =============================================================================

// EnqueueTask appends taskID to the pending queue. Allowed in AVAILABLE and
// BUSY; ids must be unique across the active task and the queue.
func (r Record) EnqueueTask(taskID string) (Record, error) {
	if err := r.requireFrom(OpEnqueueTask, StatusAvailable, StatusBusy); err != nil {
		return r, err
	}
	if err := requireTaskID(r, OpEnqueueTask, taskID); err != nil {
		return r, err
	}
	if taskID == r.activeTaskID || containsTask(r.pending, taskID) {
		return r, preconditionFailed(r, OpEnqueueTask, "task %s already accepted", taskID)
	}
	next := r.clone()
	next.pending = append(next.pending, taskID)
	return next, nil
}

// StartNext assigns the head of the pending queue: AVAILABLE -> BUSY.
func (r Record) StartNext() (Record, error) {
	if err := r.requireFrom(OpStartNext, StatusAvailable); err != nil {
		return r, err
	}
	if len(r.pending) == 0 {
		return r, preconditionFailed(r, OpStartNext, "pending queue is empty")
	}
	return r.AssignTask(r.pending[0])
}

// WithdrawTask removes a pending task without touching counters.
func (r Record) WithdrawTask(taskID string) (Record, error) {
	if !containsTask(r.pending, taskID) {
		return r, preconditionFailed(r, OpWithdrawTask, "task %s is not pending", taskID)
	}
	next := r.clone()
	next.pending = removeTask(next.pending, taskID)
	return next, nil
}

// =============================================================================
// 💓 心跳与能力
// =============================================================================

// RecordHeartbeat refreshes the heartbeat and optionally the reported
// metrics. An UNHEALTHY record returns to AVAILABLE.
func (r Record) RecordHeartbeat(now time.Time, metrics *HealthMetrics) (Record, error) {
	if r.status == StatusTerminated {
		return r, illegalTransition(r, OpRecordHeartbeat)
	}
	var (
		next Record
		err  error
	)
	if r.status == StatusUnhealthy {
		if next, err = r.MarkHealthy(now); err != nil {
			return r, err
		}
	} else {
		next = r.clone()
		next.lastHeartbeat = now
	}
	if metrics != nil {
		m := *metrics
		next.metrics = &m
	}
	return next, nil
}

// AddCapability adds a new capability. Names must stay unique.
func (r Record) AddCapability(c Capability) (Record, error) {
	if r.status == StatusTerminated {
		return r, illegalTransition(r, OpAddCapability)
	}
	if err := c.validate(); err != nil {
		return r, types.NewValidationError("agent %s: %v", r.id, err)
	}
	if _, ok := r.Capability(c.Name); ok {
		return r, types.NewValidationError("agent %s: capability %q already exists", r.id, c.Name)
	}
	next := r.clone()
	next.capabilities = append(next.capabilities, c)
	return next, nil
}

// UpgradeCapability raises the proficiency of an existing capability.
func (r Record) UpgradeCapability(name string, proficiency int) (Record, error) {
	if r.status == StatusTerminated {
		return r, illegalTransition(r, OpUpgradeCapability)
	}
	current, ok := r.Capability(name)
	if !ok {
		return r, types.NewValidationError("agent %s: capability %q not found", r.id, name)
	}
	upgraded := Capability{Name: name, Proficiency: proficiency}
	if err := upgraded.validate(); err != nil {
		return r, types.NewValidationError("agent %s: %v", r.id, err)
	}
	if proficiency <= current.Proficiency {
		return r, types.NewValidationError("agent %s: capability %q level %d is not above %d",
			r.id, name, proficiency, current.Proficiency)
	}
	next := r.clone()
	for i := range next.capabilities {
		if next.capabilities[i].Name == name {
			next.capabilities[i] = upgraded
		}
	}
	return next, nil
}

func containsTask(queue []string, taskID string) bool {
	for _, id := range queue {
		if id == taskID {
			return true
		}
	}
	return false
}

func removeTask(queue []string, taskID string) []string {
	out := queue[:0]
	for _, id := range queue {
		if id != taskID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

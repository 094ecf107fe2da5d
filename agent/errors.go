package agent

import (
	"fmt"

	"github.com/BaSui01/agentmesh/types"
)

// Operation 状态机操作名，用于错误信息与事件
type Operation string

const (
	OpAssignTask        Operation = "assign_task"
	OpCompleteTask      Operation = "complete_task"
	OpFailTask          Operation = "fail_task"
	OpPause             Operation = "pause"
	OpResume            Operation = "resume"
	OpMarkUnhealthy     Operation = "mark_unhealthy"
	OpMarkHealthy       Operation = "mark_healthy"
	OpTerminate         Operation = "terminate"
	OpEnqueueTask       Operation = "enqueue_task"
	OpStartNext         Operation = "start_next"
	OpWithdrawTask      Operation = "withdraw_task"
	OpRecordHeartbeat   Operation = "record_heartbeat"
	OpAddCapability     Operation = "add_capability"
	OpUpgradeCapability Operation = "upgrade_capability"
)

// ErrInvariantViolation matches any illegal transition via errors.Is.
var ErrInvariantViolation = types.NewError(types.ErrInvariantViolation, "agent invariant violation")

// ErrValidation matches any malformed agent input via errors.Is.
var ErrValidation = types.NewError(types.ErrValidation, "invalid agent input")

func illegalTransition(r Record, op Operation) error {
	return types.NewInvariantViolation("agent %s: illegal transition %s from %s", r.id, op, r.status)
}

func preconditionFailed(r Record, op Operation, format string, args ...any) error {
	return types.NewInvariantViolation("agent %s: %s precondition failed: %s", r.id, op, fmt.Sprintf(format, args...))
}

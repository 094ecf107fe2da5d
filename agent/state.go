package agent

// Status 定义 Agent 生命周期状态
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"  // Idle, eligible for selection
	StatusBusy       Status = "BUSY"       // Executing exactly one task
	StatusPaused     Status = "PAUSED"     // Operator pause
	StatusUnhealthy  Status = "UNHEALTHY"  // Heartbeat expired or explicitly degraded
	StatusTerminated Status = "TERMINATED" // Terminal
)

// AllStatuses lists every reachable status.
var AllStatuses = []Status{StatusAvailable, StatusBusy, StatusPaused, StatusUnhealthy, StatusTerminated}

// validTransitions 定义合法的状态转换
var validTransitions = map[Status][]Status{
	StatusAvailable:  {StatusBusy, StatusPaused, StatusUnhealthy, StatusTerminated},
	StatusBusy:       {StatusAvailable, StatusUnhealthy},
	StatusPaused:     {StatusAvailable, StatusUnhealthy, StatusTerminated},
	StatusUnhealthy:  {StatusAvailable, StatusTerminated},
	StatusTerminated: {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Selectable reports whether routing may pick an agent in this status.
func (s Status) Selectable() bool {
	return s == StatusAvailable
}

// AcceptsQueue reports whether a pending queue may be held in this status.
func (s Status) AcceptsQueue() bool {
	return s == StatusAvailable || s == StatusBusy
}

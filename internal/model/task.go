package model

import "time"

// Execution state constants.
const (
	StateSubmitted       = "submitted"
	StateMapped          = "mapped"
	StateAwaitingResults = "awaiting_results"
	StateReducing        = "reducing"
	StateSucceeded       = "succeeded"
	StateFailed          = "failed"
	StateCancelled       = "cancelled"
)

// validTransitions maps each state to the set of states it may transition to.
// Terminal states have no entry and therefore no outgoing transitions.
var validTransitions = map[string]map[string]bool{
	StateSubmitted: {
		StateMapped:    true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StateMapped: {
		StateAwaitingResults: true,
		StateFailed:          true,
		StateCancelled:       true,
	},
	StateAwaitingResults: {
		StateReducing:  true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StateReducing: {
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether state is one of the sticky end states.
func IsTerminal(state string) bool {
	switch state {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// TaskRecord is the persisted history entry of one task execution.
type TaskRecord struct {
	SessionID  string     `json:"session_id"`
	TaskName   string     `json:"task_name"`
	State      string     `json:"state"`
	OriginNode string     `json:"origin_node"`
	Principal  string     `json:"principal,omitempty"`
	JobCount   int        `json:"job_count"`
	Failovers  int        `json:"failovers"`
	Result     []byte     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	TimeoutMS  *int64     `json:"timeout_ms,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

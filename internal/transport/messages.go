package transport

import "github.com/seantiz/taskgrid/internal/task"

// JobRequest dispatches a job to a node.
type JobRequest struct {
	SessionID   string
	JobID       string
	TaskName    string
	Job         task.Job
	SessionFull bool
	// Attributes is the session snapshot taken when the job was dispatched.
	Attributes map[string]any
	Siblings   []string
}

// JobResponse carries the outcome of a job back to the task's node.
type JobResponse struct {
	SessionID string
	JobID     string
	Value     any
	Err       error
}

// CancelJob asks a node to stop a job. Delivery is best effort.
type CancelJob struct {
	SessionID string
	JobID     string
}

// SessionAttributes is an attribute update propagated from the task's node
// to a job's node, ordered on the task topic.
type SessionAttributes struct {
	SessionID  string
	Attributes map[string]any
}

// JobAttributes is an attribute update set by a running job and sent to the
// task's node, which merges and re-propagates it.
type JobAttributes struct {
	SessionID  string
	JobID      string
	Attributes map[string]any
}

// SessionClosed tells a node that a task session ended.
type SessionClosed struct {
	SessionID string
}

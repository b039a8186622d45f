package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every terminal failure delivered through a Future is a
// *TaskError whose Kind is one of these, so callers can test with errors.Is.
var (
	ErrDeployment        = errors.New("task deployment unresolved")
	ErrAuth              = errors.New("task execution not authorized")
	ErrExecutionRejected = errors.New("task execution rejected")
	ErrSplit             = errors.New("task split failed")
	ErrJob               = errors.New("job failed")
	ErrNodeLeft          = errors.New("job node left the grid")
	ErrTimeout           = errors.New("task timed out")
	ErrReduce            = errors.New("task reduce failed")
	ErrShutdown          = errors.New("engine is shutting down")
	ErrCancelled         = errors.New("task cancelled")
)

// ErrSessionNotShared is returned when attributes are set on a task that
// does not declare full session support.
var ErrSessionNotShared = errors.New("task session is not shared")

// TaskError describes why an execution failed or was cancelled.
type TaskError struct {
	Kind      error
	SessionID string
	TaskName  string
	JobID     string
	Node      string
	Cause     error
}

func (e *TaskError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.TaskName != "" {
		fmt.Fprintf(&b, ": task %q", e.TaskName)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " session %s", e.SessionID)
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " job %s", e.JobID)
	}
	if e.Node != "" {
		fmt.Fprintf(&b, " on node %s", e.Node)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

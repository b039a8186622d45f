package engine

import "time"

// TaskEvent is a lifecycle notification for one execution.
type TaskEvent struct {
	SessionID  string
	TaskName   string
	OriginNode string
	Principal  string
	State      string
	JobCount   int
	Failovers  int
	Internal   bool
	Timeout    time.Duration
	Value      any
	Err        error
	CreatedAt  time.Time
	FinishedAt time.Time
}

// EventSink receives lifecycle notifications. Implementations must not
// block for long; they are called on the engine's event path.
type EventSink interface {
	TaskStarted(ev TaskEvent)
	TaskFinished(ev TaskEvent)
}

type nopSink struct{}

func (nopSink) TaskStarted(TaskEvent)  {}
func (nopSink) TaskFinished(TaskEvent) {}

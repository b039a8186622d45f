package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/seantiz/taskgrid/internal/engine"
	"github.com/seantiz/taskgrid/internal/model"
)

const sinkWriteTimeout = 5 * time.Second

// Compile-time interface satisfaction check.
var _ engine.EventSink = (*TaskSink)(nil)

// TaskSink records engine lifecycle events as task history.
type TaskSink struct {
	store  Store
	logger *slog.Logger
}

// NewTaskSink returns a sink writing to s. Write failures are logged.
func NewTaskSink(s Store, logger *slog.Logger) *TaskSink {
	return &TaskSink{store: s, logger: logger}
}

// TaskStarted inserts the task record.
func (k *TaskSink) TaskStarted(ev engine.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if err := k.store.CreateTask(ctx, recordOf(ev)); err != nil {
		k.logger.Error("failed to record task", "session_id", ev.SessionID, "error", err)
	}
}

// TaskFinished stores the outcome of the task.
func (k *TaskSink) TaskFinished(ev engine.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	r := recordOf(ev)
	r.State = ev.State
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	if ev.Value != nil {
		b, err := json.Marshal(ev.Value)
		if err != nil {
			k.logger.Warn("task result is not JSON encodable", "session_id", ev.SessionID, "error", err)
		} else {
			r.Result = b
		}
	}
	if !ev.FinishedAt.IsZero() {
		finished := ev.FinishedAt.UTC()
		dur := int(ev.FinishedAt.Sub(ev.CreatedAt).Milliseconds())
		r.FinishedAt = &finished
		r.DurationMS = &dur
	}

	if err := k.store.FinishTask(ctx, r); err != nil {
		k.logger.Error("failed to record task outcome", "session_id", ev.SessionID, "error", err)
	}
}

// recordOf converts an engine event into a task record.
func recordOf(ev engine.TaskEvent) *model.TaskRecord {
	r := &model.TaskRecord{
		SessionID:  ev.SessionID,
		TaskName:   ev.TaskName,
		State:      ev.State,
		OriginNode: ev.OriginNode,
		Principal:  ev.Principal,
		JobCount:   ev.JobCount,
		Failovers:  ev.Failovers,
		CreatedAt:  ev.CreatedAt.UTC(),
	}
	if ev.Timeout > 0 {
		ms := ev.Timeout.Milliseconds()
		r.TimeoutMS = &ms
	}
	return r
}

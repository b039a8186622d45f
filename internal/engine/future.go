package engine

import (
	"context"
	"time"
)

// Future is the caller's handle to a submitted task.
type Future struct {
	x *Execution
}

func newFuture(x *Execution) *Future {
	return &Future{x: x}
}

// SessionID returns the id of the execution.
func (f *Future) SessionID() string { return f.x.id }

// TaskName returns the resolved task name, or the requested name when
// resolution failed.
func (f *Future) TaskName() string { return f.x.taskName() }

// State returns the current execution state.
func (f *Future) State() string { return f.x.State() }

// CreatedAt returns the submission time.
func (f *Future) CreatedAt() time.Time { return f.x.createdAt }

// Done is closed once the execution reached a terminal state and was
// removed from the engine.
func (f *Future) Done() <-chan struct{} { return f.x.done }

// Get waits for the result. A ctx ending does not cancel the task.
func (f *Future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.x.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.x.mu.Lock()
	defer f.x.mu.Unlock()
	return f.x.value, f.x.err
}

// Cancel cancels the task. It reports whether the task was still running.
func (f *Future) Cancel() bool {
	return f.x.finish(f.x.cancelled(nil))
}

// Session returns the task session.
func (f *Future) Session() *Session { return f.x.session }

// Siblings returns a snapshot of the dispatched jobs.
func (f *Future) Siblings() []Sibling { return f.x.session.Siblings() }

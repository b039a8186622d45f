package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
)

// ErrSessionNotShared is returned by SetAttributes for tasks without full
// session support.
var ErrSessionNotShared = errors.New("task session is not shared")

// sessionState is the node-local copy of a task session's attributes.
type sessionState struct {
	id string

	// Guarded by Agent.mu.
	jobs int
	full bool

	mu       sync.Mutex
	taskName string
	origin   string
	attrs    map[string]any
	changed  chan struct{}
}

func newSessionState(id, taskName, origin string) *sessionState {
	return &sessionState{
		id:       id,
		taskName: taskName,
		origin:   origin,
		attrs:    make(map[string]any),
		changed:  make(chan struct{}),
	}
}

func (s *sessionState) setTask(taskName, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskName = taskName
	s.origin = origin
}

// merge applies attrs. With overwrite false only absent keys are set.
func (s *sessionState) merge(attrs map[string]any, overwrite bool) {
	if len(attrs) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range attrs {
		if _, ok := s.attrs[k]; ok && !overwrite {
			continue
		}
		s.attrs[k] = v
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// jobSession is the task.JobSession handed to a running job.
type jobSession struct {
	state       *sessionState
	agent       *Agent
	jobID       string
	siblings    []string
	sessionFull bool
}

// Compile-time interface satisfaction check.
var _ task.JobSession = (*jobSession)(nil)

func (j *jobSession) SessionID() string { return j.state.id }
func (j *jobSession) JobID() string     { return j.jobID }

func (j *jobSession) TaskName() string {
	j.state.mu.Lock()
	defer j.state.mu.Unlock()
	return j.state.taskName
}

func (j *jobSession) Siblings() []string {
	return append([]string(nil), j.siblings...)
}

func (j *jobSession) Attribute(key string) (any, bool) {
	j.state.mu.Lock()
	defer j.state.mu.Unlock()
	v, ok := j.state.attrs[key]
	return v, ok
}

func (j *jobSession) Attributes() map[string]any {
	j.state.mu.Lock()
	defer j.state.mu.Unlock()
	out := make(map[string]any, len(j.state.attrs))
	for k, v := range j.state.attrs {
		out[k] = v
	}
	return out
}

func (j *jobSession) WaitAttribute(ctx context.Context, key string) (any, error) {
	for {
		j.state.mu.Lock()
		v, ok := j.state.attrs[key]
		changed := j.state.changed
		j.state.mu.Unlock()
		if ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (j *jobSession) SetAttributes(ctx context.Context, attrs map[string]any) error {
	if !j.sessionFull {
		return ErrSessionNotShared
	}

	// A reserved id that is never sent would stall the task's topic.
	if err := ctx.Err(); err != nil {
		return err
	}

	j.state.mu.Lock()
	origin := j.state.origin
	j.state.mu.Unlock()

	topic := transport.TaskTopic(j.state.id)
	msg := transport.Message{
		Topic: topic,
		From:  j.agent.node,
		To:    origin,
		ID:    j.agent.tr.NextMessageID(topic, origin),
		Payload: transport.JobAttributes{
			SessionID:  j.state.id,
			JobID:      j.jobID,
			Attributes: attrs,
		},
	}
	if err := j.agent.tr.Send(context.WithoutCancel(ctx), msg); err != nil {
		return fmt.Errorf("set attributes: %w", err)
	}
	return nil
}

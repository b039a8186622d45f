package engine

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/seantiz/taskgrid/internal/transport"
)

// Sibling tracks one dispatched job of a task session.
type Sibling struct {
	JobID     string
	JobTopic  string
	TaskTopic string
	Node      string
	Done      bool
}

// Session is the shared context of one task execution: its attributes and
// the siblings dispatched so far. Split and Reduce can reach it through
// SessionFromContext.
type Session struct {
	id        string
	taskName  string
	origin    string
	full      bool
	createdAt time.Time
	deadline  time.Time
	exec      *Execution

	mu        sync.Mutex
	attrs     map[string]any
	siblings  []*Sibling
	byJob     map[string]*Sibling
	listeners map[int]func(map[string]any)
	nextLis   int
	hosts     []string
	closed    bool
}

func newSession(x *Execution, attrs map[string]any) *Session {
	s := &Session{
		id:        x.id,
		origin:    x.eng.nodeID,
		createdAt: x.createdAt,
		deadline:  x.deadline,
		exec:      x,
		attrs:     make(map[string]any, len(attrs)),
		byJob:     make(map[string]*Sibling),
	}
	maps.Copy(s.attrs, attrs)
	return s
}

// ID returns the session id, which is also the execution id.
func (s *Session) ID() string { return s.id }

// TaskName returns the name of the task, or "" before it is resolved.
func (s *Session) TaskName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskName
}

// Origin returns the node that owns the execution.
func (s *Session) Origin() string { return s.origin }

// Deadline returns the task deadline and whether one is set.
func (s *Session) Deadline() (time.Time, bool) {
	return s.deadline, !s.deadline.IsZero()
}

// Attribute returns a single session attribute.
func (s *Session) Attribute(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Attributes returns a copy of all session attributes.
func (s *Session) Attributes() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.attrs)
}

// SetAttributes merges attrs into the session and propagates them to every
// job that has not finished yet.
func (s *Session) SetAttributes(ctx context.Context, attrs map[string]any) error {
	return s.exec.setAttributes(ctx, attrs)
}

// OnAttributes registers fn to be called with every merged update and
// returns a function that removes it. fn runs on the engine's event path
// and must not block.
func (s *Session) OnAttributes(fn func(map[string]any)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	if s.listeners == nil {
		s.listeners = make(map[int]func(map[string]any))
	}
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Closed reports whether the execution owning the session has finished.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Siblings returns a snapshot of the dispatched jobs.
func (s *Session) Siblings() []Sibling {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sibling, 0, len(s.siblings))
	for _, sib := range s.siblings {
		out = append(out, *sib)
	}
	return out
}

func (s *Session) setTaskName(name string, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskName = name
	s.full = full
}

// addSibling must be called with the execution lock held.
func (s *Session) addSibling(jobID, node string) *Sibling {
	s.mu.Lock()
	defer s.mu.Unlock()
	sib := &Sibling{
		JobID:     jobID,
		JobTopic:  transport.JobTopic(jobID),
		TaskTopic: transport.TaskTopic(s.id),
		Node:      node,
	}
	s.siblings = append(s.siblings, sib)
	s.byJob[jobID] = sib
	s.addHostLocked(node)
	return sib
}

func (s *Session) addHostLocked(node string) {
	for _, h := range s.hosts {
		if h == node {
			return
		}
	}
	s.hosts = append(s.hosts, node)
}

// sibling returns a copy of the sibling for jobID.
func (s *Session) sibling(jobID string) (Sibling, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sib, ok := s.byJob[jobID]
	if !ok {
		return Sibling{}, false
	}
	return *sib, true
}

func (s *Session) markDone(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sib, ok := s.byJob[jobID]; ok {
		sib.Done = true
	}
}

// moveSibling updates the node of a pending sibling in place after failover.
func (s *Session) moveSibling(jobID, node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sib, ok := s.byJob[jobID]; ok {
		sib.Node = node
		s.addHostLocked(node)
	}
}

// pending returns copies of the siblings not yet done.
func (s *Session) pending() []Sibling {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Sibling
	for _, sib := range s.siblings {
		if !sib.Done {
			out = append(out, *sib)
		}
	}
	return out
}

// snapshot returns the attributes and job ids sent with a job request.
func (s *Session) snapshot() (map[string]any, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.siblings))
	for _, sib := range s.siblings {
		ids = append(ids, sib.JobID)
	}
	return maps.Clone(s.attrs), ids
}

// close marks the session closed. For shared sessions it returns a
// session-closed note for every node that hosted one of its jobs, including
// nodes abandoned by failover. Each note takes the next ordering id on the
// task topic while the lock is held, so it follows every attribute update.
func (s *Session) close() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = nil
	if !s.full {
		return nil
	}

	tr := s.exec.eng.transport
	topic := transport.TaskTopic(s.id)
	notes := make([]transport.Message, 0, len(s.hosts))
	for _, node := range s.hosts {
		notes = append(notes, transport.Message{
			Topic:   topic,
			From:    s.origin,
			To:      node,
			ID:      tr.NextMessageID(topic, node),
			Payload: transport.SessionClosed{SessionID: s.id},
		})
	}
	return notes
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the task session carried by ctx. Split and
// Reduce receive such a context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/seantiz/taskgrid/internal/transport"
)

// maxClosedSessions bounds the closed-session ids an agent remembers.
const maxClosedSessions = 1024

// Agent executes jobs dispatched to one node.
type Agent struct {
	node   string
	tr     transport.Transport
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*sessionState
	running  map[string]context.CancelFunc // job id → cancel
	stop     func()

	// closed remembers recently closed sessions, oldest first, so late
	// updates do not bring them back.
	closed      map[string]struct{}
	closedOrder []string

	executed atomic.Int64
}

// New creates an agent for node. Call Start to listen on the transport, or
// route messages to Handle when the node endpoint is shared.
func New(node string, tr transport.Transport, logger *slog.Logger) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		node:     node,
		tr:       tr,
		logger:   logger.With("node_id", node),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionState),
		running:  make(map[string]context.CancelFunc),
		closed:   make(map[string]struct{}),
	}
}

// Node returns the node id the agent serves.
func (a *Agent) Node() string {
	return a.node
}

// Start registers the agent as the node's only message handler.
func (a *Agent) Start() error {
	stop, err := a.tr.Listen(a.node, a.Handle)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.mu.Lock()
	a.stop = stop
	a.mu.Unlock()
	return nil
}

// Stop stops listening, cancels running jobs and waits for them to return.
// Jobs stopped this way do not report back.
func (a *Agent) Stop() {
	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	a.cancel()
	a.wg.Wait()
}

// Sessions returns the number of task sessions the node currently tracks.
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Running returns the number of jobs currently executing.
func (a *Agent) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}

// Executed returns the number of jobs that finished on this node.
func (a *Agent) Executed() int64 {
	return a.executed.Load()
}

// Handle processes one message addressed to the agent's node. Messages meant
// for the task side are ignored.
func (a *Agent) Handle(msg transport.Message) {
	switch p := msg.Payload.(type) {
	case transport.JobRequest:
		a.startJob(msg.From, p)
	case transport.CancelJob:
		a.cancelJob(p)
	case transport.SessionAttributes:
		s, ok := a.session(p.SessionID, "", msg.From)
		if !ok {
			a.logger.Debug("attributes for closed session dropped", "session_id", p.SessionID)
			return
		}
		s.merge(p.Attributes, true)
	case transport.SessionClosed:
		a.closeSession(p.SessionID)
	}
}

// closeSession drops the session state and remembers the id.
func (a *Agent) closeSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sessions, sessionID)
	if _, ok := a.closed[sessionID]; ok {
		return
	}
	a.closed[sessionID] = struct{}{}
	a.closedOrder = append(a.closedOrder, sessionID)
	if len(a.closedOrder) > maxClosedSessions {
		delete(a.closed, a.closedOrder[0])
		a.closedOrder = a.closedOrder[1:]
	}
}

// ClosedSessions returns how many closed session ids the agent remembers.
func (a *Agent) ClosedSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.closed)
}

// session returns the state of sessionID, creating it on first use. It
// reports false for a session that was already closed.
func (a *Agent) session(sessionID, taskName, origin string) (*sessionState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, gone := a.closed[sessionID]; gone {
		return nil, false
	}
	s, ok := a.sessions[sessionID]
	if !ok {
		s = newSessionState(sessionID, taskName, origin)
		a.sessions[sessionID] = s
	}
	if taskName != "" {
		s.setTask(taskName, origin)
	}
	return s, true
}

func (a *Agent) startJob(origin string, req transport.JobRequest) {
	s, ok := a.session(req.SessionID, req.TaskName, origin)
	if !ok {
		a.logger.Debug("job request for closed session dropped", "session_id", req.SessionID, "job_id", req.JobID)
		return
	}
	// The snapshot may be older than updates already applied.
	s.merge(req.Attributes, false)

	a.mu.Lock()
	if _, dup := a.running[req.JobID]; dup {
		a.mu.Unlock()
		a.logger.Warn("duplicate job request ignored", "session_id", req.SessionID, "job_id", req.JobID)
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.running[req.JobID] = cancel
	s.jobs++
	s.full = s.full || req.SessionFull
	a.mu.Unlock()

	js := &jobSession{
		state:       s,
		agent:       a,
		jobID:       req.JobID,
		siblings:    append([]string(nil), req.Siblings...),
		sessionFull: req.SessionFull,
	}

	a.wg.Go(func() {
		defer cancel()
		a.logger.Debug("job started", "session_id", req.SessionID, "job_id", req.JobID, "task", req.TaskName)

		value, err := execute(ctx, req, js)

		a.mu.Lock()
		delete(a.running, req.JobID)
		s.jobs--
		// Shared sessions are dropped when the task's node closes them.
		if s.jobs == 0 && !s.full && a.sessions[req.SessionID] == s {
			delete(a.sessions, req.SessionID)
		}
		a.mu.Unlock()
		a.executed.Add(1)

		if a.ctx.Err() != nil {
			return
		}

		resp := transport.Message{
			Topic: transport.JobTopic(req.JobID),
			From:  a.node,
			To:    origin,
			Payload: transport.JobResponse{
				SessionID: req.SessionID,
				JobID:     req.JobID,
				Value:     value,
				Err:       err,
			},
		}
		if sendErr := a.tr.Send(context.Background(), resp); sendErr != nil {
			a.logger.Warn("failed to send job response", "session_id", req.SessionID, "job_id", req.JobID, "error", sendErr)
		}
	})
}

// execute runs the job, converting a panic into an error.
func execute(ctx context.Context, req transport.JobRequest, js *jobSession) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", req.JobID, r)
		}
	}()
	if req.Job == nil {
		return nil, fmt.Errorf("job %s has no body", req.JobID)
	}
	return req.Job.Execute(ctx, js)
}

func (a *Agent) cancelJob(c transport.CancelJob) {
	a.mu.Lock()
	cancel, ok := a.running[c.JobID]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.logger.Debug("job cancelled", "session_id", c.SessionID, "job_id", c.JobID)
	cancel()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/model"
	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
)

// event is the closed set of inputs an Execution reacts to after dispatch.
type event interface {
	isEvent()
}

type jobResponded struct {
	jobID string
	node  string
	value any
	err   error
}

type nodeLeft struct {
	node string
}

type cancelRequested struct {
	cause error
}

type deadlineFired struct{}

func (jobResponded) isEvent()    {}
func (nodeLeft) isEvent()        {}
func (cancelRequested) isEvent() {}
func (deadlineFired) isEvent()   {}

// outcome is a terminal transition.
type outcome struct {
	state string
	value any
	err   error
	// notify sends cancel notices to jobs that have not responded.
	notify bool
}

// dispatch is a job with its assigned node.
type dispatch struct {
	jobID string
	job   task.Job
	node  string
}

// Execution is the live state of one submitted task.
type Execution struct {
	eng       *Engine
	id        string
	ref       task.Ref
	arg       any
	opts      SubmissionOptions
	createdAt time.Time
	deadline  time.Time
	session   *Session
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Set during admission, read-only afterwards.
	def        *task.Definition
	deployment *deploy.Handle
	recorded   bool

	mu         sync.Mutex
	state      string
	registered bool
	jobs       map[string]task.Job
	tried      map[string]failover.NodeSet
	results    []task.JobResult
	failovers  int
	timer      *time.Timer
	value      any
	err        error
	finishedAt time.Time

	done     chan struct{}
	complete sync.Once
}

func newExecution(eng *Engine, ref task.Ref, arg any, opts SubmissionOptions) *Execution {
	now := time.Now()
	x := &Execution{
		eng:       eng,
		id:        model.NewID(),
		ref:       ref,
		arg:       arg,
		opts:      opts,
		createdAt: now,
		state:     model.StateSubmitted,
		jobs:      make(map[string]task.Job),
		tried:     make(map[string]failover.NodeSet),
		done:      make(chan struct{}),
	}
	if opts.Timeout > 0 {
		x.deadline = now.Add(opts.Timeout)
	}
	x.session = newSession(x, opts.Attributes)
	x.logger = eng.logger.With("session_id", x.id)

	ctx := WithSession(context.Background(), x.session)
	if x.deadline.IsZero() {
		x.ctx, x.cancel = context.WithCancel(ctx)
	} else {
		x.ctx, x.cancel = context.WithDeadline(ctx, x.deadline)
	}
	return x
}

// ID returns the session id.
func (x *Execution) ID() string { return x.id }

func (x *Execution) taskName() string {
	if x.def != nil {
		return x.def.Name
	}
	return x.ref.Name()
}

func (x *Execution) expired() bool {
	return !x.deadline.IsZero() && !time.Now().Before(x.deadline)
}

// State returns the current state.
func (x *Execution) State() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

func (x *Execution) startTimer() {
	if x.deadline.IsZero() {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if model.IsTerminal(x.state) {
		return
	}
	x.timer = time.AfterFunc(time.Until(x.deadline), func() {
		x.handle(deadlineFired{})
	})
}

// run splits the task and dispatches its jobs.
func (x *Execution) run() {
	top := x.eng.members.Topology().Restrict(x.opts.Nodes)
	if len(top.Nodes) == 0 {
		x.finish(x.failure(ErrSplit, "", "", cluster.ErrNoNodes))
		return
	}

	mappings, err := x.split(top)
	if err != nil {
		x.finish(x.failure(ErrSplit, "", "", err))
		return
	}
	plan, err := x.assign(mappings, top)
	if err != nil {
		x.finish(x.failure(ErrSplit, "", "", err))
		return
	}

	x.mu.Lock()
	if model.IsTerminal(x.state) {
		x.mu.Unlock()
		return
	}
	if x.expired() {
		x.mu.Unlock()
		x.finish(x.timedOut())
		return
	}
	x.state = model.StateMapped
	for _, d := range plan {
		x.jobs[d.jobID] = d.job
		x.tried[d.jobID] = failover.NewNodeSet(d.node)
		x.session.addSibling(d.jobID, d.node)
	}
	reqs := make([]transport.Message, 0, len(plan))
	for _, d := range plan {
		reqs = append(reqs, x.requestLocked(d.jobID, d.node))
	}
	x.state = model.StateAwaitingResults
	if len(plan) == 0 {
		x.state = model.StateReducing
	}
	x.mu.Unlock()

	x.logger.Info("task mapped", "task", x.def.Name, "jobs", len(plan), "topology_version", top.Version)
	if len(plan) == 0 {
		x.reduce()
		return
	}
	for _, req := range reqs {
		if model.IsTerminal(x.State()) {
			return
		}
		x.send(req)
	}
}

func (x *Execution) split(top cluster.Topology) (ms []task.Mapping, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("split panicked: %v", r)
		}
	}()
	return x.def.Task.Split(x.ctx, x.arg, top.Nodes)
}

func (x *Execution) assign(ms []task.Mapping, top cluster.Topology) ([]dispatch, error) {
	plan := make([]dispatch, 0, len(ms))
	for i, m := range ms {
		if m.Job == nil {
			return nil, fmt.Errorf("mapping %d has no job", i)
		}
		d := dispatch{jobID: task.NewJobID(), job: m.Job, node: m.Node}
		if d.node != "" {
			if !top.Contains(d.node) {
				return nil, fmt.Errorf("mapping %d targets node %s: %w", i, d.node, cluster.ErrNoNodes)
			}
		} else {
			n, err := x.eng.balancer.Pick(d.jobID, top.Nodes)
			if err != nil {
				return nil, fmt.Errorf("pick node for mapping %d: %w", i, err)
			}
			d.node = n.ID
		}
		plan = append(plan, d)
	}
	return plan, nil
}

// requestLocked builds a job request carrying the current session snapshot.
func (x *Execution) requestLocked(jobID, node string) transport.Message {
	attrs, siblings := x.session.snapshot()
	return transport.Message{
		Topic: transport.JobTopic(jobID),
		From:  x.eng.nodeID,
		To:    node,
		Payload: transport.JobRequest{
			SessionID:   x.id,
			JobID:       jobID,
			TaskName:    x.def.Name,
			Job:         x.jobs[jobID],
			SessionFull: x.def.SessionFull,
			Attributes:  attrs,
			Siblings:    siblings,
		},
	}
}

// send delivers a job request. A failed send is handled as a job failure on
// the target node.
func (x *Execution) send(msg transport.Message) {
	req := msg.Payload.(transport.JobRequest)
	if err := x.eng.transport.Send(context.Background(), msg); err != nil {
		x.logger.Warn("job dispatch failed", "job_id", req.JobID, "node_id", msg.To, "error", err)
		x.handle(jobResponded{jobID: req.JobID, node: msg.To, err: fmt.Errorf("dispatch job: %w", err)})
	}
}

// handle is the single entry point for events after dispatch.
func (x *Execution) handle(ev event) {
	switch ev := ev.(type) {
	case jobResponded:
		x.onJobResponse(ev)
	case nodeLeft:
		x.onNodeLeft(ev.node)
	case cancelRequested:
		x.finish(x.cancelled(ev.cause))
	case deadlineFired:
		x.finish(x.timedOut())
	}
}

func (x *Execution) onJobResponse(ev jobResponded) {
	x.mu.Lock()
	if x.state != model.StateAwaitingResults {
		x.mu.Unlock()
		return
	}
	sib, ok := x.session.sibling(ev.jobID)
	if !ok || sib.Done || sib.Node != ev.node {
		x.mu.Unlock()
		x.logger.Debug("ignoring stale job response", "job_id", ev.jobID, "node_id", ev.node)
		return
	}
	if x.expired() {
		x.mu.Unlock()
		x.finish(x.timedOut())
		return
	}

	if ev.err != nil {
		resend, out := x.failoverLocked(ev.jobID, ev.node, ErrJob, ev.err)
		x.mu.Unlock()
		if out != nil {
			x.finish(*out)
			return
		}
		x.send(*resend)
		return
	}

	x.session.markDone(ev.jobID)
	res := task.JobResult{JobID: ev.jobID, Node: ev.node, Value: ev.value}
	x.results = append(x.results, res)
	policy, err := x.resultPolicy(res)
	if err != nil {
		x.mu.Unlock()
		x.finish(x.failure(ErrReduce, ev.jobID, ev.node, err))
		return
	}
	pending := x.session.pending()
	if policy != task.Reduce && len(pending) > 0 {
		x.mu.Unlock()
		return
	}
	x.state = model.StateReducing
	received := len(x.results)
	x.mu.Unlock()

	if len(pending) > 0 {
		x.logger.Info("reducing early", "received", received, "abandoned", len(pending))
		x.eng.broadcast(x.cancelNotices(pending))
	}
	x.eng.wg.Go(x.reduce)
}

func (x *Execution) resultPolicy(res task.JobResult) (p task.ResultPolicy, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("result policy panicked: %v", r)
		}
	}()
	return x.def.Task.Result(res, append([]task.JobResult(nil), x.results...)), nil
}

func (x *Execution) onNodeLeft(node string) {
	x.mu.Lock()
	if x.state != model.StateAwaitingResults {
		x.mu.Unlock()
		return
	}
	cause := fmt.Errorf("node %s left the grid", node)
	var resends []transport.Message
	var out *outcome
	for _, sib := range x.session.pending() {
		if sib.Node != node {
			continue
		}
		resend, o := x.failoverLocked(sib.JobID, node, ErrNodeLeft, cause)
		if o != nil {
			out = o
			break
		}
		resends = append(resends, *resend)
	}
	x.mu.Unlock()

	if out != nil {
		x.finish(*out)
		return
	}
	for _, msg := range resends {
		x.send(msg)
	}
}

// failoverLocked asks the coordinator for a new node. It returns either the
// request to resend or the terminal outcome.
func (x *Execution) failoverLocked(jobID, failed string, kind, cause error) (*transport.Message, *outcome) {
	coord := x.eng.coordinator
	if x.opts.NoFailover {
		coord = failover.NewCoordinator(failover.Never{})
	}
	top := x.eng.members.Topology().Restrict(x.opts.Nodes)
	fc := failover.Context{
		SessionID:  x.id,
		TaskName:   x.def.Name,
		JobID:      jobID,
		FailedNode: failed,
		Cause:      cause,
	}
	n, ok := coord.Decide(fc, x.tried[jobID], top)
	if !ok {
		out := x.failure(kind, jobID, failed, cause)
		return nil, &out
	}

	x.tried[jobID].Add(n.ID)
	x.session.moveSibling(jobID, n.ID)
	x.failovers++
	jobFailoversTotal.Inc()
	x.logger.Warn("failing over job", "job_id", jobID, "from_node", failed, "to_node", n.ID, "error", cause)

	msg := x.requestLocked(jobID, n.ID)
	return &msg, nil
}

func (x *Execution) reduce() {
	x.mu.Lock()
	if x.state != model.StateReducing {
		x.mu.Unlock()
		return
	}
	results := append([]task.JobResult(nil), x.results...)
	x.mu.Unlock()

	value, err := x.safeReduce(results)
	if err != nil {
		x.finish(x.failure(ErrReduce, "", "", err))
		return
	}
	x.finish(outcome{state: model.StateSucceeded, value: value})
}

func (x *Execution) safeReduce(results []task.JobResult) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reduce panicked: %v", r)
		}
	}()
	return x.def.Task.Reduce(x.ctx, results)
}

func (x *Execution) failure(kind error, jobID, node string, cause error) outcome {
	return outcome{
		state: model.StateFailed,
		err: &TaskError{
			Kind:      kind,
			SessionID: x.id,
			TaskName:  x.taskName(),
			JobID:     jobID,
			Node:      node,
			Cause:     cause,
		},
	}
}

func (x *Execution) timedOut() outcome {
	out := x.failure(ErrTimeout, "", "", nil)
	out.notify = true
	return out
}

func (x *Execution) cancelled(cause error) outcome {
	return outcome{
		state:  model.StateCancelled,
		err:    &TaskError{Kind: ErrCancelled, SessionID: x.id, TaskName: x.taskName(), Cause: cause},
		notify: true,
	}
}

func (x *Execution) cancelNotices(pending []Sibling) []transport.Message {
	msgs := make([]transport.Message, 0, len(pending))
	for _, sib := range pending {
		msgs = append(msgs, transport.Message{
			Topic:   sib.JobTopic,
			From:    x.eng.nodeID,
			To:      sib.Node,
			Payload: transport.CancelJob{SessionID: x.id, JobID: sib.JobID},
		})
	}
	return msgs
}

// finish applies a terminal outcome. Only the first call wins.
func (x *Execution) finish(out outcome) bool {
	x.mu.Lock()
	if model.IsTerminal(x.state) {
		x.mu.Unlock()
		return false
	}
	x.state = out.state
	x.value, x.err = out.value, out.err
	x.finishedAt = time.Now()
	var notices []transport.Message
	if out.notify {
		notices = x.cancelNotices(x.session.pending())
	}
	x.mu.Unlock()

	x.complete.Do(func() { x.completeOnce(notices) })
	return true
}

func (x *Execution) completeOnce(notices []transport.Message) {
	x.mu.Lock()
	if x.timer != nil {
		x.timer.Stop()
	}
	registered := x.registered
	state, err := x.state, x.err
	x.mu.Unlock()
	x.cancel()

	x.eng.broadcast(notices)
	x.eng.broadcast(x.session.close())
	if x.deployment != nil {
		x.deployment.Release()
	}

	if registered {
		x.eng.remove(x)
		tasksActive.Dec()
	}
	// Rejected submissions were never admitted and are not counted.
	internal := x.def != nil && x.def.Internal
	if x.recorded && !internal {
		x.eng.completed.Add(1)
		tasksCompletedTotal.WithLabelValues(state).Inc()
		taskDuration.Observe(time.Since(x.createdAt).Seconds())
	}
	if x.recorded {
		x.eng.sink.TaskFinished(x.event())
	}

	switch {
	case err == nil:
		x.logger.Info("task finished", "task", x.taskName(), "state", state)
	case errors.Is(err, ErrCancelled):
		x.logger.Info("task cancelled", "task", x.taskName(), "error", err)
	default:
		x.logger.Error("task failed", "task", x.taskName(), "error", err)
	}
	close(x.done)
}

// setAttributes merges attrs and sends them to the node of every pending
// job. Ordering ids are reserved while the session lock is held so that
// concurrent calls are observed in the same order on every node. Once an id
// is reserved the update is always sent, whatever happens to ctx.
func (x *Execution) setAttributes(ctx context.Context, attrs map[string]any) error {
	if len(attrs) == 0 || x.expired() {
		return nil
	}
	if x.def != nil && !x.def.SessionFull {
		return ErrSessionNotShared
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := x.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	maps.Copy(s.attrs, attrs)
	update := maps.Clone(attrs)
	listeners := make([]func(map[string]any), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}

	var msgs []transport.Message
	seen := make(map[string]bool)
	for _, sib := range s.siblings {
		if sib.Done || seen[sib.Node] {
			continue
		}
		seen[sib.Node] = true
		msgs = append(msgs, transport.Message{
			Topic:   sib.TaskTopic,
			From:    x.eng.nodeID,
			To:      sib.Node,
			ID:      x.eng.transport.NextMessageID(sib.TaskTopic, sib.Node),
			Payload: transport.SessionAttributes{SessionID: x.id, Attributes: update},
		})
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(maps.Clone(update))
	}
	x.eng.broadcast(msgs)
	return nil
}

func (x *Execution) event() TaskEvent {
	x.mu.Lock()
	defer x.mu.Unlock()
	return TaskEvent{
		SessionID:  x.id,
		TaskName:   x.taskName(),
		OriginNode: x.eng.nodeID,
		Principal:  x.opts.Principal,
		State:      x.state,
		JobCount:   len(x.jobs),
		Failovers:  x.failovers,
		Internal:   x.def != nil && x.def.Internal,
		Timeout:    x.opts.Timeout,
		Value:      x.value,
		Err:        x.err,
		CreatedAt:  x.createdAt,
		FinishedAt: x.finishedAt,
	}
}

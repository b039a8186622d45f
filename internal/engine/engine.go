package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/security"
	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
)

// Engine admits task submissions on one node and owns their executions.
type Engine struct {
	nodeID      string
	members     cluster.Membership
	transport   transport.Transport
	resolver    Resolver
	auth        security.Authorizer
	balancer    cluster.LoadBalancer
	coordinator failover.Coordinator
	sink        EventSink
	logger      *slog.Logger

	mapping *semaphore.Weighted
	wg      sync.WaitGroup

	// gate orders admission (readers) against shutdown (writer).
	gate     sync.RWMutex
	stopping bool
	draining bool

	mu    sync.RWMutex
	execs map[string]*Execution

	completed atomic.Int64

	detachOnce  sync.Once
	unsubscribe func()
	stopListen  func()
}

// NewEngine creates an engine and subscribes it to membership changes.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("engine: node id is required")
	}
	if cfg.Membership == nil || cfg.Transport == nil || cfg.Resolver == nil {
		return nil, errors.New("engine: membership, transport and resolver are required")
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = security.AllowAll{}
	}
	if cfg.LoadBalancer == nil {
		cfg.LoadBalancer = cluster.NewRoundRobin()
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.MappingWorkers <= 0 {
		cfg.MappingWorkers = DefaultMappingWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		nodeID:      cfg.NodeID,
		members:     cfg.Membership,
		transport:   cfg.Transport,
		resolver:    cfg.Resolver,
		auth:        cfg.Authorizer,
		balancer:    cfg.LoadBalancer,
		coordinator: failover.NewCoordinator(cfg.Failover),
		sink:        cfg.Sink,
		logger:      cfg.Logger.With("node_id", cfg.NodeID),
		mapping:     semaphore.NewWeighted(int64(cfg.MappingWorkers)),
		execs:       make(map[string]*Execution),
	}
	e.unsubscribe = cfg.Membership.Subscribe(func(ev cluster.Event) {
		if ev.Type == cluster.EventNodeLeft || ev.Type == cluster.EventNodeFailed {
			e.OnNodeLeft(ev.Node.ID)
		}
	})
	return e, nil
}

// NodeID returns the node the engine runs on.
func (e *Engine) NodeID() string { return e.nodeID }

// Start listens on the engine's node. Use Handle instead when the node
// endpoint is shared with a worker.
func (e *Engine) Start() error {
	stop, err := e.transport.Listen(e.nodeID, e.Handle)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", e.nodeID, err)
	}
	e.stopListen = stop
	return nil
}

// Submit admits a task. The returned error is non-nil only when the engine
// is shutting down. Deployment, authorization and rejection failures are
// reported through the already resolved Future.
func (e *Engine) Submit(ctx context.Context, ref task.Ref, arg any, opts SubmissionOptions) (*Future, error) {
	e.gate.RLock()
	if e.stopping {
		e.gate.RUnlock()
		return nil, ErrShutdown
	}

	x := newExecution(e, ref, arg, opts)
	h, err := e.resolver.Resolve(ref)
	if err != nil {
		e.gate.RUnlock()
		x.recorded = true
		e.sink.TaskStarted(x.event())
		x.finish(x.failure(ErrDeployment, "", "", err))
		return newFuture(x), nil
	}
	x.deployment = h
	x.def = h.Definition()
	x.session.setTaskName(x.def.Name, x.def.SessionFull)

	if err := e.auth.Authorize(ctx, opts.Principal, x.def.Name, security.PermExecute); err != nil {
		e.gate.RUnlock()
		x.recorded = true
		e.sink.TaskStarted(x.event())
		x.finish(x.failure(ErrAuth, "", "", err))
		return newFuture(x), nil
	}

	if x.def.AsyncMapping && !e.mapping.TryAcquire(1) {
		e.gate.RUnlock()
		tasksRejectedTotal.Inc()
		x.finish(x.failure(ErrExecutionRejected, "", "", errors.New("mapping pool saturated")))
		return newFuture(x), nil
	}

	x.recorded = true
	e.sink.TaskStarted(x.event())
	if x.def.AsyncMapping {
		e.wg.Add(1)
	}
	e.add(x)
	e.gate.RUnlock()

	x.logger.Info("task submitted", "task", x.def.Name, "principal", opts.Principal, "timeout", opts.Timeout)
	x.startTimer()

	if x.def.AsyncMapping {
		go func() {
			defer e.wg.Done()
			defer e.mapping.Release(1)
			x.run()
		}()
	} else {
		x.run()
	}
	return newFuture(x), nil
}

func (e *Engine) add(x *Execution) {
	e.mu.Lock()
	e.execs[x.id] = x
	e.mu.Unlock()

	x.mu.Lock()
	x.registered = true
	x.mu.Unlock()
	tasksActive.Inc()
}

func (e *Engine) remove(x *Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execs[x.id] == x {
		delete(e.execs, x.id)
	}
}

func (e *Engine) lookup(id string) (*Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.execs[id]
	return x, ok
}

func (e *Engine) snapshot() []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Execution, 0, len(e.execs))
	for _, x := range e.execs {
		out = append(out, x)
	}
	return out
}

// Lookup returns the future of a live execution.
func (e *Engine) Lookup(sessionID string) (*Future, bool) {
	x, ok := e.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return newFuture(x), true
}

// Cancel cancels a live execution. It reports whether this call moved the
// execution to cancelled.
func (e *Engine) Cancel(sessionID string) bool {
	x, ok := e.lookup(sessionID)
	if !ok {
		return false
	}
	return x.finish(x.cancelled(nil))
}

// Active returns the session ids of live executions, sorted.
func (e *Engine) Active() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.execs))
	for id := range e.execs {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// CompletedTasks returns how many non-internal tasks reached a terminal
// state.
func (e *Engine) CompletedTasks() int64 {
	return e.completed.Load()
}

// Draining reports whether a graceful Shutdown has closed admission while
// executions are still live.
func (e *Engine) Draining() bool {
	e.gate.RLock()
	draining := e.draining
	e.gate.RUnlock()
	return draining && len(e.Active()) > 0
}

// OnNodeLeft delivers a node departure to every live execution, one after
// another.
func (e *Engine) OnNodeLeft(nodeID string) {
	e.gate.RLock()
	execs := e.snapshot()
	e.gate.RUnlock()

	e.logger.Info("node left", "left_node", nodeID, "executions", len(execs))
	for _, x := range execs {
		x.handle(nodeLeft{node: nodeID})
	}
}

// Handle processes a message addressed to the engine's node. Messages for
// other components are ignored.
func (e *Engine) Handle(msg transport.Message) {
	switch p := msg.Payload.(type) {
	case transport.JobResponse:
		x, ok := e.lookup(p.SessionID)
		if !ok {
			e.logger.Debug("response for unknown session", "session_id", p.SessionID, "job_id", p.JobID)
			return
		}
		x.handle(jobResponded{jobID: p.JobID, node: msg.From, value: p.Value, err: p.Err})
	case transport.JobAttributes:
		x, ok := e.lookup(p.SessionID)
		if !ok {
			return
		}
		if err := x.setAttributes(context.Background(), p.Attributes); err != nil {
			x.logger.Warn("dropping job attributes", "job_id", p.JobID, "error", err)
		}
	}
}

// Shutdown stops admission. With cancel set, every live execution is
// cancelled and Shutdown returns at once. Otherwise it waits for live
// executions to finish or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context, cancel bool) error {
	e.gate.Lock()
	e.stopping = true
	e.draining = e.draining || !cancel
	execs := e.snapshot()
	e.gate.Unlock()

	e.logger.Info("engine shutting down", "executions", len(execs), "cancel", cancel)
	if cancel {
		for _, x := range execs {
			x.handle(cancelRequested{cause: ErrShutdown})
		}
		e.detach()
		return nil
	}

	for _, x := range execs {
		select {
		case <-x.done:
		case <-ctx.Done():
			return fmt.Errorf("drain executions: %w", ctx.Err())
		}
	}
	e.wg.Wait()
	e.detach()
	return nil
}

func (e *Engine) detach() {
	e.detachOnce.Do(func() {
		e.unsubscribe()
		if e.stopListen != nil {
			e.stopListen()
		}
	})
}

// broadcast sends best-effort messages concurrently. Failures are logged.
func (e *Engine) broadcast(msgs []transport.Message) {
	if len(msgs) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(fanoutLimit)
	for _, msg := range msgs {
		g.Go(func() error {
			if err := e.transport.Send(context.Background(), msg); err != nil {
				e.logger.Warn("best-effort delivery failed", "topic", msg.Topic, "to_node", msg.To, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

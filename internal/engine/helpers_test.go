package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
	"github.com/seantiz/taskgrid/internal/engine"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
	"github.com/seantiz/taskgrid/internal/worker"
)

const waitFor = 5 * time.Second

type recordingSink struct {
	mu       sync.Mutex
	started  []engine.TaskEvent
	finished []engine.TaskEvent
}

func (s *recordingSink) TaskStarted(ev engine.TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, ev)
}

func (s *recordingSink) TaskFinished(ev engine.TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, ev)
}

func (s *recordingSink) snapshot() (started, finished []engine.TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.TaskEvent(nil), s.started...), append([]engine.TaskEvent(nil), s.finished...)
}

// testGrid is an engine on node "origin" with workers w1, w2 and w3.
type testGrid struct {
	net     *transport.Network
	group   *cluster.Group
	deploys *deploy.Registry
	agents  map[string]*worker.Agent
	sink    *recordingSink
	eng     *engine.Engine
}

func newGrid(t *testing.T, configure ...func(*engine.Config)) *testGrid {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	g := &testGrid{
		net:     transport.NewNetwork(),
		deploys: deploy.NewRegistry(),
		agents:  make(map[string]*worker.Agent),
		sink:    &recordingSink{},
	}

	var nodes []cluster.Node
	for _, id := range []string{"w1", "w2", "w3"} {
		a := worker.New(id, g.net, logger)
		require.NoError(t, a.Start())
		t.Cleanup(a.Stop)
		g.agents[id] = a
		nodes = append(nodes, cluster.Node{ID: id})
	}
	g.group = cluster.NewGroup(nodes...)

	cfg := engine.Config{
		NodeID:     "origin",
		Membership: g.group,
		Transport:  g.net,
		Resolver:   g.deploys,
		Failover:   failover.Always{MaxAttempts: 5},
		Sink:       g.sink,
		Logger:     logger,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() { _ = eng.Shutdown(context.Background(), true) })
	g.eng = eng
	return g
}

func (g *testGrid) deploy(t *testing.T, def *task.Definition) {
	t.Helper()
	require.NoError(t, g.deploys.Deploy(def))
}

func (g *testGrid) submit(t *testing.T, name string, arg any, opts engine.SubmissionOptions) *engine.Future {
	t.Helper()
	f, err := g.eng.Submit(context.Background(), task.ByName(name), arg, opts)
	require.NoError(t, err)
	return f
}

// mappingTask splits into the []task.Mapping passed as the argument and
// reduces to the job values in arrival order.
func mappingTask(name string) *task.Definition {
	return &task.Definition{
		Name: name,
		Task: task.Funcs{
			SplitFunc: func(_ context.Context, arg any, _ []cluster.Node) ([]task.Mapping, error) {
				return arg.([]task.Mapping), nil
			},
			ReduceFunc: collect,
		},
	}
}

func collect(_ context.Context, results []task.JobResult) (any, error) {
	values := make([]any, 0, len(results))
	for _, r := range results {
		values = append(values, r.Value)
	}
	return values, nil
}

func value(v any) task.Job {
	return task.JobFunc(func(context.Context, task.JobSession) (any, error) {
		return v, nil
	})
}

// blockUntil returns a job that waits for release or its context.
func blockUntil(release <-chan struct{}, v any) task.Job {
	return task.JobFunc(func(ctx context.Context, _ task.JobSession) (any, error) {
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// await waits for f to resolve and returns its outcome.
func await(t *testing.T, f *engine.Future) (any, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(waitFor):
		t.Fatalf("task %s did not finish, state %s", f.SessionID(), f.State())
	}
	return f.Get(context.Background())
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// Package grid assembles an in-process taskgrid cluster: a message network,
// a membership group, worker agents on every node and one engine.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/taskgrid/internal/builtin"
	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
	"github.com/seantiz/taskgrid/internal/engine"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/security"
	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
	"github.com/seantiz/taskgrid/internal/worker"
)

// ErrNodeExists is returned by AddNode for an id already in the grid.
var ErrNodeExists = errors.New("node already exists")

// Config describes a local grid.
type Config struct {
	// NodeID is the engine's node. It also runs jobs.
	NodeID string
	// Workers are the ids of the additional worker-only nodes.
	Workers []string

	Failover       failover.Policy
	Authorizer     security.Authorizer
	Sink           engine.EventSink
	MappingWorkers int
	Logger         *slog.Logger
}

// Local is a running in-process grid.
type Local struct {
	Network  *transport.Network
	Members  *cluster.Group
	Registry *deploy.Registry
	Engine   *engine.Engine

	logger *slog.Logger

	mu     sync.Mutex
	agents map[string]*worker.Agent
	stop   func()
}

// NewLocal starts the workers and the engine and deploys the built-in tasks.
func NewLocal(cfg Config) (*Local, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	l := &Local{
		Network:  transport.NewNetwork(),
		Members:  cluster.NewGroup(),
		Registry: deploy.NewRegistry(),
		logger:   cfg.Logger,
		agents:   make(map[string]*worker.Agent),
	}
	l.Registry.OnObsolete(func(def *task.Definition) {
		l.logger.Info("deployment obsolete", "task", def.Name)
	})
	if err := builtin.Register(l.Registry); err != nil {
		return nil, fmt.Errorf("register builtin tasks: %w", err)
	}

	eng, err := engine.NewEngine(engine.Config{
		NodeID:         cfg.NodeID,
		Membership:     l.Members,
		Transport:      l.Network,
		Resolver:       l.Registry,
		Authorizer:     cfg.Authorizer,
		Failover:       cfg.Failover,
		Sink:           cfg.Sink,
		MappingWorkers: cfg.MappingWorkers,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	l.Engine = eng

	// The engine's node shares its endpoint with a worker.
	local := worker.New(cfg.NodeID, l.Network, cfg.Logger)
	stop, err := l.Network.Listen(cfg.NodeID, transport.Fanout(eng.Handle, local.Handle))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NodeID, err)
	}
	l.stop = stop
	l.agents[cfg.NodeID] = local
	l.Members.Join(cluster.Node{ID: cfg.NodeID})

	for _, id := range cfg.Workers {
		if err := l.AddNode(id); err != nil {
			l.Close(context.Background(), true)
			return nil, err
		}
	}
	return l, nil
}

// AddNode starts a worker on a new node and announces it to the grid.
func (l *Local) AddNode(id string) error {
	l.mu.Lock()
	if _, ok := l.agents[id]; ok {
		l.mu.Unlock()
		return fmt.Errorf("add node %s: %w", id, ErrNodeExists)
	}
	a := worker.New(id, l.Network, l.logger)
	if err := a.Start(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("add node %s: %w", id, err)
	}
	l.agents[id] = a
	l.mu.Unlock()

	l.Members.Join(cluster.Node{ID: id})
	return nil
}

// RemoveNode stops the worker on a node and reports its departure. The
// engine's own node cannot be removed.
func (l *Local) RemoveNode(id string) bool {
	if id == l.Engine.NodeID() {
		return false
	}
	l.mu.Lock()
	a, ok := l.agents[id]
	delete(l.agents, id)
	l.mu.Unlock()
	if !ok {
		return false
	}

	a.Stop()
	return l.Members.Leave(id)
}

// Nodes returns the ids of nodes with a running worker.
func (l *Local) Nodes() []string {
	return l.Members.Topology().IDs()
}

// Close shuts the engine down and stops every worker. With cancel set,
// running tasks are cancelled; otherwise Close waits for them until ctx
// ends.
func (l *Local) Close(ctx context.Context, cancel bool) error {
	var err error
	if l.Engine != nil {
		err = l.Engine.Shutdown(ctx, cancel)
	}

	l.mu.Lock()
	agents := l.agents
	l.agents = make(map[string]*worker.Agent)
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, a := range agents {
		a.Stop()
	}
	return err
}

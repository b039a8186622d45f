package cluster

import "sync"

// EventType identifies a membership change.
type EventType string

// Membership event types.
const (
	EventNodeJoined EventType = "node_joined"
	EventNodeLeft   EventType = "node_left"
	EventNodeFailed EventType = "node_failed"
)

// Event is a membership change together with the topology version it produced.
type Event struct {
	Type    EventType
	Node    Node
	Version uint64
}

// Membership reports the live topology and notifies subscribers of changes.
type Membership interface {
	Topology() Topology
	// Subscribe registers fn for all future events and returns a function
	// that removes the subscription. Listeners are called synchronously on
	// the goroutine that changed the membership, outside any internal lock.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Compile-time interface satisfaction check.
var _ Membership = (*Group)(nil)

// Group is an in-process Membership. It is safe for concurrent use.
type Group struct {
	mu        sync.RWMutex
	version   uint64
	nodes     []Node
	listeners map[int]func(Event)
	nextID    int
}

// NewGroup creates a group that starts with the given nodes.
func NewGroup(nodes ...Node) *Group {
	g := &Group{listeners: make(map[int]func(Event))}
	for _, n := range nodes {
		g.nodes = append(g.nodes, n)
		g.version++
	}
	return g
}

// Topology returns a snapshot of the live nodes.
func (g *Group) Topology() Topology {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)
	return Topology{Version: g.version, Nodes: nodes}
}

// Subscribe registers a membership listener.
func (g *Group) Subscribe(fn func(Event)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++
	g.listeners[id] = fn

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// Join adds a node. Joining an id that is already live is a no-op.
func (g *Group) Join(n Node) {
	g.mu.Lock()
	for _, cur := range g.nodes {
		if cur.ID == n.ID {
			g.mu.Unlock()
			return
		}
	}
	g.nodes = append(g.nodes, n)
	g.version++
	ev := Event{Type: EventNodeJoined, Node: n, Version: g.version}
	listeners := g.snapshotListeners()
	g.mu.Unlock()

	notify(listeners, ev)
}

// Leave removes a node that departed gracefully. It reports whether the
// node was live.
func (g *Group) Leave(id string) bool {
	return g.remove(id, EventNodeLeft)
}

// Fail removes a node that was detected as failed. It reports whether the
// node was live.
func (g *Group) Fail(id string) bool {
	return g.remove(id, EventNodeFailed)
}

func (g *Group) remove(id string, typ EventType) bool {
	g.mu.Lock()
	idx := -1
	for i, n := range g.nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	n := g.nodes[idx]
	g.nodes = append(g.nodes[:idx:idx], g.nodes[idx+1:]...)
	g.version++
	ev := Event{Type: typ, Node: n, Version: g.version}
	listeners := g.snapshotListeners()
	g.mu.Unlock()

	notify(listeners, ev)
	return true
}

// snapshotListeners must be called with g.mu held.
func (g *Group) snapshotListeners() []func(Event) {
	out := make([]func(Event), 0, len(g.listeners))
	for _, fn := range g.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

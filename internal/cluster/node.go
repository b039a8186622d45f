package cluster

// Node is a live member of the grid.
type Node struct {
	ID         string            `json:"id"`
	Addr       string            `json:"addr,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Topology is a versioned snapshot of the live node set. Nodes are kept in
// join order.
type Topology struct {
	Version uint64 `json:"version"`
	Nodes   []Node `json:"nodes"`
}

// Contains reports whether the node with the given id is part of the topology.
func (t Topology) Contains(id string) bool {
	_, ok := t.Node(id)
	return ok
}

// Node returns the node with the given id.
func (t Topology) Node(id string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IDs returns the node ids in topology order.
func (t Topology) IDs() []string {
	ids := make([]string, len(t.Nodes))
	for i, n := range t.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Restrict returns the sub-grid made of the given node ids. Ids that are not
// live are ignored. An empty id list returns the topology unchanged.
func (t Topology) Restrict(ids []string) Topology {
	if len(ids) == 0 {
		return t
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	sub := Topology{Version: t.Version}
	for _, n := range t.Nodes {
		if want[n.ID] {
			sub.Nodes = append(sub.Nodes, n)
		}
	}
	return sub
}

package failover

import "github.com/seantiz/taskgrid/internal/cluster"

// Coordinator applies a Policy and enforces its contract. It holds no
// mutable state and is safe for concurrent use.
type Coordinator struct {
	policy Policy
}

// NewCoordinator wraps p. A nil policy never fails over.
func NewCoordinator(p Policy) Coordinator {
	if p == nil {
		p = Never{}
	}
	return Coordinator{policy: p}
}

// Decide returns the node the job should be resent to. A node that was
// already tried or is no longer live is treated as no decision.
func (c Coordinator) Decide(fc Context, tried NodeSet, top cluster.Topology) (cluster.Node, bool) {
	n, ok := c.policy.Failover(fc, tried.Clone(), top)
	if !ok {
		return cluster.Node{}, false
	}
	if tried.Has(n.ID) || !top.Contains(n.ID) {
		return cluster.Node{}, false
	}
	return n, true
}

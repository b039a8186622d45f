package cluster

import (
	"errors"
	"sync/atomic"
)

// ErrNoNodes is returned when a job has to be placed on an empty topology.
var ErrNoNodes = errors.New("no nodes available")

// LoadBalancer picks the node a job is first dispatched to. It is called
// once per job; failover placement is decided by the failover policy.
type LoadBalancer interface {
	Pick(jobID string, nodes []Node) (Node, error)
}

// RoundRobin spreads jobs over the nodes in topology order.
type RoundRobin struct {
	next atomic.Uint64
}

// NewRoundRobin creates a round-robin load balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next node in rotation.
func (r *RoundRobin) Pick(_ string, nodes []Node) (Node, error) {
	if len(nodes) == 0 {
		return Node{}, ErrNoNodes
	}
	i := r.next.Add(1) - 1
	return nodes[i%uint64(len(nodes))], nil
}

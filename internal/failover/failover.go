// Package failover decides where a failed or orphaned job runs next.
package failover

import (
	"fmt"
	"sort"

	"github.com/seantiz/taskgrid/internal/cluster"
)

// Policy names accepted by FromName.
const (
	PolicyNever  = "never"
	PolicyAlways = "always"
)

// Context describes the job being failed over.
type Context struct {
	SessionID  string
	TaskName   string
	JobID      string
	FailedNode string
	Cause      error
}

// NodeSet is a set of node ids.
type NodeSet map[string]struct{}

// NewNodeSet creates a set holding ids.
func NewNodeSet(ids ...string) NodeSet {
	s := make(NodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s NodeSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add puts id in the set.
func (s NodeSet) Add(id string) {
	s[id] = struct{}{}
}

// Clone returns an independent copy.
func (s NodeSet) Clone() NodeSet {
	c := make(NodeSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Sorted returns the ids in lexical order.
func (s NodeSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Policy chooses a new node for a job. Implementations must not return a
// node contained in tried.
type Policy interface {
	Failover(fc Context, tried NodeSet, top cluster.Topology) (cluster.Node, bool)
}

// Never is the policy that never fails a job over.
type Never struct{}

// Failover always declines.
func (Never) Failover(Context, NodeSet, cluster.Topology) (cluster.Node, bool) {
	return cluster.Node{}, false
}

// Always fails a job over to the first live node it has not run on yet.
// MaxAttempts bounds the number of nodes a job may be tried on; zero means
// every live node may be tried.
type Always struct {
	MaxAttempts int
}

// Failover returns the first untried live node in topology order.
func (a Always) Failover(_ Context, tried NodeSet, top cluster.Topology) (cluster.Node, bool) {
	if a.MaxAttempts > 0 && len(tried) >= a.MaxAttempts {
		return cluster.Node{}, false
	}
	for _, n := range top.Nodes {
		if !tried.Has(n.ID) {
			return n, true
		}
	}
	return cluster.Node{}, false
}

// FromName builds a policy from its configured name.
func FromName(name string, maxAttempts int) (Policy, error) {
	switch name {
	case PolicyNever, "":
		return Never{}, nil
	case PolicyAlways:
		return Always{MaxAttempts: maxAttempts}, nil
	default:
		return nil, fmt.Errorf("unknown failover policy %q", name)
	}
}

package failover_test

import (
	"testing"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/failover"
)

func topology(ids ...string) cluster.Topology {
	top := cluster.Topology{Version: 1}
	for _, id := range ids {
		top.Nodes = append(top.Nodes, cluster.Node{ID: id})
	}
	return top
}

// fixedPolicy always returns the same node, tried or not.
type fixedPolicy struct{ node string }

func (f fixedPolicy) Failover(failover.Context, failover.NodeSet, cluster.Topology) (cluster.Node, bool) {
	return cluster.Node{ID: f.node}, true
}

// mutatingPolicy tries to poison the tried set it was given.
type mutatingPolicy struct{}

func (mutatingPolicy) Failover(_ failover.Context, tried failover.NodeSet, _ cluster.Topology) (cluster.Node, bool) {
	tried.Add("poison")
	return cluster.Node{}, false
}

func TestNeverDeclines(t *testing.T) {
	c := failover.NewCoordinator(nil)
	if _, ok := c.Decide(failover.Context{}, failover.NewNodeSet("a"), topology("a", "b")); ok {
		t.Error("nil policy should never fail over")
	}
}

func TestAlwaysPicksUntried(t *testing.T) {
	c := failover.NewCoordinator(failover.Always{})
	tried := failover.NewNodeSet("a")

	n, ok := c.Decide(failover.Context{JobID: "j"}, tried, topology("a", "b", "c"))
	if !ok || n.ID != "b" {
		t.Fatalf("Decide = %q, %v; want b, true", n.ID, ok)
	}

	tried.Add("b")
	tried.Add("c")
	if _, ok := c.Decide(failover.Context{}, tried, topology("a", "b", "c")); ok {
		t.Error("Decide should decline once every node was tried")
	}
}

func TestAlwaysMaxAttempts(t *testing.T) {
	c := failover.NewCoordinator(failover.Always{MaxAttempts: 2})
	if _, ok := c.Decide(failover.Context{}, failover.NewNodeSet("a"), topology("a", "b", "c")); !ok {
		t.Error("first failover should be allowed")
	}
	if _, ok := c.Decide(failover.Context{}, failover.NewNodeSet("a", "b"), topology("a", "b", "c")); ok {
		t.Error("failover beyond MaxAttempts should be declined")
	}
}

func TestCoordinatorRejectsTriedNode(t *testing.T) {
	c := failover.NewCoordinator(fixedPolicy{node: "a"})
	if _, ok := c.Decide(failover.Context{}, failover.NewNodeSet("a"), topology("a", "b")); ok {
		t.Error("coordinator must reject a node already tried")
	}
}

func TestCoordinatorRejectsDeadNode(t *testing.T) {
	c := failover.NewCoordinator(fixedPolicy{node: "gone"})
	if _, ok := c.Decide(failover.Context{}, failover.NewNodeSet("a"), topology("a", "b")); ok {
		t.Error("coordinator must reject a node outside the topology")
	}
}

func TestCoordinatorProtectsTriedSet(t *testing.T) {
	c := failover.NewCoordinator(mutatingPolicy{})
	tried := failover.NewNodeSet("a")
	c.Decide(failover.Context{}, tried, topology("a"))
	if tried.Has("poison") {
		t.Error("policy mutated the caller's tried set")
	}
}

func TestFromName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{failover.PolicyNever, false},
		{failover.PolicyAlways, false},
		{"", false},
		{"sometimes", true},
	}
	for _, tt := range tests {
		_, err := failover.FromName(tt.name, 3)
		if (err != nil) != tt.wantErr {
			t.Errorf("FromName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

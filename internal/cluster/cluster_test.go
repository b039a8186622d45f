package cluster_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/seantiz/taskgrid/internal/cluster"
)

func nodes(ids ...string) []cluster.Node {
	out := make([]cluster.Node, len(ids))
	for i, id := range ids {
		out[i] = cluster.Node{ID: id}
	}
	return out
}

func TestGroupTopologyVersioning(t *testing.T) {
	g := cluster.NewGroup(nodes("a", "b")...)
	top := g.Topology()
	if top.Version != 2 {
		t.Errorf("Version = %d, want 2", top.Version)
	}
	if got := top.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("IDs = %v, want [a b]", got)
	}

	g.Join(cluster.Node{ID: "c"})
	g.Join(cluster.Node{ID: "c"}) // duplicate join is ignored
	if v := g.Topology().Version; v != 3 {
		t.Errorf("Version after join = %d, want 3", v)
	}

	if !g.Leave("a") {
		t.Error("Leave(a) = false, want true")
	}
	if g.Leave("a") {
		t.Error("second Leave(a) = true, want false")
	}
	top = g.Topology()
	if top.Contains("a") {
		t.Error("topology still contains a after Leave")
	}
	if top.Version != 4 {
		t.Errorf("Version after leave = %d, want 4", top.Version)
	}
}

func TestGroupEvents(t *testing.T) {
	g := cluster.NewGroup(nodes("a", "b")...)

	var mu sync.Mutex
	var got []cluster.Event
	unsub := g.Subscribe(func(ev cluster.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	g.Join(cluster.Node{ID: "c"})
	g.Leave("a")
	g.Fail("b")
	unsub()
	g.Leave("c")

	mu.Lock()
	defer mu.Unlock()
	want := []cluster.EventType{cluster.EventNodeJoined, cluster.EventNodeLeft, cluster.EventNodeFailed}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("event[%d].Type = %q, want %q", i, ev.Type, want[i])
		}
	}
	if got[2].Node.ID != "b" || got[2].Version != 5 {
		t.Errorf("event[2] = %+v, want node b at version 5", got[2])
	}
}

func TestTopologyRestrict(t *testing.T) {
	top := cluster.Topology{Version: 7, Nodes: nodes("a", "b", "c")}

	sub := top.Restrict([]string{"c", "a", "zz"})
	if got := sub.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Restrict IDs = %v, want [a c]", got)
	}
	if sub.Version != 7 {
		t.Errorf("Restrict Version = %d, want 7", sub.Version)
	}
	if all := top.Restrict(nil); len(all.Nodes) != 3 {
		t.Errorf("Restrict(nil) kept %d nodes, want 3", len(all.Nodes))
	}
}

func TestRoundRobin(t *testing.T) {
	rr := cluster.NewRoundRobin()
	ns := nodes("a", "b", "c")

	var picked []string
	for i := 0; i < 4; i++ {
		n, err := rr.Pick("job", ns)
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		picked = append(picked, n.ID)
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if picked[i] != want[i] {
			t.Errorf("pick[%d] = %q, want %q", i, picked[i], want[i])
		}
	}

	if _, err := rr.Pick("job", nil); !errors.Is(err, cluster.ErrNoNodes) {
		t.Errorf("Pick on empty topology error = %v, want ErrNoNodes", err)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/taskgrid/internal/builtin"
	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
	"github.com/seantiz/taskgrid/internal/engine"
	"github.com/seantiz/taskgrid/internal/store"
	"github.com/seantiz/taskgrid/internal/transport"
	"github.com/seantiz/taskgrid/internal/worker"
)

// newTestServer builds a three-node in-process grid with the built-in tasks
// deployed and task history kept in an in-memory store.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	net := transport.NewNetwork()

	var nodes []cluster.Node
	for _, id := range []string{"n1", "n2", "n3"} {
		a := worker.New(id, net, logger)
		if err := a.Start(); err != nil {
			t.Fatalf("start worker %s: %v", id, err)
		}
		t.Cleanup(a.Stop)
		nodes = append(nodes, cluster.Node{ID: id})
	}
	members := cluster.NewGroup(nodes...)

	reg := deploy.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	eng, err := engine.NewEngine(engine.Config{
		NodeID:     "origin",
		Membership: members,
		Transport:  net,
		Resolver:   reg,
		Sink:       store.NewTaskSink(s, logger),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown(context.Background(), true) })

	return NewServer(":0", s, eng, members, reg, logger)
}

// doJSON sends a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestListNodes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var top cluster.Topology
	if code := doJSON(t, http.MethodGet, ts.URL+"/v1/nodes", nil, &top); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(top.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(top.Nodes))
	}
	if top.Version != 3 {
		t.Errorf("version = %d, want 3", top.Version)
	}
	if top.Nodes[0].ID != "n1" {
		t.Errorf("first node = %q, want n1", top.Nodes[0].ID)
	}
}

func TestListDeployments(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var resp listDeploymentsResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/v1/deployments", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Deployments) != 4 {
		t.Fatalf("deployments = %d, want 4", len(resp.Deployments))
	}

	names := make(map[string]deploy.Info)
	for _, d := range resp.Deployments {
		names[d.Name] = d
	}
	if !names[builtin.BroadcastTask].SessionFull {
		t.Error("broadcast should share its session")
	}
	if !names[builtin.SleepTask].AsyncMapping {
		t.Error("sleep should map asynchronously")
	}
}

// testserver starts a taskgrid API server on a fixed three-node in-process
// grid with an in-memory store for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/taskgrid/internal/api"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/grid"
	"github.com/seantiz/taskgrid/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("TASKGRID_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	g, err := grid.NewLocal(grid.Config{
		NodeID:   "n0",
		Workers:  []string{"n1", "n2"},
		Failover: failover.Always{MaxAttempts: 3},
		Sink:     store.NewTaskSink(db, logger),
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to start grid: %v", err)
	}

	srv := api.NewServer(addr, db, g.Engine, g.Members, g.Registry, logger)

	logger.Info("testserver: starting", "addr", addr, "nodes", g.Nodes())
	runErr := srv.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.Close(ctx, true)

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}

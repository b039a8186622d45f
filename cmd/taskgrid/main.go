package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/seantiz/taskgrid/internal/api"
	"github.com/seantiz/taskgrid/internal/config"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/grid"
	"github.com/seantiz/taskgrid/internal/model"
	"github.com/seantiz/taskgrid/internal/store"
)

const drainTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = model.NewNodeID()
	}

	logger.Info("taskgrid: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"node_id", nodeID,
		"local_nodes", cfg.LocalNodes,
		"failover", cfg.Failover,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	policy, err := failover.FromName(cfg.Failover, cfg.FailoverAttempts)
	if err != nil {
		log.Fatalf("invalid failover policy: %v", err)
	}

	// The engine node runs jobs too, so LocalNodes counts it.
	workers := make([]string, 0, cfg.LocalNodes-1)
	for range cfg.LocalNodes - 1 {
		workers = append(workers, model.NewNodeID())
	}

	g, err := grid.NewLocal(grid.Config{
		NodeID:         nodeID,
		Workers:        workers,
		Failover:       policy,
		Sink:           store.NewTaskSink(db, logger),
		MappingWorkers: cfg.MappingWorkers,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to start grid: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, g.Engine, g.Members, g.Registry, logger)
	runErr := srv.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := g.Close(ctx, cfg.ShutdownCancel); err != nil {
		logger.Error("grid shutdown", "error", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", runErr)
		os.Exit(1)
	}
}

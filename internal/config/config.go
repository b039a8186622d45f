package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "taskgrid.db"
	defaultLocalNodes       = 3
	defaultMappingWorkers   = 64
	defaultFailover         = "always"
	defaultFailoverAttempts = 5

	envListenAddr       = "TASKGRID_LISTEN_ADDR"
	envDBPath           = "TASKGRID_DB_PATH"
	envLogLevel         = "TASKGRID_LOG_LEVEL"
	envNodeID           = "TASKGRID_NODE_ID"
	envLocalNodes       = "TASKGRID_LOCAL_NODES"
	envMappingWorkers   = "TASKGRID_MAPPING_WORKERS"
	envFailover         = "TASKGRID_FAILOVER"
	envFailoverAttempts = "TASKGRID_FAILOVER_ATTEMPTS"
	envShutdownCancel   = "TASKGRID_SHUTDOWN_CANCEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// NodeID names the engine's node. Empty means generate one.
	NodeID string
	// LocalNodes is the number of in-process worker nodes.
	LocalNodes     int
	MappingWorkers int
	// Failover is the failover policy name, "never" or "always".
	Failover         string
	FailoverAttempts int
	// ShutdownCancel cancels running tasks on shutdown instead of draining.
	ShutdownCancel bool
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values fall back to the default.
func Load() Config {
	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		LocalNodes:       defaultLocalNodes,
		MappingWorkers:   defaultMappingWorkers,
		Failover:         defaultFailover,
		FailoverAttempts: defaultFailoverAttempts,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.NodeID = os.Getenv(envNodeID)
	cfg.LocalNodes = parsePositive(os.Getenv(envLocalNodes), cfg.LocalNodes)
	cfg.MappingWorkers = parsePositive(os.Getenv(envMappingWorkers), cfg.MappingWorkers)
	cfg.FailoverAttempts = parsePositive(os.Getenv(envFailoverAttempts), cfg.FailoverAttempts)
	if v := strings.ToLower(os.Getenv(envFailover)); v == "never" || v == "always" {
		cfg.Failover = v
	}
	if b, err := strconv.ParseBool(os.Getenv(envShutdownCancel)); err == nil {
		cfg.ShutdownCancel = b
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parsePositive(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

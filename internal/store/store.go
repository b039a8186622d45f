package store

import (
	"context"
	"errors"

	"github.com/seantiz/taskgrid/internal/model"
)

// ErrInvalidTransition is returned when a task state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// TaskStats holds aggregate execution statistics.
type TaskStats struct {
	Total          int            `json:"total"`
	CountByState   map[string]int `json:"count_by_state"`
	CountByTask    map[string]int `json:"count_by_task"`
	TotalFailovers int            `json:"total_failovers"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for task history.
type Store interface {
	CreateTask(ctx context.Context, r *model.TaskRecord) error
	GetTask(ctx context.Context, sessionID string) (*model.TaskRecord, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskRecord, int, error)
	FinishTask(ctx context.Context, r *model.TaskRecord) error
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/taskgrid/internal/model"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    session_id  TEXT PRIMARY KEY,
    task_name   TEXT NOT NULL,
    state       TEXT NOT NULL,
    origin_node TEXT NOT NULL,
    principal   TEXT NOT NULL DEFAULT '',
    job_count   INTEGER NOT NULL DEFAULT 0,
    failovers   INTEGER NOT NULL DEFAULT 0,
    result      BLOB,
    error       TEXT NOT NULL DEFAULT '',
    timeout_ms  INTEGER,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createTasksNameIndex = `CREATE INDEX IF NOT EXISTS idx_tasks_task_name ON tasks (task_name)`

const taskColumns = `session_id, task_name, state, origin_node, principal,
	job_count, failovers, result, error, timeout_ms, duration_ms,
	created_at, finished_at`

// ErrNotFound is returned when a task is not found.
var ErrNotFound = errors.New("task not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A private in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTasksTable, createTasksNameIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate tasks table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.TaskRecord, error) {
	r := &model.TaskRecord{}
	err := row.Scan(
		&r.SessionID, &r.TaskName, &r.State, &r.OriginNode, &r.Principal,
		&r.JobCount, &r.Failovers, &r.Result, &r.Error, &r.TimeoutMS, &r.DurationMS,
		&r.CreatedAt, &r.FinishedAt,
	)
	return r, err
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, r *model.TaskRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.TaskName, r.State, r.OriginNode, r.Principal,
		r.JobCount, r.Failovers, r.Result, r.Error, r.TimeoutMS, r.DurationMS,
		r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by session ID.
func (s *SQLiteStore) GetTask(ctx context.Context, sessionID string) (*model.TaskRecord, error) {
	r, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE session_id = ?`, sessionID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r, nil
}

// ListTasks returns a paginated list of tasks ordered by created_at DESC,
// along with the total count of all tasks.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, session_id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.TaskRecord
	for rows.Next() {
		r, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, total, nil
}

// FinishTask records the terminal outcome of a task. The stored state must
// not be terminal yet and the new state must be.
func (s *SQLiteStore) FinishTask(ctx context.Context, r *model.TaskRecord) error {
	if !model.IsTerminal(r.State) {
		return fmt.Errorf("finish task in state %q: %w", r.State, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT state FROM tasks WHERE session_id = ?", r.SessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task state: %w", err)
	}
	if model.IsTerminal(current) {
		return fmt.Errorf("%s -> %s: %w", current, r.State, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET state = ?, job_count = ?, failovers = ?, result = ?, error = ?,
			duration_ms = ?, finished_at = ?
		WHERE session_id = ?`,
		r.State, r.JobCount, r.Failovers, r.Result, r.Error,
		r.DurationMS, r.FinishedAt, r.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetTaskStats returns aggregate statistics over all recorded tasks.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		CountByState: make(map[string]int),
		CountByTask:  make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(failovers), 0), AVG(duration_ms) FROM tasks",
	).Scan(&stats.Total, &stats.TotalFailovers, &avg); err != nil {
		return nil, fmt.Errorf("aggregate tasks: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := countBy(ctx, tx, "state", stats.CountByState); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "task_name", stats.CountByTask); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column, which must be a
// trusted column name.
func countBy(ctx context.Context, tx *sql.Tx, column string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM tasks GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count tasks by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

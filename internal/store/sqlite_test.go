package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/taskgrid/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestTask() *model.TaskRecord {
	timeout := int64(30000)
	return &model.TaskRecord{
		SessionID:  model.NewID(),
		TaskName:   "sum",
		State:      model.StateSubmitted,
		OriginNode: "node-a",
		Principal:  "alice",
		TimeoutMS:  &timeout,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func finishRecord(r *model.TaskRecord, state string, durMS int) *model.TaskRecord {
	now := time.Now().UTC().Truncate(time.Second)
	done := *r
	done.State = state
	done.JobCount = 3
	done.DurationMS = &durMS
	done.FinishedAt = &now
	return &done
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()

	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}

	if got.SessionID != r.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, r.SessionID)
	}
	if got.TaskName != r.TaskName {
		t.Errorf("TaskName = %q, want %q", got.TaskName, r.TaskName)
	}
	if got.State != model.StateSubmitted {
		t.Errorf("State = %q, want %q", got.State, model.StateSubmitted)
	}
	if got.Principal != "alice" {
		t.Errorf("Principal = %q, want alice", got.Principal)
	}
	if got.TimeoutMS == nil || *got.TimeoutMS != 30000 {
		t.Errorf("TimeoutMS = %v, want 30000", got.TimeoutMS)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask error = %v, want ErrNotFound", err)
	}
}

func TestCreateTaskDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()

	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.CreateTask(ctx, r); err == nil {
		t.Error("expected error inserting duplicate session id")
	}
}

func TestListTasksPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		r := makeTestTask()
		r.CreatedAt = r.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := s.CreateTask(ctx, r); err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}
	}

	page, total, err := s.ListTasks(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}

	rest, _, err := s.ListTasks(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListTasks offset: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("len(rest) = %d, want 1", len(rest))
	}
}

func TestListTasksOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := range 3 {
		r := makeTestTask()
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateTask(ctx, r); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		ids = append(ids, r.SessionID)
	}

	tasks, _, err := s.ListTasks(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if tasks[i].SessionID != want {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].SessionID, want)
		}
	}
}

func TestListTasksEmpty(t *testing.T) {
	s := newTestStore(t)

	tasks, total, err := s.ListTasks(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(tasks) != 0 {
		t.Errorf("len(tasks) = %d, want 0", len(tasks))
	}
}

func TestFinishTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()
	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	done := finishRecord(r, model.StateSucceeded, 120)
	done.Result = []byte(`42`)
	done.Failovers = 1
	if err := s.FinishTask(ctx, done); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	got, err := s.GetTask(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != model.StateSucceeded {
		t.Errorf("State = %q, want %q", got.State, model.StateSucceeded)
	}
	if string(got.Result) != "42" {
		t.Errorf("Result = %q, want 42", got.Result)
	}
	if got.JobCount != 3 || got.Failovers != 1 {
		t.Errorf("JobCount, Failovers = %d, %d, want 3, 1", got.JobCount, got.Failovers)
	}
	if got.DurationMS == nil || *got.DurationMS != 120 {
		t.Errorf("DurationMS = %v, want 120", got.DurationMS)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestFinishTaskWithError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()
	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	done := finishRecord(r, model.StateFailed, 10)
	done.Error = "job failed: boom"
	if err := s.FinishTask(ctx, done); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	got, err := s.GetTask(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Error != "job failed: boom" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.Result != nil {
		t.Errorf("Result = %q, want nil", got.Result)
	}
}

func TestFinishTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	r := finishRecord(makeTestTask(), model.StateSucceeded, 1)

	if err := s.FinishTask(context.Background(), r); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishTask error = %v, want ErrNotFound", err)
	}
}

func TestFinishTaskRequiresTerminalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()
	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	for _, state := range []string{model.StateSubmitted, model.StateMapped, model.StateAwaitingResults, model.StateReducing} {
		t.Run(state, func(t *testing.T) {
			done := finishRecord(r, state, 1)
			if err := s.FinishTask(ctx, done); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("FinishTask(%s) error = %v, want ErrInvalidTransition", state, err)
			}
		})
	}
}

func TestFinishTaskTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestTask()
	if err := s.CreateTask(ctx, r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.FinishTask(ctx, finishRecord(r, model.StateCancelled, 5)); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	err := s.FinishTask(ctx, finishRecord(r, model.StateSucceeded, 5))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second FinishTask error = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetTask(ctx, r.SessionID)
	if got.State != model.StateCancelled {
		t.Errorf("State = %q, want %q", got.State, model.StateCancelled)
	}
}

func TestGetTaskStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcomes := []struct {
		name  string
		state string
		dur   int
	}{
		{"sum", model.StateSucceeded, 100},
		{"sum", model.StateSucceeded, 200},
		{"broadcast", model.StateFailed, 300},
		{"broadcast", "", 0},
	}
	for i, o := range outcomes {
		r := makeTestTask()
		r.TaskName = o.name
		if err := s.CreateTask(ctx, r); err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}
		if o.state == "" {
			continue
		}
		done := finishRecord(r, o.state, o.dur)
		done.Failovers = i
		if err := s.FinishTask(ctx, done); err != nil {
			t.Fatalf("FinishTask %d: %v", i, err)
		}
	}

	stats, err := s.GetTaskStats(ctx)
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.CountByState[model.StateSucceeded] != 2 {
		t.Errorf("succeeded = %d, want 2", stats.CountByState[model.StateSucceeded])
	}
	if stats.CountByState[model.StateFailed] != 1 {
		t.Errorf("failed = %d, want 1", stats.CountByState[model.StateFailed])
	}
	if stats.CountByState[model.StateSubmitted] != 1 {
		t.Errorf("submitted = %d, want 1", stats.CountByState[model.StateSubmitted])
	}
	if stats.CountByTask["sum"] != 2 || stats.CountByTask["broadcast"] != 2 {
		t.Errorf("CountByTask = %v", stats.CountByTask)
	}
	if stats.TotalFailovers != 3 {
		t.Errorf("TotalFailovers = %d, want 3", stats.TotalFailovers)
	}
	if stats.AvgDurationMS != 200 {
		t.Errorf("AvgDurationMS = %f, want 200", stats.AvgDurationMS)
	}
}

func TestGetTaskStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetTaskStats(context.Background())
	if err != nil {
		t.Fatalf("GetTaskStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("AvgDurationMS = %f, want 0", stats.AvgDurationMS)
	}
	if len(stats.CountByState) != 0 {
		t.Errorf("CountByState = %v, want empty", stats.CountByState)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	path := fmt.Sprintf("%s/tasks.db", t.TempDir())

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	r := makeTestTask()
	if err := s1.CreateTask(context.Background(), r); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetTask(context.Background(), r.SessionID); err != nil {
		t.Errorf("GetTask after reopen: %v", err)
	}
}

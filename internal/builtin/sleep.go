package builtin

import (
	"context"
	"time"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/task"
)

// SleepArgs is the argument of the sleep task.
type SleepArgs struct {
	DurationMS int64 `json:"duration_ms"`
	Jobs       int   `json:"jobs,omitempty"`
}

// Sleep runs jobs that wait for a duration or until cancelled. Its mapping
// runs asynchronously.
func Sleep() *task.Definition {
	return &task.Definition{
		Name:         SleepTask,
		AsyncMapping: true,
		Task: task.Funcs{
			SplitFunc: func(_ context.Context, arg any, nodes []cluster.Node) ([]task.Mapping, error) {
				var args SleepArgs
				if err := decode(arg, &args); err != nil {
					return nil, err
				}
				n := args.Jobs
				if n <= 0 {
					n = len(nodes)
				}
				d := time.Duration(args.DurationMS) * time.Millisecond
				mappings := make([]task.Mapping, n)
				for i := range mappings {
					mappings[i] = task.Mapping{Job: sleepJob(d)}
				}
				return mappings, nil
			},
			ReduceFunc: func(_ context.Context, results []task.JobResult) (any, error) {
				return len(results), nil
			},
		},
	}
}

func sleepJob(d time.Duration) task.Job {
	return task.JobFunc(func(ctx context.Context, _ task.JobSession) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return d.Milliseconds(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

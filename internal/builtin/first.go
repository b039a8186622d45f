package builtin

import (
	"context"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/task"
)

// First asks every node for its id and reduces as soon as one answers.
// The slower jobs are cancelled.
func First() *task.Definition {
	return &task.Definition{
		Name: FirstTask,
		Task: task.Funcs{
			SplitFunc: func(_ context.Context, _ any, nodes []cluster.Node) ([]task.Mapping, error) {
				mappings := make([]task.Mapping, 0, len(nodes))
				for _, n := range nodes {
					mappings = append(mappings, task.Mapping{Node: n.ID, Job: task.JobFunc(func(context.Context, task.JobSession) (any, error) {
						return n.ID, nil
					})})
				}
				return mappings, nil
			},
			ResultFunc: task.ReduceAfter(1),
			ReduceFunc: func(_ context.Context, results []task.JobResult) (any, error) {
				return results[0].Value, nil
			},
		},
	}
}

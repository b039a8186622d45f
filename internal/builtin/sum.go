package builtin

import (
	"context"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/task"
)

// SumArgs is the argument of the sum task.
type SumArgs struct {
	Numbers []int64 `json:"numbers"`
	// Chunks defaults to the number of live nodes.
	Chunks int `json:"chunks,omitempty"`
}

// Sum adds numbers by summing chunks on separate nodes.
func Sum() *task.Definition {
	return &task.Definition{
		Name: SumTask,
		Task: task.Funcs{
			SplitFunc:  splitSum,
			ReduceFunc: reduceSum,
		},
	}
}

func splitSum(_ context.Context, arg any, nodes []cluster.Node) ([]task.Mapping, error) {
	var args SumArgs
	if err := decode(arg, &args); err != nil {
		return nil, err
	}
	chunks := args.Chunks
	if chunks <= 0 {
		chunks = len(nodes)
	}
	chunks = min(chunks, len(args.Numbers))

	mappings := make([]task.Mapping, 0, chunks)
	size := (len(args.Numbers) + chunks - 1) / max(chunks, 1)
	for start := 0; start < len(args.Numbers); start += size {
		part := args.Numbers[start:min(start+size, len(args.Numbers))]
		mappings = append(mappings, task.Mapping{Job: task.JobFunc(func(context.Context, task.JobSession) (any, error) {
			var total int64
			for _, n := range part {
				total += n
			}
			return total, nil
		})})
	}
	return mappings, nil
}

func reduceSum(_ context.Context, results []task.JobResult) (any, error) {
	var total int64
	for _, r := range results {
		total += r.Value.(int64)
	}
	return total, nil
}

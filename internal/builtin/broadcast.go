package builtin

import (
	"context"
	"fmt"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/task"
)

// MessageAttribute is the session attribute broadcast jobs wait for.
const MessageAttribute = "message"

// Broadcast runs one job on every node. Each job waits until the
// "message" session attribute is set and acknowledges it. The result maps
// node ids to acknowledgements.
func Broadcast() *task.Definition {
	return &task.Definition{
		Name:        BroadcastTask,
		SessionFull: true,
		Task: task.Funcs{
			SplitFunc: func(_ context.Context, _ any, nodes []cluster.Node) ([]task.Mapping, error) {
				mappings := make([]task.Mapping, 0, len(nodes))
				for _, n := range nodes {
					mappings = append(mappings, task.Mapping{Node: n.ID, Job: ackJob(n.ID)})
				}
				return mappings, nil
			},
			ReduceFunc: func(_ context.Context, results []task.JobResult) (any, error) {
				acks := make(map[string]string, len(results))
				for _, r := range results {
					acks[r.Node] = r.Value.(string)
				}
				return acks, nil
			},
		},
	}
}

func ackJob(node string) task.Job {
	return task.JobFunc(func(ctx context.Context, s task.JobSession) (any, error) {
		msg, err := s.WaitAttribute(ctx, MessageAttribute)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s received %v", node, msg), nil
	})
}

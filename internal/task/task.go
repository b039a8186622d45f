package task

import (
	"context"

	"github.com/google/uuid"

	"github.com/seantiz/taskgrid/internal/cluster"
)

// ResultPolicy tells the engine what to do after a job result arrives.
type ResultPolicy int

const (
	// Wait keeps collecting until every job has reported.
	Wait ResultPolicy = iota
	// Reduce stops early and reduces the results received so far. Responses
	// from the remaining jobs are ignored.
	Reduce
)

// String returns the policy name.
func (p ResultPolicy) String() string {
	switch p {
	case Wait:
		return "wait"
	case Reduce:
		return "reduce"
	default:
		return "unknown"
	}
}

// Job is one node-assigned piece of a task's work.
type Job interface {
	Execute(ctx context.Context, s JobSession) (any, error)
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context, s JobSession) (any, error)

// Execute calls f.
func (f JobFunc) Execute(ctx context.Context, s JobSession) (any, error) {
	return f(ctx, s)
}

// Mapping assigns a job to a node. An empty Node lets the load balancer pick.
type Mapping struct {
	Job  Job
	Node string
}

// JobResult is the outcome of one job as seen by the task.
type JobResult struct {
	JobID string
	Node  string
	Value any
	Err   error
}

// Task is a splittable unit of work producing one final result.
type Task interface {
	// Split produces the jobs for arg given the live nodes.
	Split(ctx context.Context, arg any, nodes []cluster.Node) ([]Mapping, error)
	// Result is called for every successful job result, with all results
	// received so far (res included).
	Result(res JobResult, received []JobResult) ResultPolicy
	// Reduce folds the collected results into the task's value.
	Reduce(ctx context.Context, results []JobResult) (any, error)
}

// Funcs builds a Task from functions. A nil ResultFunc waits for all jobs.
type Funcs struct {
	SplitFunc  func(ctx context.Context, arg any, nodes []cluster.Node) ([]Mapping, error)
	ResultFunc func(res JobResult, received []JobResult) ResultPolicy
	ReduceFunc func(ctx context.Context, results []JobResult) (any, error)
}

// Split calls SplitFunc.
func (f Funcs) Split(ctx context.Context, arg any, nodes []cluster.Node) ([]Mapping, error) {
	return f.SplitFunc(ctx, arg, nodes)
}

// Result calls ResultFunc, defaulting to Wait.
func (f Funcs) Result(res JobResult, received []JobResult) ResultPolicy {
	if f.ResultFunc == nil {
		return Wait
	}
	return f.ResultFunc(res, received)
}

// Reduce calls ReduceFunc. A nil ReduceFunc reduces to nil.
func (f Funcs) Reduce(ctx context.Context, results []JobResult) (any, error) {
	if f.ReduceFunc == nil {
		return nil, nil
	}
	return f.ReduceFunc(ctx, results)
}

// ReduceAfter returns a result policy that reduces once n results arrived.
func ReduceAfter(n int) func(JobResult, []JobResult) ResultPolicy {
	return func(_ JobResult, received []JobResult) ResultPolicy {
		if len(received) >= n {
			return Reduce
		}
		return Wait
	}
}

// Definition is a deployable task together with its declared traits.
type Definition struct {
	Name string
	Task Task

	// AsyncMapping runs split and dispatch on the engine's mapping pool
	// instead of the submitting goroutine.
	AsyncMapping bool
	// SessionFull enables attribute propagation between the task and its jobs.
	SessionFull bool
	// Internal tasks are not counted as completed user tasks.
	Internal bool
}

// NewJobID generates an identifier for a dispatched job.
func NewJobID() string {
	return uuid.NewString()
}

package task

import "context"

// JobSession is the view of the task session available to a running job.
type JobSession interface {
	SessionID() string
	JobID() string
	TaskName() string

	// Attribute returns the current value of key.
	Attribute(key string) (any, bool)
	// Attributes returns a copy of all attributes.
	Attributes() map[string]any
	// WaitAttribute blocks until key is set or ctx is done.
	WaitAttribute(ctx context.Context, key string) (any, error)
	// SetAttributes publishes attrs to the task, which merges them into the
	// session and propagates them to every pending sibling.
	SetAttributes(ctx context.Context, attrs map[string]any) error

	// Siblings returns the job ids of all jobs of the task.
	Siblings() []string
}

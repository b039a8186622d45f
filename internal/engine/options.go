package engine

import (
	"log/slog"
	"time"

	"github.com/seantiz/taskgrid/internal/cluster"
	"github.com/seantiz/taskgrid/internal/deploy"
	"github.com/seantiz/taskgrid/internal/failover"
	"github.com/seantiz/taskgrid/internal/security"
	"github.com/seantiz/taskgrid/internal/task"
	"github.com/seantiz/taskgrid/internal/transport"
)

// DefaultMappingWorkers bounds concurrent asynchronous split+dispatch runs.
const DefaultMappingWorkers = 64

// fanoutLimit bounds concurrent sends of one broadcast.
const fanoutLimit = 16

// SubmissionOptions tune a single submission.
type SubmissionOptions struct {
	// Timeout is the task deadline. Zero or negative means no deadline.
	Timeout time.Duration
	// NoFailover fails the task on the first job failure.
	NoFailover bool
	// Nodes restricts split and failover to these node ids.
	Nodes []string
	// Principal is checked by the authorizer.
	Principal string
	// Attributes seed the task session.
	Attributes map[string]any
}

// Resolver resolves task references to deployment handles.
type Resolver interface {
	Resolve(ref task.Ref) (*deploy.Handle, error)
}

// Config holds the collaborators of an Engine. NodeID, Membership, Transport
// and Resolver are required.
type Config struct {
	NodeID       string
	Membership   cluster.Membership
	Transport    transport.Transport
	Resolver     Resolver
	Authorizer   security.Authorizer
	LoadBalancer cluster.LoadBalancer
	Failover     failover.Policy
	Sink         EventSink
	// MappingWorkers bounds tasks with asynchronous mapping that may be
	// splitting at once; further submissions are rejected.
	MappingWorkers int
	Logger         *slog.Logger
}

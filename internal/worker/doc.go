// Package worker implements the node side of job execution. An Agent
// receives dispatched jobs for its node, runs each one with a session view
// kept current by ordered attribute updates, honours cancel notices, and
// reports the outcome back to the task's node on the job topic.
package worker

// Package engine provides the distributed task execution engine.
//
// An Engine admits task submissions, splits each task into jobs against the
// live topology, dispatches the jobs to grid nodes over the transport, and
// drives every submission through its Execution state machine:
//
//	submitted → mapped → awaiting_results → reducing → succeeded
//	                                                  ↘ failed | cancelled
//
// Job failures and departed nodes are offered to the failover coordinator
// before the execution fails. Deadlines, explicit cancellation and engine
// shutdown end executions early. Session attributes are propagated to every
// pending job with per-destination ordering ids reserved atomically with the
// sibling enumeration.
package engine

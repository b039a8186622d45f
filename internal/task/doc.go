// Package task defines the contract between task authors and the engine.
//
// A task is split into jobs against the live topology, each job runs on one
// node, and the task reduces the collected job results into a single value.
// Jobs see the shared session of their task through JobSession.
package task

// Package cluster models the grid topology: the live node set with its
// version, the membership events emitted when nodes join or leave, and the
// load balancer contract used to place jobs on nodes at first dispatch.
package cluster

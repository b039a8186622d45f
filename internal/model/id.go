package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string used as a task session identifier.
// ULIDs sort by creation time, so session ids order the task history.
func NewID() string {
	return ulid.Make().String()
}

// NewNodeID generates an identifier for a cluster node.
func NewNodeID() string {
	return "node-" + strings.ToLower(ulid.Make().String())
}

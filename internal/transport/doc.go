// Package transport carries engine messages between grid nodes.
//
// Messages are addressed to a node and tagged with a topic. A message with a
// non-zero ID is ordered: the receiver applies messages of one topic in ID
// order no matter in which order they were sent, and IDs are reserved from
// NextMessageID, which is strictly increasing per topic and destination.
package transport

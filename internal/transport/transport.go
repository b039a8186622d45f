package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnknownNode is returned when sending to a node that is not listening.
	ErrUnknownNode = errors.New("unknown node")
	// ErrAlreadyListening is returned when a node id is registered twice.
	ErrAlreadyListening = errors.New("node already listening")
)

// Message is one unit of delivery.
type Message struct {
	Topic string
	From  string
	To    string
	// ID orders messages per (Topic, To). Zero means unordered.
	ID      uint64
	Payload any
}

// Handler consumes messages delivered to a node. Handlers of one node are
// called sequentially.
type Handler func(msg Message)

// Transport is the messaging contract the engine and the workers rely on.
type Transport interface {
	// Send delivers msg to msg.To. It does not wait for the handler.
	Send(ctx context.Context, msg Message) error
	// NextMessageID reserves the next ordering id for (topic, to).
	NextMessageID(topic, to string) uint64
	// Listen registers h for messages addressed to nodeID.
	Listen(nodeID string, h Handler) (stop func(), err error)
}

// JobTopic is the topic job requests, responses and cancel notices travel on.
func JobTopic(jobID string) string {
	return "job/" + jobID
}

// TaskTopic is the topic session attributes and session-closed notes travel on.
func TaskTopic(sessionID string) string {
	return "task/" + sessionID
}

// Fanout returns a handler that passes every message to each of hs in order.
// It lets several components share one node endpoint.
func Fanout(hs ...Handler) Handler {
	return func(msg Message) {
		for _, h := range hs {
			h(msg)
		}
	}
}

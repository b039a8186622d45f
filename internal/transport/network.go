package transport

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface satisfaction check.
var _ Transport = (*Network)(nil)

type seqKey struct {
	topic string
	to    string
}

// Network is an in-process Transport connecting the nodes of one process.
// Each node has a mailbox drained by its own goroutine, so a handler may send
// without blocking the sender. It is safe for concurrent use.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	seq       map[seqKey]uint64
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*endpoint),
		seq:       make(map[seqKey]uint64),
	}
}

// NextMessageID reserves the next ordering id for (topic, to). Ids start at 1.
func (n *Network) NextMessageID(topic, to string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	k := seqKey{topic: topic, to: to}
	n.seq[k]++
	return n.seq[k]
}

// Listen registers h as the handler of nodeID.
func (n *Network) Listen(nodeID string, h Handler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[nodeID]; ok {
		return nil, fmt.Errorf("listen %s: %w", nodeID, ErrAlreadyListening)
	}
	// A fresh endpoint expects ids from 1 again.
	for k := range n.seq {
		if k.to == nodeID {
			delete(n.seq, k)
		}
	}

	ep := newEndpoint(h)
	n.endpoints[nodeID] = ep
	go ep.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if n.endpoints[nodeID] == ep {
				delete(n.endpoints, nodeID)
			}
			n.mu.Unlock()
			ep.close()
		})
	}, nil
}

// Send queues msg on the destination's mailbox.
func (n *Network) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	ep, ok := n.endpoints[msg.To]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("send %s to %s: %w", msg.Topic, msg.To, ErrUnknownNode)
	}

	ep.enqueue(msg)
	return nil
}

// endpoint is the receiving side of one node.
type endpoint struct {
	handler Handler

	mu       sync.Mutex
	queue    []Message
	expected map[string]uint64
	held     map[string]map[uint64]Message
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func newEndpoint(h Handler) *endpoint {
	return &endpoint{
		handler:  h,
		expected: make(map[string]uint64),
		held:     make(map[string]map[uint64]Message),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// enqueue appends msg to the mailbox. Ordered messages that arrive ahead of
// their turn are held back until the gap is filled; stale ids are dropped.
func (e *endpoint) enqueue(msg Message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	if msg.ID == 0 {
		e.queue = append(e.queue, msg)
	} else {
		next, ok := e.expected[msg.Topic]
		if !ok {
			next = 1
		}
		switch {
		case msg.ID == next:
			e.queue = append(e.queue, msg)
			next++
			held := e.held[msg.Topic]
			for {
				m, ok := held[next]
				if !ok {
					break
				}
				delete(held, next)
				e.queue = append(e.queue, m)
				next++
			}
			if len(held) == 0 {
				delete(e.held, msg.Topic)
			}
			e.expected[msg.Topic] = next
		case msg.ID > next:
			if e.held[msg.Topic] == nil {
				e.held[msg.Topic] = make(map[uint64]Message)
			}
			e.held[msg.Topic][msg.ID] = msg
			e.expected[msg.Topic] = next
		}
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *endpoint) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}

		for {
			e.mu.Lock()
			batch := e.queue
			e.queue = nil
			e.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, m := range batch {
				select {
				case <-e.done:
					return
				default:
				}
				e.handler(m)
			}
		}
	}
}

func (e *endpoint) close() {
	e.mu.Lock()
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	close(e.done)
}

// Package protocol defines the tagged messages exchanged across the
// isolation boundary between a checkout surface and the controller
// embedding it, plus the conduit that carries them.
package protocol

import "sync"

// Message types understood by the gateway controller. Unknown types are
// dropped by receivers, never treated as errors.
const (
	TypePaymentSuccess = "payment.success"
	TypePaymentFailed  = "payment.failed"
	TypeCloseModal     = "close_modal"
)

// Message is the tagged event crossing the boundary. It exists only in
// transit; neither side retains it after dispatch.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Conduit is a capability-bound message channel. Exactly one surface
// posts into it and exactly one controller receives from it; a
// controller only honours messages arriving on a conduit it created
// itself, so possession of the conduit is the proof of origin.
type Conduit struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewConduit constructs a conduit with a small delivery buffer.
func NewConduit() *Conduit {
	return &Conduit{ch: make(chan Message, 8)}
}

// Post delivers a message to the subscriber. Posting never blocks: when
// the conduit is closed or the buffer is full the message is dropped and
// Post reports false. A surface outliving its controller therefore fails
// silently, matching the close-while-in-flight contract.
func (c *Conduit) Post(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}

// Receive exposes the subscriber side of the conduit. The channel is
// closed when the conduit is closed.
func (c *Conduit) Receive() <-chan Message {
	return c.ch
}

// Close tears down the conduit. Safe to call more than once.
func (c *Conduit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Closed reports whether the conduit has been torn down.
func (c *Conduit) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

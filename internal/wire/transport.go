package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnreachable is returned when no endpoint is known for the target.
var ErrUnreachable = errors.New("agent unreachable")

// ErrClosed is returned by a closed transport.
var ErrClosed = errors.New("transport closed")

// Handler receives inbound messages. Transports call it from their own
// goroutines; handlers must not block.
type Handler func(m *Message)

// Transport delivers messages between named agents.
type Transport interface {
	// Send delivers m to the agent named to.
	Send(ctx context.Context, to string, m *Message) error
	// SetHandler installs the inbound handler. Messages received before a
	// handler is set are dropped.
	SetHandler(h Handler)
	// Close releases the transport's resources.
	Close() error
}

// MemoryNetwork connects in-process transports by agent name. Every message
// goes through Encode and Decode so in-memory runs exercise the codec.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryTransport
	down      map[string]bool
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[string]*MemoryTransport),
		down:      make(map[string]bool),
	}
}

// Join creates the transport of agent name.
func (n *MemoryNetwork) Join(name string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &MemoryTransport{net: n, name: name}
	n.endpoints[name] = t
	return t
}

// SetDown makes sends to name fail (down=true) or succeed again.
func (n *MemoryNetwork) SetDown(name string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[name] = down
}

func (n *MemoryNetwork) lookup(name string) (*MemoryTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.down[name] {
		return nil, false
	}
	t, ok := n.endpoints[name]
	return t, ok
}

func (n *MemoryNetwork) leave(name string, t *MemoryTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[name] == t {
		delete(n.endpoints, name)
	}
}

// MemoryTransport is one agent's endpoint on a MemoryNetwork.
type MemoryTransport struct {
	net  *MemoryNetwork
	name string

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// Send implements Transport. Delivery is synchronous: the receiver's
// handler has run when Send returns.
func (t *MemoryTransport) Send(ctx context.Context, to string, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}
	peer, ok := t.net.lookup(to)
	if !ok {
		return fmt.Errorf("send %s to %s: %w", m.Kind, to, ErrUnreachable)
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	peer.deliver(decoded)
	return nil
}

func (t *MemoryTransport) deliver(m *Message) {
	t.mu.RLock()
	h := t.handler
	closed := t.closed
	t.mu.RUnlock()
	if h != nil && !closed {
		h(m)
	}
}

// SetHandler implements Transport.
func (t *MemoryTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.net.leave(t.name, t)
	return nil
}

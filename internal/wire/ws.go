package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSTransport carries messages over websocket connections. It is an
// http.Handler for inbound peers and dials known peers on first send.
// A connection, once open, is used in both directions: a peer that dialed
// us is answered on its own connection.
type WSTransport struct {
	name   string
	logger *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	peers   map[string]string
	conns   map[string]*wsConn
	open    map[*wsConn]struct{}
	handler Handler
	closed  bool
	wg      sync.WaitGroup
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// WSOption configures a WSTransport.
type WSOption func(*WSTransport)

// WithWSLogger sets the transport logger.
func WithWSLogger(l *slog.Logger) WSOption {
	return func(t *WSTransport) { t.logger = l }
}

// WithPeers sets the initial directory of peer websocket URLs.
func WithPeers(peers map[string]string) WSOption {
	return func(t *WSTransport) {
		for name, url := range peers {
			t.peers[name] = url
		}
	}
}

// NewWSTransport creates the transport of agent name.
func NewWSTransport(name string, opts ...WSOption) *WSTransport {
	t := &WSTransport{
		name:   name,
		logger: slog.Default(),
		dialer: websocket.DefaultDialer,
		peers:  make(map[string]string),
		conns:  make(map[string]*wsConn),
		open:   make(map[*wsConn]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddPeer records the websocket URL of a peer.
func (t *WSTransport) AddPeer(name, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[name] = url
}

// SetHandler implements Transport.
func (t *WSTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// ServeHTTP upgrades an inbound peer connection and reads from it until it
// closes.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("failed to upgrade the websocket", "agent", t.name, "error", err)
		return
	}
	c := &wsConn{ws: ws}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ws.Close()
		return
	}
	t.open[c] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	t.readLoop(c, "")
}

// Send implements Transport.
func (t *WSTransport) Send(ctx context.Context, to string, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c, err := t.conn(ctx, to)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", m.Kind, to, err)
	}
	if err := c.write(data); err != nil {
		t.logger.Warn("failed to write websocket message", "agent", t.name, "peer", to, "error", err)
		t.drop(to, c)
		return fmt.Errorf("send %s to %s: %w: %v", m.Kind, to, ErrUnreachable, err)
	}
	return nil
}

func (t *WSTransport) conn(ctx context.Context, to string) (*wsConn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := t.conns[to]; ok {
		t.mu.Unlock()
		return c, nil
	}
	url, ok := t.peers[to]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnreachable
	}

	ws, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	c := &wsConn{ws: ws}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ws.Close()
		return nil, ErrClosed
	}
	if existing, ok := t.conns[to]; ok {
		// Lost a race with another dial or an inbound connection.
		t.mu.Unlock()
		ws.Close()
		return existing, nil
	}
	t.conns[to] = c
	t.open[c] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.readLoop(c, to)
	}()
	return c, nil
}

// readLoop decodes messages from c until it fails. An inbound connection is
// registered under the source name of its first message.
func (t *WSTransport) readLoop(c *wsConn, peer string) {
	defer func() { t.drop(peer, c) }()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			t.logger.Debug("websocket peer disconnected", "agent", t.name, "peer", peer, "error", err)
			return
		}
		m, err := Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed message", "agent", t.name, "peer", peer, "error", err)
			continue
		}
		if peer == "" {
			peer = m.Source
			t.mu.Lock()
			if _, ok := t.conns[peer]; !ok {
				t.conns[peer] = c
			}
			t.mu.Unlock()
		}

		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(m)
		}
	}
}

func (t *WSTransport) drop(peer string, c *wsConn) {
	t.mu.Lock()
	if peer != "" && t.conns[peer] == c {
		delete(t.conns, peer)
	}
	delete(t.open, c)
	t.mu.Unlock()
	c.ws.Close()
}

// Close implements Transport. It closes every connection and waits for the
// read loops to exit.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	open := make([]*wsConn, 0, len(t.open))
	for c := range t.open {
		open = append(open, c)
	}
	t.mu.Unlock()

	for _, c := range open {
		c.ws.Close()
	}
	t.wg.Wait()
	return nil
}

package agent

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/ability/internal/wire"
)

// Peer is a directory entry recorded from a registration.
type Peer struct {
	Name        string
	Address     string
	Incarnation string
}

type peerState struct {
	awaiting uint64 // id of the unanswered ping, 0 when none
	misses   int
	down     bool
}

// peerAdder is implemented by transports that dial peers by address.
type peerAdder interface {
	AddPeer(name, url string)
}

func (a *Agent) acceptRegistration(m *wire.Message) {
	reg := m.Register
	if reg.Name != m.Source {
		a.reply(m.Source, wire.NewRegisterAnswer(m.ID, a.name, false, "name does not match source"))
		return
	}

	a.mu.Lock()
	prev, known := a.directory[reg.Name]
	a.directory[reg.Name] = Peer{Name: reg.Name, Address: reg.Address, Incarnation: reg.Incarnation}
	a.mu.Unlock()

	switch {
	case !known:
		a.logger.Info("peer registered", "peer", reg.Name, "address", reg.Address)
	case prev.Incarnation != reg.Incarnation:
		a.logger.Info("peer restarted", "peer", reg.Name, "incarnation", reg.Incarnation)
	}
	if pa, ok := a.transport.(peerAdder); ok && reg.Address != "" {
		pa.AddPeer(reg.Name, reg.Address)
	}
	a.Watch(reg.Name)
	a.reply(m.Source, wire.NewRegisterAnswer(m.ID, a.name, true, ""))
}

// Directory returns the registered peers sorted by name.
func (a *Agent) Directory() []Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Peer, 0, len(a.directory))
	for _, name := range sortedKeys(a.directory) {
		out = append(out, a.directory[name])
	}
	return out
}

// Watch adds peer to the liveness set. Safe from any goroutine.
func (a *Agent) Watch(peer string) {
	if peer == a.name {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.peers[peer]; !ok {
		a.peers[peer] = &peerState{}
	}
}

// PeerDown reports whether peer missed enough pings to be considered down.
func (a *Agent) PeerDown(peer string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p := a.peers[peer]
	return p != nil && p.down
}

func (a *Agent) startPings() {
	if a.cfg.PingInterval <= 0 || a.pingTimer != nil {
		return
	}
	a.pingTimer = a.loop.AfterFunc(a.cfg.PingInterval, a.pingTick)
}

// pingTick counts the unanswered ping of every watched peer as a miss,
// marks peers down after PingMisses consecutive misses, and sends the next
// round of pings.
func (a *Agent) pingTick() {
	a.mu.Lock()
	names := sortedKeys(a.peers)
	var down []string
	for _, name := range names {
		p := a.peers[name]
		if p.awaiting == 0 {
			continue
		}
		p.misses++
		if p.misses >= a.cfg.PingMisses && !p.down {
			p.down = true
			down = append(down, name)
		}
	}
	a.mu.Unlock()

	for _, name := range down {
		a.markDown(name)
	}

	for _, name := range names {
		a.mu.RLock()
		p := a.peers[name]
		prev := p.awaiting
		a.mu.RUnlock()
		if prev != 0 {
			a.remove(prev)
		}

		id := a.nextID()
		a.put(&entry{id: id, kind: kindPing, peer: name})
		if err := a.send(name, wire.NewPing(id, name), nil); err != nil {
			a.remove(id.ID)
			continue
		}
		a.mu.Lock()
		p.awaiting = id.ID
		a.mu.Unlock()
	}
	a.pingTimer = a.loop.AfterFunc(a.cfg.PingInterval, a.pingTick)
}

func (a *Agent) markDown(peer string) {
	a.metrics.add(a.metrics.peersDown, attribute.String("peer", peer))
	// Pings are not requests; the next round replaces them.
	a.mu.RLock()
	ping := a.peers[peer].awaiting
	a.mu.RUnlock()
	if ping != 0 {
		a.remove(ping)
		a.mu.Lock()
		a.peers[peer].awaiting = 0
		a.mu.Unlock()
	}
	n := a.failPeer(peer)
	a.dropPeerServices(peer)
	a.logger.Warn("peer down", "peer", peer, "misses", a.cfg.PingMisses, "failed_requests", n)
}

func (a *Agent) onPong(m *wire.Message) {
	e := a.lookup(m, kindPing)
	if e == nil {
		a.discard(m)
		return
	}
	a.remove(e.id.ID)

	a.mu.Lock()
	p := a.peers[e.peer]
	wasDown := false
	if p != nil {
		if p.awaiting == e.id.ID {
			p.awaiting = 0
		}
		p.misses = 0
		wasDown = p.down
		p.down = false
	}
	a.mu.Unlock()
	if wasDown {
		a.logger.Info("peer up", "peer", e.peer)
	}
}

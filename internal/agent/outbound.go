package agent

import (
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/wire"
)

type entryKind int

const (
	kindConstraint entryKind = iota
	kindVariable
	kindRegister
	kindPing
)

// entry is one row of the correlation table. It lives until the request's
// answer arrives, or, once an abort was sent, until the abort
// acknowledgement arrives.
type entry struct {
	id   ir.Identifier
	kind entryKind
	peer string

	onAnswer compute.Callback
	answered bool
	aborting bool
	onAck    compute.Callback

	value      *compute.Future[ir.Expr]
	registered *compute.Future[bool]
}

var _ compute.Handle = (*Agent)(nil)

func (a *Agent) put(e *entry) {
	a.table[e.id.ID] = e
	a.outstanding.Store(int64(len(a.table)))
}

func (a *Agent) remove(id uint64) {
	delete(a.table, id)
	a.outstanding.Store(int64(len(a.table)))
}

// lookup returns the entry an inbound answer refers to, or nil when the
// answer is not for a live request of ours.
func (a *Agent) lookup(m *wire.Message, kind entryKind) *entry {
	if m.ID.Agent != a.name {
		return nil
	}
	e := a.table[m.ID.ID]
	if e == nil || e.kind != kind || e.peer != m.Source {
		return nil
	}
	return e
}

// RequestConstraint implements compute.Handle. It must run on the loop.
func (a *Agent) RequestConstraint(peer string, mode ir.ConstraintMode, constraint *ir.Call, onAnswer compute.Callback) (ir.Identifier, error) {
	if a.PeerDown(peer) {
		return ir.Identifier{}, engine.NewPeerDownError(ir.Identifier{}, peer)
	}
	id := a.nextID()
	a.put(&entry{id: id, kind: kindConstraint, peer: peer, onAnswer: onAnswer})

	msg := wire.NewRequestConstraint(id, peer, mode, constraint)
	if err := a.send(peer, msg, a.failOnSend(id, peer)); err != nil {
		a.remove(id.ID)
		return ir.Identifier{}, err
	}
	a.metrics.add(a.metrics.requests,
		attribute.String("kind", string(wire.KindRequestConstraint)),
		attribute.String("mode", string(mode)))
	a.logger.Debug("constraint requested", "request_id", id.String(), "peer", peer, "mode", mode, "constraint", constraint.String())
	return id, nil
}

// SendAbort implements compute.Handle. It must run on the loop. Aborting a
// request that already ended is a no-op: onAck is scheduled with nil.
func (a *Agent) SendAbort(id ir.Identifier, onAck compute.Callback) error {
	e := a.table[id.ID]
	if id.Agent != a.name || e == nil || e.kind != kindConstraint {
		if onAck != nil {
			a.loop.Post(func() { onAck(nil) })
		}
		return nil
	}
	if e.aborting {
		e.onAck = chain(e.onAck, onAck)
		return nil
	}

	if err := a.send(e.peer, wire.NewAbort(id, e.peer), a.failOnSend(id, e.peer)); err != nil {
		return err
	}
	e.aborting = true
	e.onAck = onAck
	a.metrics.add(a.metrics.aborts)
	a.logger.Debug("abort sent", "request_id", id.String(), "peer", e.peer)
	return nil
}

// Forget implements compute.Handle.
func (a *Agent) Forget(id ir.Identifier) {
	if id.Agent != a.name {
		return
	}
	if _, ok := a.table[id.ID]; ok {
		a.remove(id.ID)
	}
}

func chain(first, second compute.Callback) compute.Callback {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(err error) {
		first(err)
		second(err)
	}
}

func (a *Agent) failOnSend(id ir.Identifier, peer string) func(error) {
	return func(err error) {
		a.fail(id.ID, engine.NewTransportError(id, peer, err))
	}
}

// fail ends an entry with err: the request callback (if not yet answered)
// and the abort callback both receive it.
func (a *Agent) fail(id uint64, err error) {
	e := a.table[id]
	if e == nil {
		return
	}
	a.remove(id)
	if !e.answered {
		e.answered = true
		switch e.kind {
		case kindConstraint:
			if e.onAnswer != nil {
				e.onAnswer(err)
			}
		case kindVariable:
			e.value.Reject(err)
		case kindRegister:
			e.registered.Reject(err)
		}
	}
	if e.onAck != nil {
		e.onAck(err)
	}
}

// failPeer fails every request to peer, oldest first.
func (a *Agent) failPeer(peer string) int {
	var ids []uint64
	for id, e := range a.table {
		if e.peer == peer {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e := a.table[id]
		if e == nil {
			continue
		}
		a.fail(id, engine.NewPeerDownError(e.id, peer))
	}
	return len(ids)
}

func answerError(id ir.Identifier, ans *wire.ConstraintAnswer) error {
	switch ans.State {
	case wire.AnswerSuccess:
		return nil
	case wire.AnswerInterrupted:
		return engine.NewInterruptedError(id)
	default:
		return engine.NewFailureError(id, ans.Reason)
	}
}

func (a *Agent) onConstraintAnswer(m *wire.Message) {
	e := a.lookup(m, kindConstraint)
	if e == nil || e.answered {
		a.discard(m)
		return
	}
	e.answered = true
	a.metrics.add(a.metrics.answers, attribute.String("state", string(m.Answer.State)))
	a.logger.Debug("constraint answered", "request_id", m.ID.String(), "state", m.Answer.State)
	if !e.aborting {
		a.remove(e.id.ID)
	}
	if cb := e.onAnswer; cb != nil {
		e.onAnswer = nil
		cb(answerError(m.ID, m.Answer))
	}
}

func (a *Agent) onAbortAck(m *wire.Message) {
	e := a.lookup(m, kindConstraint)
	if e == nil || !e.aborting {
		a.discard(m)
		return
	}
	a.remove(e.id.ID)
	if !e.answered {
		// The remote had nothing left to interrupt; the ack is the only
		// answer we get.
		e.answered = true
		if cb := e.onAnswer; cb != nil {
			e.onAnswer = nil
			cb(engine.NewInterruptedError(m.ID))
		}
	}
	if e.onAck != nil {
		e.onAck(nil)
	}
}

// RequestValue reads variable on peer. It is safe from any goroutine. A
// request to the agent itself is answered locally.
func (a *Agent) RequestValue(peer, variable string) *compute.Future[ir.Expr] {
	f := compute.NewFuture[ir.Expr]()
	if !a.loop.Post(func() { a.requestValue(peer, variable, f) }) {
		f.Reject(compute.ErrLoopStopped)
	}
	return f
}

func (a *Agent) requestValue(peer, variable string, f *compute.Future[ir.Expr]) {
	if peer == a.name {
		v, err := a.readValue(variable)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
		return
	}
	if a.PeerDown(peer) {
		f.Reject(engine.NewPeerDownError(ir.Identifier{}, peer))
		return
	}
	id := a.nextID()
	a.put(&entry{id: id, kind: kindVariable, peer: peer, value: f})
	if err := a.send(peer, wire.NewVarRequest(id, peer, variable), a.failOnSend(id, peer)); err != nil {
		a.remove(id.ID)
		f.Reject(err)
		return
	}
	a.metrics.add(a.metrics.requests, attribute.String("kind", string(wire.KindVarRequest)))
}

func (a *Agent) onVarAnswer(m *wire.Message) {
	e := a.lookup(m, kindVariable)
	if e == nil {
		a.discard(m)
		return
	}
	a.remove(e.id.ID)
	e.answered = true
	ans := m.VarAnswer
	switch {
	case ans.Error != "":
		e.value.Reject(&engine.RuntimeError{Code: engine.ErrCodeNotFound, Message: ans.Error, Request: m.ID})
	case ans.Value.Expr == nil:
		e.value.Reject(engine.NewNotFoundError("variable", ans.Variable))
	default:
		e.value.Resolve(ans.Value.Expr)
	}
}

// Register announces this agent to peer. The future resolves to true once
// the peer accepted the registration. Safe from any goroutine.
func (a *Agent) Register(peer string) *compute.Future[bool] {
	f := compute.NewFuture[bool]()
	if !a.loop.Post(func() { a.register(peer, f) }) {
		f.Reject(compute.ErrLoopStopped)
	}
	return f
}

func (a *Agent) register(peer string, f *compute.Future[bool]) {
	id := a.nextID()
	a.put(&entry{id: id, kind: kindRegister, peer: peer, registered: f})
	msg := wire.NewRegister(id, peer, a.cfg.Address, a.incarnation)
	if err := a.send(peer, msg, a.failOnSend(id, peer)); err != nil {
		a.remove(id.ID)
		f.Reject(err)
		return
	}
	a.metrics.add(a.metrics.requests, attribute.String("kind", string(wire.KindRegister)))
}

func (a *Agent) onRegisterAnswer(m *wire.Message) {
	e := a.lookup(m, kindRegister)
	if e == nil {
		a.discard(m)
		return
	}
	a.remove(e.id.ID)
	e.answered = true
	if !m.RegAnswer.OK {
		e.registered.Reject(engine.NewFailureError(m.ID, m.RegAnswer.Reason))
		return
	}
	a.logger.Info("registered with peer", "peer", e.peer)
	e.registered.Resolve(true)
}

package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/wire"
)

// service is an inbound constraint request being serviced.
type service struct {
	id         ir.Identifier
	mode       ir.ConstraintMode
	constraint *ir.Call

	achiever Achiever
	running  bool
	aborting bool
	done     bool
	timer    engine.Timer
}

func (a *Agent) acceptConstraint(m *wire.Message) {
	if _, dup := a.served[m.ID]; dup {
		a.logger.Warn("duplicate constraint request ignored", "request_id", m.ID.String())
		return
	}
	c := m.Request.Constraint.Expr.(*ir.Call)
	svc := &service{id: m.ID, mode: m.Request.Mode, constraint: c}
	a.served[m.ID] = svc
	a.logger.Debug("constraint accepted", "request_id", m.ID.String(), "mode", svc.mode, "constraint", c.String())
	a.enqueue(svc)
}

// enqueue hands svc to the constraint worker.
func (a *Agent) enqueue(svc *service) {
	if !a.constraints.TryPush(svc) {
		a.endService(svc, wire.AnswerFailure, engine.NewQueueFullError("constraint", svc.id).Error())
	}
}

// serveConstraints is the background worker: it checks queued constraints
// and hands the verdict back to the loop.
func (a *Agent) serveConstraints(ctx context.Context) {
	for {
		svc, err := a.constraints.PopContext(ctx)
		if err != nil {
			return
		}
		truth := a.check(svc.constraint)
		a.loop.Post(func() { a.startService(svc, truth) })
	}
}

func (a *Agent) check(c *ir.Call) logic.Truth {
	a.mu.RLock()
	checker := a.checker
	a.mu.RUnlock()
	if checker == nil {
		return logic.Unknown
	}
	return checker.Check(c)
}

func (a *Agent) startService(svc *service, truth logic.Truth) {
	if svc.done {
		return
	}
	if truth == logic.True {
		if svc.mode == ir.ModeMake {
			a.endService(svc, wire.AnswerSuccess, "")
			return
		}
		a.scheduleEnforce(svc)
		return
	}
	a.achieve(svc)
}

func (a *Agent) achieve(svc *service) {
	ach := a.achieverFor(svc.constraint.Name())
	if ach == nil {
		a.endService(svc, wire.AnswerFailure, fmt.Sprintf("no achiever for %s", svc.constraint.Name()))
		return
	}
	svc.achiever = ach
	svc.running = true
	a.logger.Debug("running achiever", "request_id", svc.id.String(), "predicate", svc.constraint.Name())
	ach.Execute(func(_ ir.Expr, err error) {
		svc.running = false
		if svc.aborting {
			a.finishAbort(svc)
			return
		}
		if svc.done {
			return
		}
		switch {
		case err == nil && svc.mode == ir.ModeMake:
			a.endService(svc, wire.AnswerSuccess, "")
		case err == nil:
			a.scheduleEnforce(svc)
		case engine.IsAborted(err), engine.IsInterrupted(err):
			a.endService(svc, wire.AnswerInterrupted, err.Error())
		default:
			a.endService(svc, wire.AnswerFailure, err.Error())
		}
	})
}

// scheduleEnforce re-checks an ensured constraint after the enforce
// interval.
func (a *Agent) scheduleEnforce(svc *service) {
	svc.timer = a.loop.AfterFunc(a.cfg.EnforceInterval, func() {
		svc.timer = nil
		if !svc.done {
			a.enqueue(svc)
		}
	})
}

// endService answers the request and forgets it.
func (a *Agent) endService(svc *service, state wire.AnswerState, reason string) {
	if svc.done {
		return
	}
	svc.done = true
	if svc.timer != nil {
		svc.timer.Stop()
		svc.timer = nil
	}
	delete(a.served, svc.id)
	a.metrics.add(a.metrics.served, attribute.String("state", string(state)), attribute.String("mode", string(svc.mode)))
	a.logger.Debug("constraint answered", "request_id", svc.id.String(), "state", state, "reason", reason)
	a.reply(svc.id.Agent, wire.NewConstraintAnswer(svc.id, a.name, state, reason))
}

// abortService handles an inbound abort: the running achiever is aborted,
// the request is answered INTERRUPTED once it unwound, then the abort is
// acknowledged.
func (a *Agent) abortService(m *wire.Message) {
	svc := a.served[m.ID]
	if svc == nil {
		a.reply(m.ID.Agent, wire.NewAbortAck(m.ID, a.name))
		return
	}
	if svc.aborting {
		return
	}
	svc.aborting = true
	if svc.timer != nil {
		svc.timer.Stop()
		svc.timer = nil
	}
	if svc.running && svc.achiever.Abort() {
		return
	}
	a.finishAbort(svc)
}

func (a *Agent) finishAbort(svc *service) {
	if svc.done {
		return
	}
	a.endService(svc, wire.AnswerInterrupted, "aborted by requester")
	a.reply(svc.id.Agent, wire.NewAbortAck(svc.id, a.name))
}

// dropPeerServices stops servicing requests of a peer that went down.
// Nobody is left to answer.
func (a *Agent) dropPeerServices(peer string) {
	for id, svc := range a.served {
		if id.Agent != peer {
			continue
		}
		svc.done = true
		if svc.timer != nil {
			svc.timer.Stop()
		}
		if svc.running {
			svc.achiever.Abort()
		}
		delete(a.served, id)
	}
}

func (a *Agent) readValue(name string) (ir.Expr, error) {
	a.mu.RLock()
	vars := a.variables
	a.mu.RUnlock()
	if vars == nil {
		return nil, engine.NewNotFoundError("variable", name)
	}
	return vars.ReadValue(name)
}

func (a *Agent) answerVariable(m *wire.Message) {
	name := m.VarReq.Variable
	v, err := a.readValue(name)
	if err != nil {
		a.reply(m.Source, wire.NewVarError(m.ID, a.name, name, err.Error()))
		return
	}
	a.reply(m.Source, wire.NewVarAnswer(m.ID, a.name, name, v))
}

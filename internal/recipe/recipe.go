package recipe

import (
	"errors"
	"log/slog"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
)

// Context is the ability a recipe runs in: it decides preconditions and
// resolves variable references in the result expression.
type Context interface {
	Check(expr ir.Expr) logic.Truth
	Resolve(expr ir.Expr) (ir.Expr, error)
}

// ResultCallback receives the outcome of an execution: the resolved result
// expression (nil when the recipe declares none) or the error that ended it.
type ResultCallback func(result ir.Expr, err error)

// PreconditionCallback receives a *PreconditionError, or nil when every
// precondition holds, and the unmet list.
type PreconditionCallback func(err error, unmet []Unmet)

// Status is the lifecycle of a recipe.
type Status int

const (
	StatusIdle Status = iota
	StatusEvaluating
	StatusRejected
	StatusExecuting
	StatusSucceeded
	StatusFailed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusEvaluating:
		return "evaluating_preconditions"
	case StatusRejected:
		return "rejected"
	case StatusExecuting:
		return "executing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// InFlight reports whether an execution is running.
func (s Status) InFlight() bool {
	return s == StatusEvaluating || s == StatusExecuting
}

// Config declares a recipe.
type Config struct {
	Name          string
	Agents        []string
	Preconditions []ir.Expr
	// Body builds the computation of one execution. Every execution gets
	// a fresh body; nil means an empty body.
	Body func() compute.Computation
	// Result is resolved against the context after the body succeeds.
	Result ir.Expr
}

// Run describes a finished execution.
type Run struct {
	Token  string
	Recipe string
	Status Status
	Result ir.Expr
	Err    error
}

// Observer is told about every finished execution.
type Observer func(Run)

// Option configures a Recipe.
type Option func(*Recipe)

// WithLogger sets the recipe logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recipe) {
		r.logger = l
	}
}

// WithObserver installs a run observer.
func WithObserver(o Observer) Option {
	return func(r *Recipe) {
		r.observer = o
	}
}

// WithTokens sets the run token generator.
func WithTokens(g engine.TokenGenerator) Option {
	return func(r *Recipe) {
		r.tokens = g
	}
}

// Recipe is the execution state machine:
//
//	idle -> evaluating_preconditions -> rejected
//	                                 -> executing -> succeeded | failed | aborted
//
// After the pending callbacks of a terminal state ran, the recipe is idle
// again; Last keeps the terminal state.
type Recipe struct {
	cfg  Config
	ctx  Context
	loop compute.Poster

	status   Status
	last     Status
	pending  []ResultCallback
	active   compute.Computation
	aborting bool
	token    string

	logger   *slog.Logger
	observer Observer
	tokens   engine.TokenGenerator
}

// New creates a recipe evaluated in ctx. Callbacks are scheduled on loop.
func New(cfg Config, ctx Context, loop compute.Poster, opts ...Option) *Recipe {
	r := &Recipe{
		cfg:    cfg,
		ctx:    ctx,
		loop:   loop,
		logger: slog.Default(),
		tokens: engine.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("recipe", cfg.Name)
	return r
}

// Name returns the recipe name.
func (r *Recipe) Name() string { return r.cfg.Name }

// Agents returns the agents the recipe talks to.
func (r *Recipe) Agents() []string { return append([]string(nil), r.cfg.Agents...) }

// Status returns the current status.
func (r *Recipe) Status() Status { return r.status }

// Last returns the terminal status of the most recent execution, StatusIdle
// before the first one ends.
func (r *Recipe) Last() Status { return r.last }

// AsyncEvaluatePreconditions checks every precondition on the next loop
// turn and calls cb with the ones that were false or unknown.
func (r *Recipe) AsyncEvaluatePreconditions(cb PreconditionCallback) {
	if !r.loop.Post(func() {
		unmet := r.evaluate()
		if len(unmet) == 0 {
			cb(nil, nil)
			return
		}
		cb(&PreconditionError{Recipe: r.cfg.Name, Unmet: unmet}, unmet)
	}) {
		cb(compute.ErrLoopStopped, nil)
	}
}

func (r *Recipe) evaluate() []Unmet {
	var unmet []Unmet
	for _, p := range r.cfg.Preconditions {
		if t := r.ctx.Check(p); t != logic.True {
			unmet = append(unmet, Unmet{Expr: p, Truth: t})
		}
	}
	return unmet
}

// Execute runs the recipe, or joins the execution already in flight. Every
// callback queued for one execution receives the identical outcome.
func (r *Recipe) Execute(cb ResultCallback) {
	r.pending = append(r.pending, cb)
	if r.status.InFlight() {
		r.logger.Debug("execution joined", "waiting", len(r.pending))
		return
	}

	r.status = StatusEvaluating
	r.aborting = false
	r.token = r.tokens.Generate()
	r.logger.Debug("execution started", "token", r.token)

	r.AsyncEvaluatePreconditions(func(err error, unmet []Unmet) {
		switch {
		case r.aborting:
			r.finish(StatusAborted, nil, engine.NewAbortedError("recipe "+r.cfg.Name))
		case err != nil:
			r.finish(StatusRejected, nil, err)
		default:
			r.runBody()
		}
	})
}

func (r *Recipe) runBody() {
	r.status = StatusExecuting
	var body compute.Computation = compute.NewSequence()
	if r.cfg.Body != nil {
		body = r.cfg.Body()
	}
	r.active = body
	body.Compute(func(err error) {
		if r.active != body {
			return
		}
		r.active = nil
		if err != nil {
			if r.aborting || engine.IsAborted(err) || engine.IsInterrupted(err) {
				r.finish(StatusAborted, nil, err)
				return
			}
			r.finish(StatusFailed, nil, err)
			return
		}
		var result ir.Expr
		if r.cfg.Result != nil {
			result, err = r.ctx.Resolve(r.cfg.Result)
			if err != nil {
				r.finish(StatusFailed, nil, err)
				return
			}
		}
		r.finish(StatusSucceeded, result, nil)
	})
}

func (r *Recipe) finish(status Status, result ir.Expr, err error) {
	r.status = status
	r.last = status
	pending := r.pending
	r.pending = nil

	switch status {
	case StatusSucceeded:
		r.logger.Info("recipe succeeded", "token", r.token, "callers", len(pending))
	case StatusRejected:
		r.logger.Debug("recipe rejected", "token", r.token, "error", err)
	case StatusAborted:
		r.logger.Info("recipe aborted", "token", r.token, "error", err)
	default:
		r.logger.Warn("recipe failed", "token", r.token, "error", err)
	}
	if r.observer != nil {
		r.observer(Run{Token: r.token, Recipe: r.cfg.Name, Status: status, Result: result, Err: err})
	}
	for _, cb := range pending {
		cb(result, err)
	}
	// A callback may already have started the next execution.
	if r.status == status {
		r.status = StatusIdle
	}
}

// Abort stops the execution in flight. During precondition evaluation the
// execution ends as aborted once evaluation returns; during the body the
// active step is aborted. Completed steps are not undone. It returns false
// when nothing is in flight.
func (r *Recipe) Abort() bool {
	switch r.status {
	case StatusEvaluating:
		if r.aborting {
			return false
		}
		r.aborting = true
		return true
	case StatusExecuting:
		if r.aborting || r.active == nil {
			return false
		}
		r.aborting = true
		if !r.active.Abort() {
			// The body could not abort; end the execution ourselves and
			// ignore its late completion.
			r.active = nil
			r.finish(StatusAborted, nil, engine.NewAbortedError("recipe "+r.cfg.Name))
		}
		return true
	default:
		return false
	}
}

// Compute implements compute.Computation.
func (r *Recipe) Compute(cb compute.Callback) {
	r.Execute(func(_ ir.Expr, err error) { cb(err) })
}

// IsRejected reports whether err means the recipe never started its body.
func IsRejected(err error) bool {
	var pe *PreconditionError
	var ne *NoRecipeError
	return errors.As(err, &pe) || errors.As(err, &ne)
}

package ability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
)

// Host is the agent an ability runs on. *agent.Agent implements it.
type Host interface {
	compute.Handle
	Name() string
	Loop() *engine.Loop
	SetChecker(c agent.Checker)
	SetVariables(v agent.Variables)
	AddAchiever(predicate string, a agent.Achiever)
	RecordRun(run recipe.Run)
}

// Option configures an Ability.
type Option func(*Ability)

// WithLogger sets the ability logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Ability) {
		a.logger = l
	}
}

// WithObserver is told about every finished recipe run, after the host
// recorded it.
func WithObserver(o recipe.Observer) Option {
	return func(a *Ability) {
		a.observer = o
	}
}

// WithTokens sets the recipe run token generator.
func WithTokens(g engine.TokenGenerator) Option {
	return func(a *Ability) {
		a.tokens = g
	}
}

// WithPollInterval sets the poll interval of wait steps that declare none.
func WithPollInterval(d time.Duration) Option {
	return func(a *Ability) {
		a.poll = d
	}
}

// Ability is a running ability.
type Ability struct {
	spec    *ir.AbilitySpec
	logic   *logic.Engine
	host    Host
	context string

	logger   *slog.Logger
	observer recipe.Observer
	tokens   engine.TokenGenerator
	poll     time.Duration

	vars  *variables
	tasks map[string]*recipe.Task
}

var (
	_ recipe.Context  = (*Ability)(nil)
	_ agent.Checker   = (*Ability)(nil)
	_ agent.Variables = (*Ability)(nil)
)

// New builds spec on host. Predicates, facts and rules go into eng under
// the ability's fact context.
func New(spec *ir.AbilitySpec, eng *logic.Engine, host Host, opts ...Option) (*Ability, error) {
	a := &Ability{
		spec:    spec,
		logic:   eng,
		host:    host,
		context: spec.Name,
		logger:  slog.Default(),
		tokens:  engine.UUIDv7Generator{},
		poll:    compute.DefaultPoll,
		tasks:   make(map[string]*recipe.Task),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("ability", spec.Name)

	if err := a.loadLogic(); err != nil {
		return nil, fmt.Errorf("ability %s: %w", spec.Name, err)
	}
	vars, err := newVariables(spec.Variables)
	if err != nil {
		return nil, fmt.Errorf("ability %s: %w", spec.Name, err)
	}
	a.vars = vars

	for _, td := range spec.Tasks {
		t, err := a.buildTask(td)
		if err != nil {
			return nil, fmt.Errorf("ability %s: task %s: %w", spec.Name, td.Name, err)
		}
		a.tasks[td.Name] = t
	}

	host.SetChecker(a)
	host.SetVariables(a)
	for _, td := range spec.Tasks {
		if td.Achieves != "" {
			host.AddAchiever(td.Achieves, a.tasks[td.Name])
			a.logger.Debug("achiever registered", "task", td.Name, "predicate", td.Achieves)
		}
	}
	a.logger.Info("ability loaded",
		"predicates", len(spec.Predicates),
		"facts", len(spec.Facts),
		"rules", len(spec.Rules),
		"tasks", len(spec.Tasks))
	return a, nil
}

func (a *Ability) loadLogic() error {
	for _, p := range a.spec.Predicates {
		if !a.logic.AddPredicate(p.Name, p.Arity, nil) {
			return &logic.ValidationError{
				Code:      logic.ErrArityConflict,
				Predicate: p.Name,
				Message:   fmt.Sprintf("cannot register with arity %d", p.Arity),
			}
		}
	}
	for _, f := range a.spec.Facts {
		c, err := ir.ParseCall(f)
		if err != nil {
			return fmt.Errorf("fact %q: %w", f, err)
		}
		if err := a.logic.CheckFact(c); err != nil {
			return fmt.Errorf("fact %q: %w", f, err)
		}
		a.logic.AddFactExpr(c, a.context)
	}
	for _, rd := range a.spec.Rules {
		r, err := ParseRule(rd)
		if err != nil {
			return err
		}
		if err := a.logic.CheckRule(r); err != nil {
			return fmt.Errorf("rule %s: %w", rd.Name, err)
		}
		a.logic.AddRuleExpr(r)
	}
	return nil
}

// ParseRule parses the text premises and conclusions of a declared rule.
func ParseRule(rd ir.RuleDecl) (logic.Rule, error) {
	r := logic.Rule{Name: rd.Name}
	for _, p := range rd.Premises {
		c, err := ir.ParseCall(p)
		if err != nil {
			return r, fmt.Errorf("rule %s: premise: %w", rd.Name, err)
		}
		r.Premises = append(r.Premises, c)
	}
	for _, p := range rd.Conclusions {
		c, err := ir.ParseCall(p)
		if err != nil {
			return r, fmt.Errorf("rule %s: conclusion: %w", rd.Name, err)
		}
		r.Conclusions = append(r.Conclusions, c)
	}
	return r, nil
}

// Name returns the ability name.
func (a *Ability) Name() string { return a.spec.Name }

// Context returns the logic fact context of the ability.
func (a *Ability) Context() string { return a.context }

// Check decides e in the ability context after substituting variable
// values. An expression that cannot be resolved is Unknown.
func (a *Ability) Check(e ir.Expr) logic.Truth {
	r, err := a.Resolve(e)
	if err != nil {
		a.logger.Debug("expression unresolved", "expr", e.String(), "error", err)
		return logic.Unknown
	}
	return a.logic.InferExpr(r, a.context)
}

// Resolve substitutes the <variable>::value symbols of e.
func (a *Ability) Resolve(e ir.Expr) (ir.Expr, error) {
	return a.vars.resolve(e)
}

// Infer parses goal and checks it.
func (a *Ability) Infer(goal string) (logic.Truth, error) {
	e, err := ir.Parse(goal)
	if err != nil {
		return logic.Unknown, err
	}
	return a.Check(e), nil
}

// Query matches pattern against the saturated facts of the ability after
// substituting variable values.
func (a *Ability) Query(pattern *ir.Call) ([]logic.Substitution, error) {
	r, err := a.Resolve(pattern)
	if err != nil {
		return nil, err
	}
	return a.logic.Query(r.(*ir.Call), a.context), nil
}

// AddFact adds a runtime fact to the ability context.
func (a *Ability) AddFact(c *ir.Call) error {
	if err := a.logic.CheckFact(c); err != nil {
		return err
	}
	a.logic.AddFactExpr(c, a.context)
	return nil
}

// Task returns a task by name.
func (a *Ability) Task(name string) (*recipe.Task, bool) {
	t, ok := a.tasks[name]
	return t, ok
}

// Tasks returns the task names, sorted.
func (a *Ability) Tasks() []string {
	names := make([]string, 0, len(a.tasks))
	for name := range a.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a task on the host loop and blocks until it ends. When ctx
// is done the task is aborted and Execute waits for it to unwind; a host
// loop that stops first releases the wait. Safe from any goroutine except
// the loop's.
func (a *Ability) Execute(ctx context.Context, task string) (ir.Expr, error) {
	t, ok := a.tasks[task]
	if !ok {
		return nil, engine.NewNotFoundError("task", task)
	}
	return compute.AwaitResult(ctx, a.host.Loop(),
		func(done func(ir.Expr, error)) { t.Execute(recipe.ResultCallback(done)) },
		t.Abort)
}

package ability

import (
	"fmt"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
)

// stepPlan is a parsed step declaration.
type stepPlan struct {
	decl       ir.StepDecl
	constraint *ir.Call
	condition  ir.Expr
	value      ir.Expr
}

func (a *Ability) buildTask(td ir.TaskDecl) (*recipe.Task, error) {
	recipes := make([]*recipe.Recipe, 0, len(td.Recipes))
	for _, rd := range td.Recipes {
		r, err := a.buildRecipe(rd)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", rd.Name, err)
		}
		recipes = append(recipes, r)
	}
	return recipe.NewTask(td.Name, recipes, a.logger), nil
}

func (a *Ability) buildRecipe(rd ir.RecipeDecl) (*recipe.Recipe, error) {
	cfg := recipe.Config{Name: rd.Name, Agents: rd.Agents}
	for _, p := range rd.Preconditions {
		e, err := ir.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("precondition: %w", err)
		}
		cfg.Preconditions = append(cfg.Preconditions, e)
	}
	if rd.Result != "" {
		e, err := ir.Parse(rd.Result)
		if err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		cfg.Result = e
	}

	plans, err := planSteps(rd.Body)
	if err != nil {
		return nil, err
	}
	cfg.Body = func() compute.Computation { return a.body(plans) }

	opts := []recipe.Option{recipe.WithLogger(a.logger), recipe.WithTokens(a.tokens), recipe.WithObserver(a.observeRun)}
	return recipe.New(cfg, a, a.host.Loop(), opts...), nil
}

// planSteps parses every step and checks that abort steps name an earlier
// labeled ensure.
func planSteps(decls []ir.StepDecl) ([]stepPlan, error) {
	plans := make([]stepPlan, 0, len(decls))
	labels := make(map[string]ir.StepKind)
	for i, d := range decls {
		p := stepPlan{decl: d}
		switch d.Kind {
		case ir.StepEnsure, ir.StepMake:
			if d.Agent == "" {
				return nil, fmt.Errorf("step %d: %s needs an agent", i, d.Kind)
			}
			c, err := ir.ParseCall(d.Constraint)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			p.constraint = c
			if d.Label != "" {
				if _, dup := labels[d.Label]; dup {
					return nil, fmt.Errorf("step %d: label %s used twice", i, d.Label)
				}
				labels[d.Label] = d.Kind
			}
		case ir.StepWait:
			e, err := ir.Parse(d.Constraint)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			p.condition = e
		case ir.StepAbort:
			if labels[d.Target] != ir.StepEnsure {
				return nil, fmt.Errorf("step %d: abort target %q is not an earlier ensure step", i, d.Target)
			}
		case ir.StepSet:
			if d.Variable == "" {
				return nil, fmt.Errorf("step %d: set needs a variable", i)
			}
			e, err := ir.Parse(d.Value)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			p.value = e
		default:
			return nil, fmt.Errorf("step %d: unknown kind %q", i, d.Kind)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// body builds the computation of one recipe execution.
func (a *Ability) body(plans []stepPlan) compute.Computation {
	labels := make(map[string]*deferred)
	steps := make([]compute.Computation, 0, len(plans))
	for _, p := range plans {
		steps = append(steps, a.step(p, labels))
	}
	return compute.NewSequence(steps...)
}

func (a *Ability) step(p stepPlan, labels map[string]*deferred) compute.Computation {
	d := p.decl
	switch d.Kind {
	case ir.StepEnsure, ir.StepMake:
		s := &deferred{build: func() (compute.Computation, error) {
			c, err := a.resolveCall(p.constraint)
			if err != nil {
				return nil, err
			}
			if d.Kind == ir.StepEnsure {
				return compute.NewEnsure(a.host, d.Agent, c), nil
			}
			return compute.NewMake(a.host, d.Agent, c), nil
		}}
		if d.Label != "" {
			labels[d.Label] = s
		}
		return s
	case ir.StepWait:
		poll := d.Poll
		if poll <= 0 {
			poll = a.poll
		}
		return compute.NewWait(a.host.Loop(), func() (bool, error) {
			return a.Check(p.condition) == logic.True, nil
		}, poll, d.Timeout)
	case ir.StepAbort:
		return compute.NewAbortExpr(a.host, labels[d.Target])
	default:
		return compute.Func(func() error {
			v, err := a.Resolve(p.value)
			if err != nil {
				return err
			}
			return a.Set(d.Variable, v)
		})
	}
}

func (a *Ability) resolveCall(c *ir.Call) (*ir.Call, error) {
	r, err := a.Resolve(c)
	if err != nil {
		return nil, err
	}
	return r.(*ir.Call), nil
}

// deferred builds its computation when it starts, so the constraint sees
// variable values of that moment rather than of body construction.
type deferred struct {
	build func() (compute.Computation, error)
	c     compute.Computation
}

func (s *deferred) Compute(cb compute.Callback) {
	c, err := s.build()
	if err != nil {
		cb(err)
		return
	}
	s.c = c
	c.Compute(cb)
}

func (s *deferred) Abort() bool {
	if s.c == nil {
		return false
	}
	return s.c.Abort()
}

// ID implements compute.Identified for abort steps.
func (s *deferred) ID() ir.Identifier {
	if id, ok := s.c.(compute.Identified); ok {
		return id.ID()
	}
	return ir.Identifier{}
}

func (a *Ability) observeRun(run recipe.Run) {
	a.host.RecordRun(run)
	if a.observer != nil {
		a.observer(run)
	}
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ability/internal/ability"
	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/compiler"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/store"
	"github.com/roach88/ability/internal/wire"
)

// DefaultStepTimeout bounds execute and read steps.
const DefaultStepTimeout = 5 * time.Second

// Harness runs the abilities of one scenario. Every ability gets its own
// agent and logic engine on a shared in-memory network; all agents journal
// into one in-memory store.
type Harness struct {
	store     *store.Store
	net       *wire.MemoryNetwork
	agents    map[string]*agent.Agent
	abilities map[string]*ability.Ability
	names     []string
	timeout   time.Duration
	logger    *slog.Logger
}

// Run executes a scenario and returns its result. Errors are reserved for
// scenarios that cannot run at all; failed expectations and assertions are
// reported in the result.
//
// Run loads and validates the abilities, starts one agent per ability with
// liveness pings off and sequence-based run tokens, applies the setup,
// executes the flow, stops the agents and then evaluates the assertions.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	loaded, errs := compiler.LoadFiles(scenario.Specs, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load abilities: %w", errors.Join(errs...))
	}
	if verrs := compiler.ValidateAll(loaded.Abilities); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, fmt.Errorf("invalid abilities:\n  %s", strings.Join(msgs, "\n  "))
	}

	timeout := DefaultStepTimeout
	if scenario.Timeout != "" {
		d, err := time.ParseDuration(scenario.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", scenario.Timeout, err)
		}
		timeout = d
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:     st,
		net:       wire.NewMemoryNetwork(),
		agents:    make(map[string]*agent.Agent),
		abilities: make(map[string]*ability.Ability),
		timeout:   timeout,
		logger:    slog.New(slog.DiscardHandler),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if err := h.start(g, gctx, loaded.Abilities); err != nil {
		cancel()
		_ = g.Wait()
		return nil, err
	}

	result := NewResult()
	err = h.executeSetup(scenario.Setup)
	if err == nil {
		h.executeFlow(ctx, scenario.Flow, result)
	}

	// Stopping drains every in-flight send, so the journal is complete
	// once Wait returns.
	for _, a := range h.agents {
		a.Stop()
	}
	cancel()
	if werr := g.Wait(); werr != nil && err == nil {
		err = fmt.Errorf("agent failed: %w", werr)
	}
	if err != nil {
		return nil, err
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	actx := &AssertionContext{Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) start(g *errgroup.Group, ctx context.Context, specs []ir.AbilitySpec) error {
	for i := range specs {
		spec := &specs[i]
		name := spec.Name
		a := agent.New(agent.Config{Name: name}, h.net.Join(name),
			agent.WithJournal(h.store),
			agent.WithLogger(h.logger),
			agent.WithIncarnation(engine.NewSequenceGenerator(name)),
		)
		eng := logic.New(
			logic.WithLogger(h.logger),
			logic.WithFactObserver(h.store.FactObserver(h.logger)),
		)
		ab, err := ability.New(spec, eng, a,
			ability.WithLogger(h.logger),
			ability.WithTokens(engine.NewSequenceGenerator(name)),
			ability.WithObserver(h.store.RunObserver(name, h.logger)),
		)
		if err != nil {
			return err
		}
		h.agents[name] = a
		h.abilities[name] = ab
		h.names = append(h.names, name)
		g.Go(func() error { return a.Run(ctx) })
	}
	sort.Strings(h.names)
	return nil
}

func (h *Harness) ability(name string) (*ability.Ability, error) {
	ab, ok := h.abilities[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return ab, nil
}

// executeSetup applies facts and variable values. Any failure aborts the
// scenario.
func (h *Harness) executeSetup(setup []SetupStep) error {
	for i, step := range setup {
		ab, err := h.ability(step.Agent)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if step.Fact != "" {
			fact, err := ir.ParseCall(step.Fact)
			if err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			if err := ab.AddFact(fact); err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			continue
		}
		value, err := ir.Parse(step.Value)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if err := ab.Set(step.Set, value); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
	}
	return nil
}

// executeFlow runs every step against the live agents and checks its
// expectation. A step that cannot run is recorded as a failure and the flow
// continues.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		action, operand := step.Action()
		output, err := h.executeStep(ctx, step)
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %v", i, action, operand, err))
			continue
		}
		result.Steps = append(result.Steps, StepOutcome{
			Step:   i,
			Agent:  step.Agent,
			Action: action + " " + operand,
			Output: output,
		})
		if msg := checkExpect(step, output); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, action, operand, msg))
		}
		h.logger.Info("flow step completed", "step", i, "action", action, "output", output)
	}
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep) (string, error) {
	ab, err := h.ability(step.Agent)
	if err != nil {
		return "", err
	}
	action, operand := step.Action()
	switch action {
	case ActionInfer:
		truth, err := ab.Infer(operand)
		if err != nil {
			return "", err
		}
		return truth.String(), nil

	case ActionQuery:
		pattern, err := ir.ParseCall(operand)
		if err != nil {
			return "", err
		}
		subs, err := ab.Query(pattern)
		if err != nil {
			return "", err
		}
		return renderBindings(pattern, subs), nil

	case ActionExecute:
		sctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		res, err := ab.Execute(sctx, operand)
		if err != nil {
			return errorOutput(err), nil
		}
		if res == nil {
			return "ok", nil
		}
		return res.String(), nil

	case ActionValue:
		v, err := ab.Value(operand)
		if err != nil {
			return "", err
		}
		return v.String(), nil

	case ActionRead:
		sctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		v, err := h.agents[step.Agent].RequestValue(step.Peer, operand).Wait(sctx)
		if err != nil {
			return errorOutput(err), nil
		}
		return v.String(), nil
	}
	return "", fmt.Errorf("step has no action")
}

// renderBindings prints each match as "X=a, Y=b" over the pattern's
// variables, matches sorted and joined by "; ".
func renderBindings(pattern *ir.Call, subs []logic.Substitution) string {
	vars := ir.Variables(pattern)
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		parts := make([]string, 0, len(vars))
		for _, v := range vars {
			if x, ok := sub[v]; ok {
				parts = append(parts, string(v)+"="+x.String())
			}
		}
		out = append(out, strings.Join(parts, ", "))
	}
	sort.Strings(out)
	return strings.Join(out, "; ")
}

// errorOutput renders a failed execution as "error: CODE", falling back
// to the message for errors without a runtime code.
func errorOutput(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return "error: " + string(code)
	}
	return "error: " + err.Error()
}

func checkExpect(step FlowStep, output string) string {
	exp := step.Expect
	if exp == nil {
		return ""
	}
	action, _ := step.Action()
	var want string
	switch action {
	case ActionInfer:
		want = exp.Truth
	case ActionQuery:
		if exp.Bindings == nil {
			return ""
		}
		bindings := append([]string(nil), exp.Bindings...)
		sort.Strings(bindings)
		want = strings.Join(bindings, "; ")
	case ActionExecute, ActionRead:
		switch {
		case exp.Error != "":
			want = "error: " + exp.Error
		case exp.Result != "":
			want = exp.Result
		case action == ActionRead:
			want = exp.Value
		}
	case ActionValue:
		want = exp.Value
	}
	if want == "" && action != ActionQuery {
		return ""
	}
	if output != want {
		return fmt.Sprintf("expected %q, got %q", want, output)
	}
	return ""
}

// collect reads the journal into the result: sent messages and recipe
// runs of every agent in name order.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, name := range h.names {
		records, err := h.store.ReadMessages(ctx, name, 0)
		if err != nil {
			return fmt.Errorf("read trace of %s: %w", name, err)
		}
		for _, rec := range records {
			if rec.Direction != agent.DirSent {
				continue
			}
			result.Trace = append(result.Trace, traceEvent(rec.Message))
		}

		runs, err := h.store.ReadRuns(ctx, name)
		if err != nil {
			return fmt.Errorf("read runs of %s: %w", name, err)
		}
		for _, run := range runs {
			ev := RunEvent{Agent: run.Agent, Recipe: run.Recipe, Status: run.Status}
			if run.Result != nil {
				ev.Result = run.Result.String()
			}
			result.Runs = append(result.Runs, ev)
		}
	}
	return nil
}

func traceEvent(m *wire.Message) TraceEvent {
	ev := TraceEvent{
		Agent:   m.Source,
		Kind:    string(m.Kind),
		Target:  m.Target,
		Request: m.ID.String(),
	}
	switch {
	case m.Request != nil:
		ev.Detail = fmt.Sprintf("%s %s", m.Request.Mode, m.Request.Constraint.Expr)
	case m.Answer != nil:
		ev.Detail = string(m.Answer.State)
	case m.VarReq != nil:
		ev.Detail = m.VarReq.Variable
	case m.VarAnswer != nil:
		if m.VarAnswer.Error != "" {
			ev.Detail = m.VarAnswer.Variable + " error"
		} else if m.VarAnswer.Value.Expr != nil {
			ev.Detail = m.VarAnswer.Variable + "=" + m.VarAnswer.Value.Expr.String()
		}
	case m.Register != nil:
		ev.Detail = m.Register.Name
	}
	return ev
}

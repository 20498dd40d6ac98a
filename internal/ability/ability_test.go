package ability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ability"
	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/testutil"
)

// fakeHost plays the agent: requests are recorded, the loop is driven by
// the test.
type fakeHost struct {
	*testutil.RecordingHandle
	loop      *engine.Loop
	checker   agent.Checker
	vars      agent.Variables
	achievers map[string]agent.Achiever
	runs      []recipe.Run
}

func newFakeHost() (*fakeHost, *testutil.ManualScheduler) {
	loop, sched := testutil.NewTestLoop()
	return &fakeHost{
		RecordingHandle: testutil.NewRecordingHandle("planner"),
		loop:            loop,
		achievers:       make(map[string]agent.Achiever),
	}, sched
}

func (h *fakeHost) Name() string                           { return "planner" }
func (h *fakeHost) Loop() *engine.Loop                     { return h.loop }
func (h *fakeHost) SetChecker(c agent.Checker)             { h.checker = c }
func (h *fakeHost) SetVariables(v agent.Variables)         { h.vars = v }
func (h *fakeHost) AddAchiever(p string, a agent.Achiever) { h.achievers[p] = a }
func (h *fakeHost) RecordRun(run recipe.Run)               { h.runs = append(h.runs, run) }

func fetchSpec() *ir.AbilitySpec {
	return &ir.AbilitySpec{
		Name: "fetch",
		Predicates: []ir.PredicateDecl{
			{Name: "at", Arity: 2},
			{Name: "room", Arity: 1},
			{Name: "near", Arity: 2},
			{Name: "holding", Arity: 1},
		},
		Variables: []ir.VariableDecl{
			{Name: "battery", Kind: ir.VariableReadable, Initial: "80"},
			{Name: "target", Kind: ir.VariableControllable, Initial: "kitchen"},
			{Name: "secret", Kind: ir.VariablePrivate, Initial: `"s3"`},
		},
		Facts: []string{"room(kitchen)", "room(hall)", "at(robot, hall)"},
		Rules: []ir.RuleDecl{{
			Name:        "near_room",
			Premises:    []string{"room(X)", "at(robot, X)"},
			Conclusions: []string{"near(robot, X)"},
		}},
		Tasks: []ir.TaskDecl{{
			Name:     "fetch_cup",
			Achieves: "holding",
			Recipes: []ir.RecipeDecl{
				{
					Name:          "recharge_first",
					Preconditions: []string{"less(battery::value, 20)"},
					Body: []ir.StepDecl{{
						Kind:       ir.StepWait,
						Constraint: "greater_equal(battery::value, 20)",
						Poll:       10 * time.Millisecond,
						Timeout:    30 * time.Millisecond,
					}},
				},
				{
					Name:          "go",
					Agents:        []string{"arm"},
					Preconditions: []string{"near(robot, hall)", "greater_equal(battery::value, 20)"},
					Body: []ir.StepDecl{
						{Kind: ir.StepMake, Agent: "arm", Constraint: "at(arm, target::value)"},
						{Kind: ir.StepEnsure, Label: "grip", Agent: "arm", Constraint: "holding(cup)"},
						{Kind: ir.StepSet, Variable: "battery", Value: "50"},
						{Kind: ir.StepAbort, Target: "grip"},
					},
					Result: "battery::value",
				},
			},
		}},
	}
}

func build(t *testing.T) (*ability.Ability, *fakeHost, *testutil.ManualScheduler) {
	t.Helper()
	host, sched := newFakeHost()
	ab, err := ability.New(fetchSpec(), logic.New(), host)
	require.NoError(t, err)
	return ab, host, sched
}

type outcome struct {
	calls  int
	result ir.Expr
	err    error
}

func (o *outcome) cb(result ir.Expr, err error) {
	o.calls++
	o.result = result
	o.err = err
}

func TestNew_RegistersWithHost(t *testing.T) {
	ab, host, _ := build(t)

	assert.Same(t, ab, host.checker)
	assert.Same(t, ab, host.vars)
	task, ok := ab.Task("fetch_cup")
	require.True(t, ok)
	assert.Same(t, task, host.achievers["holding"])
	assert.Equal(t, []string{"fetch_cup"}, ab.Tasks())
	assert.Equal(t, "fetch", ab.Context())
}

func TestCheck(t *testing.T) {
	ab, _, _ := build(t)

	tests := []struct {
		goal string
		want logic.Truth
	}{
		{"room(kitchen)", logic.True},
		{"near(robot, hall)", logic.True},
		{"near(robot, kitchen)", logic.False},
		{"less(battery::value, 100)", logic.True},
		{"equal(target::value, kitchen)", logic.True},
		{"equal(missing::value, 1)", logic.Unknown},
		{"flying(robot)", logic.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			got, err := ab.Infer(tt.goal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVariables(t *testing.T) {
	ab, _, _ := build(t)

	v, err := ab.Value("battery")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(80), v)

	require.NoError(t, ab.Set("battery", ir.Int(12)))
	v, err = ab.ReadValue("battery")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(12), v)

	_, err = ab.ReadValue("secret")
	assert.ErrorContains(t, err, "private")

	_, err = ab.ReadValue("nothing")
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	assert.Error(t, ab.Set("battery", ir.Ident("X")), "values must be ground")
	assert.Len(t, ab.Variables(), 3)
}

func TestExecute_RunsBodyInOrder(t *testing.T) {
	ab, host, _ := build(t)
	task, _ := ab.Task("fetch_cup")

	var o outcome
	host.loop.Post(func() { task.Execute(o.cb) })
	host.loop.Drain()

	reqs := host.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, ir.ModeMake, reqs[0].Mode)
	assert.Equal(t, "arm", reqs[0].Agent)
	assert.Equal(t, "at(arm, kitchen)", reqs[0].Constraint, "target::value is resolved when the step starts")

	require.NoError(t, host.AnswerLast(nil))
	host.loop.Drain()

	reqs = host.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, ir.ModeEnsure, reqs[1].Mode)
	assert.Equal(t, "holding(cup)", reqs[1].Constraint)

	// The abort step waits for the finalizer acknowledgement.
	require.Equal(t, []ir.Identifier{reqs[1].ID}, host.Aborts())
	assert.Equal(t, 0, o.calls)

	host.Ack(0, nil)
	host.loop.Drain()

	require.Equal(t, 1, o.calls)
	require.NoError(t, o.err)
	assert.Equal(t, ir.Int(50), o.result)
	v, _ := ab.Value("battery")
	assert.Equal(t, ir.Int(50), v)

	require.Len(t, host.runs, 1, "finished runs are recorded on the host")
	assert.Equal(t, "go", host.runs[0].Recipe)
	assert.Equal(t, recipe.StatusSucceeded, host.runs[0].Status)
}

func TestExecute_SelectsRecipeByPrecondition(t *testing.T) {
	ab, host, sched := build(t)
	task, _ := ab.Task("fetch_cup")
	require.NoError(t, ab.Set("battery", ir.Int(10)))

	var o outcome
	host.loop.Post(func() { task.Execute(o.cb) })
	host.loop.Drain()

	assert.Empty(t, host.Requests(), "recharge_first does not talk to other agents")
	assert.Equal(t, 0, o.calls)

	require.NoError(t, ab.Set("battery", ir.Int(25)))
	sched.Advance(10 * time.Millisecond)
	host.loop.Drain()

	require.Equal(t, 1, o.calls)
	assert.NoError(t, o.err)
	assert.Nil(t, o.result)
}

func TestExecute_WaitTimesOut(t *testing.T) {
	ab, host, sched := build(t)
	task, _ := ab.Task("fetch_cup")
	require.NoError(t, ab.Set("battery", ir.Int(10)))

	var o outcome
	host.loop.Post(func() { task.Execute(o.cb) })
	host.loop.Drain()
	for i := 0; i < 3; i++ {
		sched.Advance(10 * time.Millisecond)
		host.loop.Drain()
	}

	require.Equal(t, 1, o.calls)
	assert.True(t, engine.IsTimeout(o.err), "got %v", o.err)
}

func TestExecute_NoApplicableRecipe(t *testing.T) {
	ab, host, _ := build(t)
	task, _ := ab.Task("fetch_cup")
	require.NoError(t, ab.Set("battery", ir.Str("unknown")))

	var o outcome
	host.loop.Post(func() { task.Execute(o.cb) })
	host.loop.Drain()

	require.Equal(t, 1, o.calls)
	assert.True(t, recipe.IsRejected(o.err))
	assert.True(t, engine.IsPrecondition(o.err))
}

func TestExecute_RemoteFailureFailsRecipe(t *testing.T) {
	ab, host, _ := build(t)
	task, _ := ab.Task("fetch_cup")

	var o outcome
	host.loop.Post(func() { task.Execute(o.cb) })
	host.loop.Drain()
	require.NoError(t, host.AnswerLast(engine.NewFailureError(host.Requests()[0].ID, "arm jammed")))
	host.loop.Drain()

	require.Equal(t, 1, o.calls)
	assert.True(t, engine.IsFailure(o.err))
	assert.Len(t, host.Requests(), 1, "no step runs after a failure")
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.AbilitySpec)
		want   string
	}{
		{"non-ground fact", func(s *ir.AbilitySpec) { s.Facts = append(s.Facts, "at(X, hall)") }, logic.ErrNotGround},
		{"unknown predicate in fact", func(s *ir.AbilitySpec) { s.Facts = append(s.Facts, "flying(robot)") }, logic.ErrUnknownPredicate},
		{"arity mismatch in rule", func(s *ir.AbilitySpec) {
			s.Rules = append(s.Rules, ir.RuleDecl{Name: "bad", Premises: []string{"room(X, Y)"}, Conclusions: []string{"near(robot, X)"}})
		}, logic.ErrArityMismatch},
		{"arity conflict", func(s *ir.AbilitySpec) {
			s.Predicates = append(s.Predicates, ir.PredicateDecl{Name: "room", Arity: 3})
		}, logic.ErrArityConflict},
		{"abort of unknown label", func(s *ir.AbilitySpec) {
			body := &s.Tasks[0].Recipes[1].Body
			*body = append(*body, ir.StepDecl{Kind: ir.StepAbort, Target: "nothing"})
		}, "abort target"},
		{"bad initial value", func(s *ir.AbilitySpec) {
			s.Variables = append(s.Variables, ir.VariableDecl{Name: "pose", Kind: ir.VariablePrivate, Initial: "at(X"})
		}, "pose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := fetchSpec()
			tt.mutate(spec)
			host, _ := newFakeHost()
			_, err := ability.New(spec, logic.New(), host)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

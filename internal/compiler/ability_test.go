package compiler

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ir"
)

const armCUE = `
ability: arm: {
	requires: ["base"]
	predicates: {holding: 1, at: 2}
	variables: {
		gripper: {kind: "readable", initial: "open"}
		battery: {kind: "readable", initial: 80}
		secret:  "private"
	}
	facts: ["at(robot, kitchen)"]
	rules: grasp: {premises: ["at(X, kitchen)"], conclusions: ["holding(X)"]}
	tasks: grab: {
		achieves: "holding"
		recipes: {
			close_gripper: {
				preconditions: ["equal(gripper::value, open)"]
				body: [
					{ensure: "at(robot, kitchen)", agent: "base", label: "stay"},
					{wait: "greater(battery::value, 10)", poll: "10ms", timeout: "1s"},
					{set: "gripper", value: "closed"},
					{abort: "stay"},
				]
				result: "done"
			}
			fallback: body: [{make: "at(robot, kitchen)", agent: "base"}]
		}
	}
}
`

func compile(t *testing.T, src, name string) (*ir.AbilitySpec, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileAbility(v.LookupPath(cue.ParsePath("ability." + name)))
}

func TestCompileAbilityBasic(t *testing.T) {
	spec, err := compile(t, armCUE, "arm")
	require.NoError(t, err)

	assert.Equal(t, "arm", spec.Name)
	assert.Equal(t, []string{"base"}, spec.Requires)
	assert.Equal(t, []ir.PredicateDecl{{Name: "holding", Arity: 1}, {Name: "at", Arity: 2}}, spec.Predicates)
	assert.Equal(t, []ir.VariableDecl{
		{Name: "gripper", Kind: ir.VariableReadable, Initial: "open"},
		{Name: "battery", Kind: ir.VariableReadable, Initial: "80"},
		{Name: "secret", Kind: ir.VariablePrivate},
	}, spec.Variables)
	assert.Equal(t, []string{"at(robot, kitchen)"}, spec.Facts)
	require.Len(t, spec.Rules, 1)
	assert.Equal(t, ir.RuleDecl{Name: "grasp", Premises: []string{"at(X, kitchen)"}, Conclusions: []string{"holding(X)"}}, spec.Rules[0])

	require.Len(t, spec.Tasks, 1)
	task := spec.Tasks[0]
	assert.Equal(t, "grab", task.Name)
	assert.Equal(t, "holding", task.Achieves)
	require.Len(t, task.Recipes, 2)
	assert.Equal(t, "close_gripper", task.Recipes[0].Name, "recipes keep declaration order")
	assert.Equal(t, "fallback", task.Recipes[1].Name)

	r := task.Recipes[0]
	assert.Equal(t, []string{"equal(gripper::value, open)"}, r.Preconditions)
	assert.Equal(t, "done", r.Result)
	assert.Equal(t, []ir.StepDecl{
		{Kind: ir.StepEnsure, Constraint: "at(robot, kitchen)", Agent: "base", Label: "stay"},
		{Kind: ir.StepWait, Constraint: "greater(battery::value, 10)", Poll: 10 * time.Millisecond, Timeout: time.Second},
		{Kind: ir.StepSet, Variable: "gripper", Value: "closed"},
		{Kind: ir.StepAbort, Target: "stay"},
	}, r.Body)
}

func TestCompileAbilityIsValid(t *testing.T) {
	spec, err := compile(t, armCUE, "arm")
	require.NoError(t, err)
	assert.Empty(t, Validate(spec))
}

func TestCompileAbilityErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "empty ability",
			src:  `ability: idle: {requires: []}`,
			want: "at least one predicate or task",
		},
		{
			name: "arity not an integer",
			src:  `ability: idle: predicates: {holding: "one"}`,
			want: "arity must be an integer",
		},
		{
			name: "variable without kind",
			src:  `ability: idle: {predicates: {p: 0}, variables: x: {initial: 1}}`,
			want: "kind is required",
		},
		{
			name: "rule without conclusions",
			src:  `ability: idle: {predicates: {p: 0}, rules: r: {premises: ["p()"]}}`,
			want: "at least one conclusion",
		},
		{
			name: "task without recipes",
			src:  `ability: idle: tasks: t: {achieves: "p"}`,
			want: "recipes are required",
		},
		{
			name: "step with two kinds",
			src:  `ability: idle: tasks: t: recipes: r: body: [{make: "p()", wait: "p()"}]`,
			want: "step is both",
		},
		{
			name: "step with no kind",
			src:  `ability: idle: tasks: t: recipes: r: body: [{agent: "x"}]`,
			want: "step needs one of",
		},
		{
			name: "bad duration",
			src:  `ability: idle: tasks: t: recipes: r: body: [{wait: "p()", poll: "soon"}]`,
			want: `invalid duration "soon"`,
		},
		{
			name: "non-string fact",
			src:  `ability: idle: {predicates: {p: 0}, facts: [1]}`,
			want: "string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src, "idle")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	v := cuecontext.New().CompileString("ability: idle: {\n\tpredicates: {holding: \"one\"}\n}\n", cue.Filename("idle.cue"))
	require.NoError(t, v.Err())

	_, err := CompileAbility(v.LookupPath(cue.ParsePath("ability.idle")))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "predicates.holding", ce.Field)
	require.True(t, ce.Pos.IsValid())
	assert.Equal(t, 2, ce.Pos.Line())
	assert.Contains(t, err.Error(), "idle.cue:2:")
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "tasks.t", Message: "bad"}
	assert.Equal(t, "tasks.t: bad", err.Error())
}

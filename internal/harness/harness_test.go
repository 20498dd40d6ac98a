package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func robotScenario(t *testing.T) *Scenario {
	t.Helper()
	abs, err := filepath.Abs("testdata/abilities/robot.cue")
	require.NoError(t, err)
	return &Scenario{
		Name:        "inline",
		Description: "inline",
		Specs:       []string{abs},
	}
}

func TestRun_ExpectationMismatchFails(t *testing.T) {
	s := robotScenario(t)
	s.Flow = []FlowStep{
		{Agent: "arm", Infer: "holding(cup)", Expect: &FlowExpect{Truth: "true"}},
		{Agent: "arm", Value: "gripper", Expect: &FlowExpect{Value: "closed"}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `expected "true", got "false"`)
	assert.Contains(t, result.Errors[1], `expected "closed", got "open"`)
	assert.Len(t, result.Steps, 2, "failed expectations still record the step")
}

func TestRun_StepErrorContinues(t *testing.T) {
	s := robotScenario(t)
	s.Flow = []FlowStep{
		{Agent: "base", Infer: "holding(cup)"},
		{Agent: "arm", Value: "battery"},
		{Agent: "arm", Infer: "reachable(cup)", Expect: &FlowExpect{Truth: "true"}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `unknown agent "base"`)
	assert.Contains(t, result.Errors[1], "battery")
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "true", result.Steps[0].Output)
}

func TestRun_ReadPrivateVariableFails(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "vault.cue")
	require.NoError(t, os.WriteFile(spec, []byte(`
ability: vault: {
	predicates: locked: 1
	variables: code: {kind: "private", initial: 1234}
}
ability: thief: {
	requires: ["vault"]
	predicates: locked: 1
}
`), 0644))

	result, err := Run(context.Background(), &Scenario{
		Name:  "private",
		Specs: []string{spec},
		Flow:  []FlowStep{{Agent: "thief", Read: "code", Peer: "vault"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "error: NOT_FOUND", result.Steps[0].Output)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{Agent: "thief", Kind: "var_request", Target: "vault", Request: "thief#1", Detail: "code"}, result.Trace[0])
	assert.Equal(t, TraceEvent{Agent: "vault", Kind: "var_answer", Target: "thief", Request: "thief#1", Detail: "code error"}, result.Trace[1])
}

func TestRun_SetupFailureIsAnError(t *testing.T) {
	s := robotScenario(t)
	s.Setup = []SetupStep{{Agent: "arm", Fact: "flying(cup)"}}
	s.Flow = []FlowStep{{Agent: "arm", Infer: "holding(cup)"}}

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0")
}

func TestRun_InvalidAbilities(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(spec, []byte(`
ability: planner: {
	predicates: holding: 1
	tasks: fetch: recipes: ask: body: [{make: "holding(cup)", agent: "arm"}]
}
`), 0644))

	_, err := Run(context.Background(), &Scenario{Name: "bad", Specs: []string{spec}, Flow: []FlowStep{{Agent: "planner", Execute: "fetch"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid abilities")
}

func TestRun_BadTimeout(t *testing.T) {
	s := robotScenario(t)
	s.Timeout = "soon"
	s.Flow = []FlowStep{{Agent: "arm", Infer: "holding(cup)"}}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestSnapshotIsStable(t *testing.T) {
	r := NewResult()
	r.Steps = append(r.Steps, StepOutcome{Step: 0, Agent: "arm", Action: "infer p(a)", Output: "true"})
	a, err := Snapshot("s", r)
	require.NoError(t, err)
	b, err := Snapshot("s", r)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"trace": []`)
}

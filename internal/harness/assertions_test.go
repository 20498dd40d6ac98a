package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTrace = []TraceEvent{
	{Agent: "arm", Kind: "constraint_answer", Target: "planner", Request: "planner#1", Detail: "SUCCESS"},
	{Agent: "arm", Kind: "var_answer", Target: "planner", Request: "planner#2", Detail: "gripper=closed"},
	{Agent: "planner", Kind: "request_constraint", Target: "arm", Request: "planner#1", Detail: "make holding(cup)"},
	{Agent: "planner", Kind: "var_request", Target: "arm", Request: "planner#2", Detail: "gripper"},
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Kind: "request_constraint"}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Kind: "request_constraint", Agent: "planner", Target: "arm"}))

	err := assertTraceContains(sampleTrace, Assertion{Kind: "request_constraint", Agent: "arm"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "request_constraint from arm", ae.Expected)
	assert.Contains(t, err.Error(), "Full trace:")

	assert.Error(t, assertTraceContains(sampleTrace, Assertion{Kind: "var_request", Target: "base"}))
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Kinds: []string{"constraint_answer", "var_answer"}}))
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Agent: "planner", Kinds: []string{"request_constraint", "var_request"}}))
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Kinds: []string{"constraint_answer", "var_request"}}),
		"other messages may come in between")

	err := assertTraceOrder(sampleTrace, Assertion{Agent: "planner", Kinds: []string{"var_request", "request_constraint"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_constraint not found after [var_request]")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Kind: "request_constraint", Count: 1}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Kind: "abort", Count: 0}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Kind: "var_answer", Agent: "planner", Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Kind: "request_constraint", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertRunStatus(t *testing.T) {
	runs := []RunEvent{
		{Agent: "arm", Recipe: "close_gripper", Status: "succeeded"},
		{Agent: "arm", Recipe: "close_gripper", Status: "rejected"},
	}
	assert.NoError(t, assertRunStatus(runs, Assertion{Agent: "arm", Recipe: "close_gripper", Expect: "rejected"}),
		"the last run counts")
	assert.Error(t, assertRunStatus(runs, Assertion{Agent: "arm", Recipe: "close_gripper", Expect: "succeeded"}))
	assert.NoError(t, assertRunStatus(runs, Assertion{Agent: "planner", Recipe: "ask_arm", Expect: "never run"}))
}

func TestEvaluateAssertions_StateNeedsContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertFinalValue, Agent: "arm", Variable: "gripper", Expect: "open"},
		{Type: AssertTraceCount, Kind: "abort", Count: 0},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "requires the scenario abilities")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s %s %s %s\n", i+1, ev.Agent, ev.Target, ev.Kind, ev.Request, ev.Detail)
		}
	}
	return buf.String()
}

// AssertionContext gives state assertions access to the stopped abilities.
type AssertionContext struct {
	Harness *Harness
}

// sentBy filters the trace to messages sent by agent. An empty agent
// keeps the whole trace.
func sentBy(trace []TraceEvent, agent string) []TraceEvent {
	if agent == "" {
		return trace
	}
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Agent == agent {
			out = append(out, ev)
		}
	}
	return out
}

// assertTraceContains checks that some message of the kind was sent,
// optionally restricted by sender and target.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range sentBy(trace, a.Agent) {
		if ev.Kind == a.Kind && (a.Target == "" || ev.Target == a.Target) {
			return nil
		}
	}
	expected := a.Kind
	if a.Agent != "" {
		expected += " from " + a.Agent
	}
	if a.Target != "" {
		expected += " to " + a.Target
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the kinds occur as a subsequence of the
// messages sent by the agent. Other messages may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := sentBy(trace, a.Agent)
	next := 0
	for _, ev := range events {
		if next < len(a.Kinds) && ev.Kind == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
		Actual:   fmt.Sprintf("%s not found after %v", a.Kinds[next], a.Kinds[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that exactly Count messages of the kind were sent.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range sentBy(trace, a.Agent) {
		if ev.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFinalValue(h *Harness, a Assertion) error {
	ab, err := h.ability(a.Agent)
	if err != nil {
		return err
	}
	v, err := ab.Value(a.Variable)
	if err != nil {
		return err
	}
	if v.String() != a.Expect {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("%s.%s = %s", a.Agent, a.Variable, a.Expect),
			Actual:   v.String(),
		}
	}
	return nil
}

func assertFinalTruth(h *Harness, a Assertion) error {
	ab, err := h.ability(a.Agent)
	if err != nil {
		return err
	}
	truth, err := ab.Infer(a.Goal)
	if err != nil {
		return err
	}
	if truth.String() != a.Expect {
		return &AssertionError{
			Type:     AssertFinalTruth,
			Expected: fmt.Sprintf("%s on %s is %s", a.Goal, a.Agent, a.Expect),
			Actual:   truth.String(),
		}
	}
	return nil
}

// assertRunStatus checks the status of the last run of the recipe.
func assertRunStatus(runs []RunEvent, a Assertion) error {
	last := ""
	for _, r := range runs {
		if r.Agent == a.Agent && r.Recipe == a.Recipe {
			last = r.Status
		}
	}
	if last == "" {
		last = "never run"
	}
	if last != a.Expect {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("%s.%s %s", a.Agent, a.Recipe, a.Expect),
			Actual:   last,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failed assertion. State assertions need actx.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertRunStatus:
			err = assertRunStatus(result.Runs, a)
		case AssertFinalValue, AssertFinalTruth:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires the scenario abilities", i, a.Type)
			} else if a.Type == AssertFinalValue {
				err = assertFinalValue(actx.Harness, a)
			} else {
				err = assertFinalTruth(actx.Harness, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

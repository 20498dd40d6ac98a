package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ability/internal/logic"
)

// Scenario runs a set of abilities on an in-memory network, drives them
// through a flow of steps and checks the resulting trace and state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists the CUE ability files to compile. Relative paths are
	// resolved against the scenario file's directory.
	Specs []string `yaml:"specs"`

	// Setup establishes initial state. Setup steps must succeed.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow is the main sequence of steps, each with an optional expectation.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// Timeout bounds each execute and read step. Defaults to 5s.
	Timeout string `yaml:"timeout,omitempty"`
}

// SetupStep adds a fact or sets a variable on one agent.
type SetupStep struct {
	Agent string `yaml:"agent"`
	Fact  string `yaml:"fact,omitempty"`
	Set   string `yaml:"set,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// FlowStep runs exactly one action on an agent:
//
//   - infer: decide a goal; the output is true, false or unknown
//   - query: match a pattern; the output lists the variable bindings
//   - execute: run a task; the output is the result or the error code
//   - value: read a local variable
//   - read: read a variable of the peer named by Peer over the network
type FlowStep struct {
	Agent   string      `yaml:"agent"`
	Infer   string      `yaml:"infer,omitempty"`
	Query   string      `yaml:"query,omitempty"`
	Execute string      `yaml:"execute,omitempty"`
	Value   string      `yaml:"value,omitempty"`
	Read    string      `yaml:"read,omitempty"`
	Peer    string      `yaml:"peer,omitempty"`
	Expect  *FlowExpect `yaml:"expect,omitempty"`
}

// FlowExpect is the expected outcome of a step. Only the fields relevant
// to the step's action are checked.
type FlowExpect struct {
	Truth    string   `yaml:"truth,omitempty"`
	Bindings []string `yaml:"bindings,omitempty"`
	Result   string   `yaml:"result,omitempty"`
	Error    string   `yaml:"error,omitempty"`
	Value    string   `yaml:"value,omitempty"`
}

// Step action names.
const (
	ActionInfer   = "infer"
	ActionQuery   = "query"
	ActionExecute = "execute"
	ActionValue   = "value"
	ActionRead    = "read"
)

// Action returns the action of the step and its operand.
func (s FlowStep) Action() (string, string) {
	switch {
	case s.Infer != "":
		return ActionInfer, s.Infer
	case s.Query != "":
		return ActionQuery, s.Query
	case s.Execute != "":
		return ActionExecute, s.Execute
	case s.Value != "":
		return ActionValue, s.Value
	case s.Read != "":
		return ActionRead, s.Read
	}
	return "", ""
}

func (s FlowStep) actionCount() int {
	n := 0
	for _, v := range []string{s.Infer, s.Query, s.Execute, s.Value, s.Read} {
		if v != "" {
			n++
		}
	}
	return n
}

// Assertion validates the final trace or state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count,
	// final_value, final_truth or run_status.
	Type string `yaml:"type"`

	// Agent restricts trace assertions to messages sent by that agent and
	// names the agent for state assertions.
	Agent string `yaml:"agent,omitempty"`

	// Kind is the message kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Target restricts trace_contains to messages sent to that agent.
	Target string `yaml:"target,omitempty"`

	// Kinds is the expected order of message kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of messages (trace_count).
	Count int `yaml:"count,omitempty"`

	// Variable and Goal name the state to inspect (final_value,
	// final_truth); Recipe names the recipe (run_status).
	Variable string `yaml:"variable,omitempty"`
	Goal     string `yaml:"goal,omitempty"`
	Recipe   string `yaml:"recipe,omitempty"`

	// Expect is the expected value, truth or run status.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalValue    = "final_value"
	AssertFinalTruth    = "final_truth"
	AssertRunStatus     = "run_status"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so that typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, spec := range scenario.Specs {
		if !filepath.IsAbs(spec) {
			scenario.Specs[i] = filepath.Join(base, spec)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for _, spec := range s.Specs {
		if _, err := os.Stat(spec); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", spec)
		}
	}

	for i, step := range s.Setup {
		if step.Agent == "" {
			return fmt.Errorf("setup[%d]: agent is required", i)
		}
		if (step.Fact == "") == (step.Set == "") {
			return fmt.Errorf("setup[%d]: exactly one of fact or set is required", i)
		}
		if step.Set != "" && step.Value == "" {
			return fmt.Errorf("setup[%d]: value is required with set", i)
		}
	}

	for i, step := range s.Flow {
		if step.Agent == "" {
			return fmt.Errorf("flow[%d]: agent is required", i)
		}
		if step.actionCount() != 1 {
			return fmt.Errorf("flow[%d]: exactly one of infer, query, execute, value or read is required", i)
		}
		if step.Read != "" && step.Peer == "" {
			return fmt.Errorf("flow[%d]: peer is required with read", i)
		}
		if step.Expect == nil {
			continue
		}
		if t := step.Expect.Truth; t != "" && t != logic.True.String() && t != logic.False.String() && t != logic.Unknown.String() {
			return fmt.Errorf("flow[%d].expect: truth must be true, false or unknown, got %q", i, t)
		}
		if step.Expect.Result != "" && step.Expect.Error != "" {
			return fmt.Errorf("flow[%d].expect: result and error are exclusive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalValue:
		if a.Agent == "" || a.Variable == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: agent, variable and expect are required for final_value", index)
		}
	case AssertFinalTruth:
		if a.Agent == "" || a.Goal == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: agent, goal and expect are required for final_truth", index)
		}
	case AssertRunStatus:
		if a.Agent == "" || a.Recipe == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: agent, recipe and expect are required for run_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

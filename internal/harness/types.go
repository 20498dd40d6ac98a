package harness

// TraceEvent is one message an agent sent during a scenario.
type TraceEvent struct {
	Agent   string `json:"agent"`
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Request string `json:"request"`
	Detail  string `json:"detail,omitempty"`
}

// StepOutcome is what a flow step observed.
type StepOutcome struct {
	Step   int    `json:"step"`
	Agent  string `json:"agent"`
	Action string `json:"action"`
	Output string `json:"output"`
}

// RunEvent is one recipe execution journaled during a scenario.
type RunEvent struct {
	Agent  string `json:"agent"`
	Recipe string `json:"recipe"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the sent messages, grouped by agent in name order and
	// in send order within an agent.
	Trace []TraceEvent `json:"trace"`

	Steps []StepOutcome `json:"steps"`
	Runs  []RunEvent    `json:"runs"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepOutcome{},
		Runs:   []RunEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

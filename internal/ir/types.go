package ir

import "time"

// AbilitySpec is a compiled ability declaration.
type AbilitySpec struct {
	Name       string          `json:"name"`
	Requires   []string        `json:"requires,omitempty"` // Agents this ability talks to
	Predicates []PredicateDecl `json:"predicates,omitempty"`
	Variables  []VariableDecl  `json:"variables,omitempty"`
	Facts      []string        `json:"facts,omitempty"` // Text syntax, e.g. "at(robot, kitchen)"
	Rules      []RuleDecl      `json:"rules,omitempty"`
	Tasks      []TaskDecl      `json:"tasks,omitempty"`
}

// PredicateDecl declares a predicate name with a fixed arity.
type PredicateDecl struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// VariableKind classifies ability state.
type VariableKind string

const (
	// VariableControllable is state other agents may ask this ability to change.
	VariableControllable VariableKind = "controllable"
	// VariableReadable is state other agents may read.
	VariableReadable VariableKind = "readable"
	// VariablePrivate is state visible only inside the ability.
	VariablePrivate VariableKind = "private"
)

// ValidVariableKinds defines allowed variable kinds.
var ValidVariableKinds = map[VariableKind]bool{
	VariableControllable: true,
	VariableReadable:     true,
	VariablePrivate:      true,
}

// VariableDecl declares one piece of ability state.
type VariableDecl struct {
	Name    string       `json:"name"`
	Kind    VariableKind `json:"kind"`
	Initial string       `json:"initial,omitempty"` // Text syntax constant
}

// RuleDecl is a named premise -> conclusion rule in text syntax.
type RuleDecl struct {
	Name        string   `json:"name"`
	Premises    []string `json:"premises"`
	Conclusions []string `json:"conclusions"`
}

// TaskDecl groups the recipes that achieve one task. When Achieves names a
// predicate, remote make/ensure requests for that predicate run this task.
type TaskDecl struct {
	Name     string       `json:"name"`
	Achieves string       `json:"achieves,omitempty"`
	Recipes  []RecipeDecl `json:"recipes"`
}

// RecipeDecl is one precondition-guarded way to achieve a task.
type RecipeDecl struct {
	Name          string     `json:"name"`
	Agents        []string   `json:"agents,omitempty"`
	Preconditions []string   `json:"preconditions,omitempty"`
	Body          []StepDecl `json:"body"`
	Result        string     `json:"result,omitempty"` // Optional result expression
}

// StepKind identifies a recipe body step.
type StepKind string

const (
	StepEnsure StepKind = "ensure" // Keep a remote constraint enforced
	StepMake   StepKind = "make"   // Achieve a remote constraint once
	StepWait   StepKind = "wait"   // Poll a local condition until it holds
	StepAbort  StepKind = "abort"  // Abort an earlier ensure step
	StepSet    StepKind = "set"    // Assign a local variable
)

// ValidStepKinds defines allowed step kinds.
var ValidStepKinds = map[StepKind]bool{
	StepEnsure: true,
	StepMake:   true,
	StepWait:   true,
	StepAbort:  true,
	StepSet:    true,
}

// StepDecl is one step of a recipe body.
type StepDecl struct {
	Kind       StepKind      `json:"kind"`
	Label      string        `json:"label,omitempty"`      // Names an ensure step for a later abort
	Agent      string        `json:"agent,omitempty"`      // Target agent (ensure, make)
	Constraint string        `json:"constraint,omitempty"` // Constraint or condition expression
	Target     string        `json:"target,omitempty"`     // Label of the ensure step to abort
	Variable   string        `json:"variable,omitempty"`   // Variable to assign (set)
	Value      string        `json:"value,omitempty"`      // Value expression (set)
	Poll       time.Duration `json:"poll,omitempty"`       // Poll interval (wait)
	Timeout    time.Duration `json:"timeout,omitempty"`    // Give up after (wait); zero waits forever
}

package ir

import "fmt"

// Identifier correlates a distributed request across agents: the name of the
// agent that issued it and a number from that agent's private counter.
// Numbers are unique only within one agent's namespace.
type Identifier struct {
	Agent string `json:"agent"`
	ID    uint64 `json:"id"`
}

func (i Identifier) String() string {
	return fmt.Sprintf("%s#%d", i.Agent, i.ID)
}

// IsZero reports whether the identifier was never assigned.
func (i Identifier) IsZero() bool {
	return i.Agent == "" && i.ID == 0
}

// ConstraintMode says how a remote agent should treat a constraint.
type ConstraintMode string

const (
	// ModeEnsure asks the remote agent to keep the constraint true until
	// the request is aborted.
	ModeEnsure ConstraintMode = "ensure"
	// ModeMake asks the remote agent to make the constraint true once and
	// answer when done.
	ModeMake ConstraintMode = "make"
)

// Valid reports whether m is a known mode.
func (m ConstraintMode) Valid() bool {
	return m == ModeEnsure || m == ModeMake
}

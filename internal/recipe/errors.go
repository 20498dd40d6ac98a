package recipe

import (
	"fmt"
	"strings"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
)

// Unmet is a precondition that did not hold, with the engine's answer.
type Unmet struct {
	Expr  ir.Expr
	Truth logic.Truth
}

func (u Unmet) String() string {
	return fmt.Sprintf("%s is %s", u.Expr, u.Truth)
}

// PreconditionError reports the preconditions of a recipe that were false
// or unknown. engine.IsPrecondition recognizes it.
type PreconditionError struct {
	Recipe string
	Unmet  []Unmet
}

func (e *PreconditionError) Error() string {
	parts := make([]string, len(e.Unmet))
	for i, u := range e.Unmet {
		parts[i] = u.String()
	}
	return fmt.Sprintf("recipe %s: preconditions not met: %s", e.Recipe, strings.Join(parts, ", "))
}

// Unwrap exposes the runtime error code.
func (e *PreconditionError) Unwrap() error {
	return &engine.RuntimeError{Code: engine.ErrCodePrecondition, Message: "preconditions not met"}
}

// NoRecipeError reports that no recipe of a task had its preconditions
// met. engine.IsPrecondition recognizes it.
type NoRecipeError struct {
	Task     string
	Rejected []*PreconditionError
}

func (e *NoRecipeError) Error() string {
	if len(e.Rejected) == 0 {
		return fmt.Sprintf("task %s: no recipes", e.Task)
	}
	parts := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		parts[i] = r.Error()
	}
	return fmt.Sprintf("task %s: no applicable recipe (%s)", e.Task, strings.Join(parts, "; "))
}

// Unwrap exposes the runtime error code.
func (e *NoRecipeError) Unwrap() error {
	return &engine.RuntimeError{Code: engine.ErrCodePrecondition, Message: "no applicable recipe"}
}

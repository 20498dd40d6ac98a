package logic

import (
	"errors"
	"fmt"

	"github.com/roach88/ability/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownPredicate   = "E201" // predicate not in the registry
	ErrArityMismatch      = "E202" // call arity differs from the registered arity
	ErrArityConflict      = "E203" // predicate re-registered with another arity
	ErrNotGround          = "E204" // fact contains logic variables
	ErrInvalidPredicate   = "E205" // empty name or negative arity
	ErrEvaluatedPredicate = "E206" // facts and conclusions cannot use evaluated predicates
	ErrNotACall           = "E207" // term is not a function call
	ErrParse              = "E208" // term text does not parse
)

// ValidationError describes why a term or declaration was rejected.
type ValidationError struct {
	Code      string
	Predicate string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Predicate != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Predicate, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsValidationCode reports whether err is a ValidationError with the given code.
func IsValidationCode(err error, code string) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

// UnboundVariableError reports a conclusion variable that no premise bound.
type UnboundVariableError struct {
	Rule     string
	Variable ir.Ident
	Term     string
}

func (e *UnboundVariableError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %s: variable %s unbound in %s", e.Rule, e.Variable, e.Term)
	}
	return fmt.Sprintf("variable %s unbound in %s", e.Variable, e.Term)
}

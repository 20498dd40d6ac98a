package logic

import (
	"fmt"
	"strings"

	"github.com/roach88/ability/internal/ir"
)

// Builtin predicate names.
const (
	BuiltinEqual        = "equal"
	BuiltinDiff         = "diff"
	BuiltinLess         = "less"
	BuiltinLessEqual    = "less_equal"
	BuiltinGreater      = "greater"
	BuiltinGreaterEqual = "greater_equal"
)

// RegisterBuiltins adds the evaluated comparison predicates to r.
// equal and diff compare structurally; the ordering predicates accept two
// numbers (ints and doubles mix) or two strings.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		name string
		eval Evaluator
	}{
		{BuiltinEqual, func(args []ir.Expr) (bool, error) { return ir.Equal(args[0], args[1]), nil }},
		{BuiltinDiff, func(args []ir.Expr) (bool, error) { return !ir.Equal(args[0], args[1]), nil }},
		{BuiltinLess, ordered(func(c int) bool { return c < 0 })},
		{BuiltinLessEqual, ordered(func(c int) bool { return c <= 0 })},
		{BuiltinGreater, ordered(func(c int) bool { return c > 0 })},
		{BuiltinGreaterEqual, ordered(func(c int) bool { return c >= 0 })},
	}
	for _, b := range builtins {
		if _, err := r.Add(b.name, 2, b.eval); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.name, err)
		}
	}
	return nil
}

func ordered(accept func(int) bool) Evaluator {
	return func(args []ir.Expr) (bool, error) {
		c, err := compare(args[0], args[1])
		if err != nil {
			return false, err
		}
		return accept(c), nil
	}
}

// compare orders two constants of compatible kinds.
func compare(a, b ir.Expr) (int, error) {
	if x, ok := a.(ir.Str); ok {
		y, ok := b.(ir.Str)
		if !ok {
			return 0, fmt.Errorf("cannot compare %s with %s", a, b)
		}
		return strings.Compare(string(x), string(y)), nil
	}
	x, okA := number(a)
	y, okB := number(b)
	if !okA || !okB {
		return 0, fmt.Errorf("cannot compare %s with %s", a, b)
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	default:
		return 0, nil
	}
}

func number(e ir.Expr) (float64, bool) {
	switch n := e.(type) {
	case ir.Int:
		return float64(n), true
	case ir.Double:
		return float64(n), true
	default:
		return 0, false
	}
}

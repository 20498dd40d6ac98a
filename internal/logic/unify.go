package logic

import (
	"sort"
	"strings"

	"github.com/roach88/ability/internal/ir"
)

// Substitution maps identifiers to the expressions bound to them.
type Substitution map[ir.Ident]ir.Expr

// Clone returns a copy of s. A nil substitution clones to an empty one.
func (s Substitution) Clone() Substitution {
	out := make(Substitution, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String prints the bindings in sorted order: {A->robot, B->7}.
func (s Substitution) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("->")
		b.WriteString(s[ir.Ident(k)].String())
	}
	b.WriteByte('}')
	return b.String()
}

// Unify matches the arguments of f1 against the arguments of f2, extending
// ctx. Every identifier in f1 binds to whatever sits at the same position of
// f2; constants and nested calls of f1 must match structurally.
//
//	Unify(equal(a, b), equal(x, 7), nil) -> true, {a->x, b->7}
//	Unify(equal(x, 7), equal(a, b), nil) -> false
//
// ctx itself is never modified. The returned substitution holds the
// bindings made so far, also on failure.
func Unify(f1, f2 *ir.Call, ctx Substitution) (bool, Substitution) {
	return unify(f1, f2, ctx, bindAll)
}

// Match is Unify restricted to logic variables: only identifiers for which
// IsVariable holds bind, other identifiers are symbols that must be equal.
// The fact store and rules use Match.
func Match(pattern, fact *ir.Call, ctx Substitution) (bool, Substitution) {
	return unify(pattern, fact, ctx, ir.Ident.IsVariable)
}

func bindAll(ir.Ident) bool { return true }

func unify(f1, f2 *ir.Call, ctx Substitution, binds func(ir.Ident) bool) (bool, Substitution) {
	sub := ctx.Clone()
	if f1.Name() != f2.Name() || f1.Arity() != f2.Arity() {
		return false, sub
	}
	for i := 0; i < f1.Arity(); i++ {
		if !unifyArg(f1.Arg(i), f2.Arg(i), sub, binds) {
			return false, sub
		}
	}
	return true, sub
}

func unifyArg(p, v ir.Expr, sub Substitution, binds func(ir.Ident) bool) bool {
	switch x := p.(type) {
	case ir.Ident:
		if binds(x) {
			if bound, ok := sub[x]; ok {
				return ir.Equal(bound, v)
			}
			sub[x] = v
			return true
		}
	case *ir.Call:
		y, ok := v.(*ir.Call)
		if !ok || x.Name() != y.Name() || x.Arity() != y.Arity() {
			return false
		}
		for i := 0; i < x.Arity(); i++ {
			if !unifyArg(x.Arg(i), y.Arg(i), sub, binds) {
				return false
			}
		}
		return true
	}
	// Constant or non-binding identifier: compare against v, resolved
	// through an existing binding when v names one.
	if id, ok := v.(ir.Ident); ok {
		if bound, ok := sub[id]; ok {
			v = bound
		}
	}
	return ir.Equal(p, v)
}

// Instantiate replaces the logic variables of e with their bindings in sub.
// A variable without a binding yields an *UnboundVariableError.
func Instantiate(e ir.Expr, sub Substitution) (ir.Expr, error) {
	switch x := e.(type) {
	case ir.Ident:
		if !x.IsVariable() {
			return x, nil
		}
		v, ok := sub[x]
		if !ok {
			return nil, &UnboundVariableError{Variable: x, Term: e.String()}
		}
		return v, nil
	case *ir.Call:
		if ir.IsGround(x) {
			return x, nil
		}
		args := make([]ir.Expr, x.Arity())
		for i := range args {
			a, err := Instantiate(x.Arg(i), sub)
			if err != nil {
				if ue, ok := err.(*UnboundVariableError); ok {
					ue.Term = x.String()
				}
				return nil, err
			}
			args[i] = a
		}
		return ir.NewCall(x.Name(), args...), nil
	default:
		return e, nil
	}
}

// InstantiateCall is Instantiate for calls.
func InstantiateCall(c *ir.Call, sub Substitution) (*ir.Call, error) {
	e, err := Instantiate(c, sub)
	if err != nil {
		return nil, err
	}
	return e.(*ir.Call), nil
}

package logic

import (
	"errors"

	"github.com/roach88/ability/internal/ir"
)

// Rule derives its conclusions for every substitution under which all
// premises hold. Variables shared between premises join them.
type Rule struct {
	Name        string
	Premises    []*ir.Call
	Conclusions []*ir.Call
}

// ApplyResult summarizes one saturation.
type ApplyResult struct {
	Passes  int     // full passes over the rule list, including the final quiet one
	Added   int     // facts derived
	Unbound []error // *UnboundVariableError, one per rule and variable
}

// ApplyRules runs rules over fs until a full pass adds no fact.
//
// Premises are matched left to right; the substitution found for premise k
// is carried into premise k+1. Premises of evaluated predicates are decided
// by their evaluator once instantiated and never bind variables. A
// conclusion whose variables are not all bound is skipped and reported in
// the result.
//
// reg may be nil, in which case every premise is matched against facts.
func ApplyRules(rules []Rule, fs *FactSet, reg *Registry) ApplyResult {
	var res ApplyResult
	reported := make(map[string]bool)

	for {
		res.Passes++
		added := 0
		for _, r := range rules {
			// Collect first, then add, so a pass never observes its own
			// derivations halfway through a join.
			subs := matchPremises(r.Premises, Substitution{}, fs, reg, nil)
			for _, sub := range subs {
				for _, c := range r.Conclusions {
					fact, err := InstantiateCall(c, sub)
					if err != nil {
						var ue *UnboundVariableError
						if errors.As(err, &ue) {
							ue.Rule = r.Name
							key := r.Name + "\x00" + string(ue.Variable)
							if !reported[key] {
								reported[key] = true
								res.Unbound = append(res.Unbound, ue)
							}
						}
						continue
					}
					if fs.Add(fact) {
						added++
					}
				}
			}
		}
		res.Added += added
		if added == 0 {
			return res
		}
	}
}

// matchPremises enumerates every substitution that satisfies premises in
// order, starting from sub.
func matchPremises(premises []*ir.Call, sub Substitution, fs *FactSet, reg *Registry, out []Substitution) []Substitution {
	if len(premises) == 0 {
		return append(out, sub)
	}
	p := premises[0]
	rest := premises[1:]

	if reg != nil {
		if def, ok := reg.Lookup(p.Name()); ok && def.Evaluated() {
			if evaluate(def, p, sub) {
				return matchPremises(rest, sub, fs, reg, out)
			}
			return out
		}
	}

	for _, fact := range fs.WithName(p.Name()) {
		if ok, next := Match(p, fact, sub); ok {
			out = matchPremises(rest, next, fs, reg, out)
		}
	}
	return out
}

// evaluate instantiates p under sub and runs its evaluator. Unbound
// variables, arity mismatches and evaluator errors all count as false.
func evaluate(def *FuncDef, p *ir.Call, sub Substitution) bool {
	if p.Arity() != def.Arity {
		return false
	}
	inst, err := InstantiateCall(p, sub)
	if err != nil {
		return false
	}
	ok, err := def.Eval(inst.Args())
	return err == nil && ok
}

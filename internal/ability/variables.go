package ability

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
)

// ValueSuffix marks a symbol that reads a variable: battery::value.
const ValueSuffix = "::value"

// variables holds ability state. Reads come from the loop and from the
// agent's constraint worker, so access is locked.
type variables struct {
	mu    sync.RWMutex
	decls map[string]ir.VariableDecl
	vals  map[string]ir.Expr
}

func newVariables(decls []ir.VariableDecl) (*variables, error) {
	v := &variables{
		decls: make(map[string]ir.VariableDecl, len(decls)),
		vals:  make(map[string]ir.Expr, len(decls)),
	}
	for _, d := range decls {
		if _, dup := v.decls[d.Name]; dup {
			return nil, fmt.Errorf("variable %s declared twice", d.Name)
		}
		v.decls[d.Name] = d
		if d.Initial == "" {
			continue
		}
		x, err := ir.Parse(d.Initial)
		if err != nil {
			return nil, fmt.Errorf("variable %s initial value: %w", d.Name, err)
		}
		if !ir.IsGround(x) {
			return nil, fmt.Errorf("variable %s initial value %s is not ground", d.Name, x)
		}
		v.vals[d.Name] = x
	}
	return v, nil
}

func (v *variables) get(name string) (ir.Expr, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, ok := v.decls[name]; !ok {
		return nil, engine.NewNotFoundError("variable", name)
	}
	x, ok := v.vals[name]
	if !ok {
		return nil, fmt.Errorf("variable %s has no value", name)
	}
	return x, nil
}

func (v *variables) set(name string, x ir.Expr) error {
	if !ir.IsGround(x) {
		return fmt.Errorf("variable %s: value %s is not ground", name, x)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.decls[name]; !ok {
		return engine.NewNotFoundError("variable", name)
	}
	v.vals[name] = x
	return nil
}

// resolve replaces every <name>::value symbol with the variable's value.
func (v *variables) resolve(e ir.Expr) (ir.Expr, error) {
	switch x := e.(type) {
	case ir.Ident:
		name, ok := strings.CutSuffix(string(x), ValueSuffix)
		if !ok {
			return x, nil
		}
		return v.get(name)
	case *ir.Call:
		args := x.Args()
		changed := false
		for i, arg := range args {
			r, err := v.resolve(arg)
			if err != nil {
				return nil, err
			}
			if r != arg {
				args[i] = r
				changed = true
			}
		}
		if !changed {
			return x, nil
		}
		return ir.NewCall(x.Name(), args...), nil
	default:
		return e, nil
	}
}

// Value returns the current value of a variable.
func (a *Ability) Value(name string) (ir.Expr, error) {
	return a.vars.get(name)
}

// Set assigns a variable. Values must be ground.
func (a *Ability) Set(name string, x ir.Expr) error {
	if err := a.vars.set(name, x); err != nil {
		return err
	}
	a.logger.Debug("variable set", "variable", name, "value", x.String())
	return nil
}

// ReadValue serves remote reads: readable and controllable variables are
// visible to other agents, private ones are not.
func (a *Ability) ReadValue(name string) (ir.Expr, error) {
	a.vars.mu.RLock()
	d, ok := a.vars.decls[name]
	a.vars.mu.RUnlock()
	if !ok {
		return nil, engine.NewNotFoundError("variable", name)
	}
	if d.Kind == ir.VariablePrivate {
		return nil, fmt.Errorf("variable %s is private", name)
	}
	return a.vars.get(name)
}

// Variables returns the declared variables sorted by name.
func (a *Ability) Variables() []ir.VariableDecl {
	a.vars.mu.RLock()
	defer a.vars.mu.RUnlock()
	out := make([]ir.VariableDecl, 0, len(a.vars.decls))
	for _, d := range a.vars.decls {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

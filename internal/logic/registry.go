package logic

import (
	"fmt"
	"sort"

	"github.com/roach88/ability/internal/ir"
)

// Evaluator decides a ground call of an evaluated predicate.
// args are the call arguments, already checked against the arity.
type Evaluator func(args []ir.Expr) (bool, error)

// FuncDef is one registered function or predicate.
type FuncDef struct {
	ID    int
	Name  string
	Arity int
	Eval  Evaluator // nil for fact-backed predicates
}

// Evaluated reports whether the predicate is decided by an evaluator
// rather than looked up in a fact set.
func (d *FuncDef) Evaluated() bool {
	return d.Eval != nil
}

// Registry is the catalog of known predicates. IDs are assigned in
// insertion order starting at 0 and are only meaningful within one registry.
//
// Registry is not safe for concurrent use.
type Registry struct {
	defs   []*FuncDef
	byName map[string]*FuncDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*FuncDef)}
}

// Add registers a predicate and returns its id.
//
// Re-adding a name with the same arity is a no-op returning the existing id;
// the first evaluator stays in place. Re-adding with a different arity is
// rejected with ErrArityConflict and the first arity stays authoritative.
func (r *Registry) Add(name string, arity int, eval Evaluator) (int, error) {
	if name == "" {
		return 0, &ValidationError{Code: ErrInvalidPredicate, Message: "predicate name must not be empty"}
	}
	if arity < 0 {
		return 0, &ValidationError{
			Code:      ErrInvalidPredicate,
			Predicate: name,
			Message:   fmt.Sprintf("negative arity %d", arity),
		}
	}
	if def, ok := r.byName[name]; ok {
		if def.Arity != arity {
			return def.ID, &ValidationError{
				Code:      ErrArityConflict,
				Predicate: name,
				Message:   fmt.Sprintf("already registered with arity %d, got %d", def.Arity, arity),
			}
		}
		return def.ID, nil
	}
	def := &FuncDef{ID: len(r.defs), Name: name, Arity: arity, Eval: eval}
	r.defs = append(r.defs, def)
	r.byName[name] = def
	return def.ID, nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*FuncDef, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// ByID returns the definition with the given id.
func (r *Registry) ByID(id int) (*FuncDef, bool) {
	if id < 0 || id >= len(r.defs) {
		return nil, false
	}
	return r.defs[id], true
}

// Len returns the number of registered predicates.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Check verifies that the call's name is registered with a matching arity.
func (r *Registry) Check(c *ir.Call) (*FuncDef, error) {
	def, ok := r.byName[c.Name()]
	if !ok {
		return nil, &ValidationError{
			Code:      ErrUnknownPredicate,
			Predicate: c.Name(),
			Message:   fmt.Sprintf("unknown predicate in %s", c),
		}
	}
	if def.Arity != c.Arity() {
		return def, &ValidationError{
			Code:      ErrArityMismatch,
			Predicate: c.Name(),
			Message:   fmt.Sprintf("expects %d arguments, %s has %d", def.Arity, c, c.Arity()),
		}
	}
	return def, nil
}

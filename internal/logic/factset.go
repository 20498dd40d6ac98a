package logic

import (
	"github.com/roach88/ability/internal/ir"
)

// FactSet is a set of ground calls with set semantics under structural
// equality. Facts are indexed by predicate name and kept in insertion order.
//
// FactSet is not safe for concurrent use.
type FactSet struct {
	facts  []*ir.Call
	keys   map[string]struct{}
	byName map[string][]*ir.Call
}

// NewFactSet returns an empty fact set.
func NewFactSet() *FactSet {
	return &FactSet{
		keys:   make(map[string]struct{}),
		byName: make(map[string][]*ir.Call),
	}
}

// factKey is the canonical JSON of the fact. It agrees with ir.Equal.
func factKey(c *ir.Call) string {
	b, err := ir.MarshalCanonical(c)
	if err != nil {
		// Calls built through ir never fail to marshal.
		panic(err)
	}
	return string(b)
}

// Add inserts c and reports whether it was new. Callers must only add
// ground calls.
func (fs *FactSet) Add(c *ir.Call) bool {
	k := factKey(c)
	if _, ok := fs.keys[k]; ok {
		return false
	}
	fs.keys[k] = struct{}{}
	fs.facts = append(fs.facts, c)
	fs.byName[c.Name()] = append(fs.byName[c.Name()], c)
	return true
}

// Contains reports whether c is in the set.
func (fs *FactSet) Contains(c *ir.Call) bool {
	_, ok := fs.keys[factKey(c)]
	return ok
}

// Len returns the number of facts.
func (fs *FactSet) Len() int {
	return len(fs.facts)
}

// All returns the facts in insertion order.
func (fs *FactSet) All() []*ir.Call {
	out := make([]*ir.Call, len(fs.facts))
	copy(out, fs.facts)
	return out
}

// WithName returns the facts of one predicate. The returned slice is a
// snapshot: facts added later are not visible through it.
func (fs *FactSet) WithName(name string) []*ir.Call {
	s := fs.byName[name]
	return s[:len(s):len(s)]
}

// Clone returns an independent copy of the set.
func (fs *FactSet) Clone() *FactSet {
	out := NewFactSet()
	for _, f := range fs.facts {
		out.Add(f)
	}
	return out
}

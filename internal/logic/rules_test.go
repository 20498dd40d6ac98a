package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ir"
)

func facts(terms ...string) *FactSet {
	fs := NewFactSet()
	for _, t := range terms {
		fs.Add(ir.MustParseCall(t))
	}
	return fs
}

func rule(name string, premises []string, conclusions []string) Rule {
	r := Rule{Name: name}
	for _, p := range premises {
		r.Premises = append(r.Premises, ir.MustParseCall(p))
	}
	for _, c := range conclusions {
		r.Conclusions = append(r.Conclusions, ir.MustParseCall(c))
	}
	return r
}

func TestFactSet_SetSemantics(t *testing.T) {
	fs := NewFactSet()
	assert.True(t, fs.Add(ir.MustParseCall("at(robot, kitchen)")))
	assert.False(t, fs.Add(ir.MustParseCall("at(robot, kitchen)")))
	assert.True(t, fs.Add(ir.MustParseCall("at(kitchen, robot)")), "argument order matters")
	assert.Equal(t, 2, fs.Len())
	assert.Len(t, fs.WithName("at"), 2)
	assert.Empty(t, fs.WithName("near"))
}

func TestFactSet_WithNameIsSnapshot(t *testing.T) {
	fs := facts("p(1)")
	snap := fs.WithName("p")
	fs.Add(ir.MustParseCall("p(2)"))
	assert.Len(t, snap, 1)
	assert.Len(t, fs.WithName("p"), 2)
}

func TestFactSet_Clone(t *testing.T) {
	fs := facts("p(1)")
	cp := fs.Clone()
	cp.Add(ir.MustParseCall("p(2)"))
	assert.Equal(t, 1, fs.Len())
	assert.Equal(t, 2, cp.Len())
}

func TestApplyRules_Join(t *testing.T) {
	fs := facts("parent(ann, bob)", "parent(bob, cid)", "parent(bob, dee)")
	rules := []Rule{rule("grandparent",
		[]string{"parent(X, Y)", "parent(Y, Z)"},
		[]string{"grandparent(X, Z)"})}

	res := ApplyRules(rules, fs, nil)

	assert.Equal(t, 2, res.Added)
	assert.True(t, fs.Contains(ir.MustParseCall("grandparent(ann, cid)")))
	assert.True(t, fs.Contains(ir.MustParseCall("grandparent(ann, dee)")))
	assert.False(t, fs.Contains(ir.MustParseCall("grandparent(bob, cid)")))
}

func TestApplyRules_TransitiveClosure(t *testing.T) {
	fs := facts("edge(a, b)", "edge(b, c)", "edge(c, d)")
	rules := []Rule{
		rule("base", []string{"edge(X, Y)"}, []string{"path(X, Y)"}),
		rule("step", []string{"path(X, Y)", "edge(Y, Z)"}, []string{"path(X, Z)"}),
	}

	res := ApplyRules(rules, fs, nil)

	assert.Equal(t, 6, res.Added)
	assert.True(t, fs.Contains(ir.MustParseCall("path(a, d)")))
	assert.Len(t, fs.WithName("path"), 6)
}

func TestApplyRules_Idempotent(t *testing.T) {
	fs := facts("edge(a, b)", "edge(b, c)")
	rules := []Rule{
		rule("base", []string{"edge(X, Y)"}, []string{"path(X, Y)"}),
		rule("step", []string{"path(X, Y)", "edge(Y, Z)"}, []string{"path(X, Z)"}),
	}
	ApplyRules(rules, fs, nil)
	n := fs.Len()

	res := ApplyRules(rules, fs, nil)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Passes)
	assert.Equal(t, n, fs.Len())
}

func TestApplyRules_EvaluatedPremise(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	fs := facts("battery(r1, 80)", "battery(r2, 10)")
	rules := []Rule{rule("charged",
		[]string{"battery(R, L)", "greater(L, 50)"},
		[]string{"charged(R)"})}

	ApplyRules(rules, fs, reg)

	assert.True(t, fs.Contains(ir.MustParseCall("charged(r1)")))
	assert.False(t, fs.Contains(ir.MustParseCall("charged(r2)")))
}

func TestApplyRules_EvaluatedPremiseWithUnboundVariableFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	fs := facts("battery(r1, 80)")
	rules := []Rule{rule("odd",
		[]string{"greater(L, 50)", "battery(R, L)"},
		[]string{"charged(R)"})}

	res := ApplyRules(rules, fs, reg)
	assert.Equal(t, 0, res.Added)
}

func TestApplyRules_UnboundConclusionSkipped(t *testing.T) {
	fs := facts("p(1)", "p(2)")
	rules := []Rule{rule("broken",
		[]string{"p(X)"},
		[]string{"q(X, Y)", "r(X)"})}

	res := ApplyRules(rules, fs, nil)

	require.Len(t, res.Unbound, 1, "reported once per rule and variable")
	var ue *UnboundVariableError
	require.ErrorAs(t, res.Unbound[0], &ue)
	assert.Equal(t, "broken", ue.Rule)
	assert.Equal(t, ir.Ident("Y"), ue.Variable)

	assert.Empty(t, fs.WithName("q"))
	assert.Len(t, fs.WithName("r"), 2, "other conclusions still apply")
}

func TestApplyRules_ConstantsInPremises(t *testing.T) {
	fs := facts("at(robot, kitchen)", "at(drone, hall)")
	rules := []Rule{rule("in_kitchen",
		[]string{"at(X, kitchen)"},
		[]string{"busy(X)"})}

	ApplyRules(rules, fs, nil)

	assert.True(t, fs.Contains(ir.MustParseCall("busy(robot)")))
	assert.False(t, fs.Contains(ir.MustParseCall("busy(drone)")))
}

func TestApplyRules_NoPremises(t *testing.T) {
	fs := NewFactSet()
	rules := []Rule{rule("axiom", nil, []string{"ready(system)"})}

	res := ApplyRules(rules, fs, nil)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Passes)
}

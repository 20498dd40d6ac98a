package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ir"
)

func rule(name string, premises []string, conclusions ...string) ir.RuleDecl {
	return ir.RuleDecl{Name: name, Premises: premises, Conclusions: conclusions}
}

func TestAnalyzeRecursion_NoRules(t *testing.T) {
	warnings := AnalyzeRecursion(&ir.AbilitySpec{Name: "arm"})
	assert.NotNil(t, warnings)
	assert.Empty(t, warnings)
}

func TestAnalyzeRecursion_DAG(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "arm", Rules: []ir.RuleDecl{
		rule("near", []string{"at(X, R)", "room(R)"}, "near(X, R)"),
		rule("reachable", []string{"near(X, R)"}, "reachable(X)"),
	}}
	assert.Empty(t, AnalyzeRecursion(spec))
}

func TestAnalyzeRecursion_SelfLoop(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "map", Rules: []ir.RuleDecl{
		rule("base", []string{"edge(X, Y)"}, "reach(X, Y)"),
		rule("step", []string{"edge(X, Z)", "reach(Z, Y)"}, "reach(X, Y)"),
	}}

	warnings := AnalyzeRecursion(spec)
	require.Len(t, warnings, 1)
	w := warnings[0]
	assert.Equal(t, "map", w.Ability)
	assert.Equal(t, []string{"reach", "reach"}, w.Path)
	assert.Equal(t, []string{"step"}, w.Rules)
	assert.Equal(t, "warning", w.Level)
	assert.Equal(t, "Self-recursive predicate detected: reach -> reach", w.Message)
}

func TestAnalyzeRecursion_TwoPredicateCycle(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "arm", Rules: []ir.RuleDecl{
		rule("ab", []string{"a(X)"}, "b(X)"),
		rule("ba", []string{"b(X)"}, "a(X)"),
		rule("bc", []string{"b(X)"}, "c(X)"),
	}}

	warnings := AnalyzeRecursion(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b", "a"}, warnings[0].Path)
	assert.Equal(t, []string{"ab", "ba"}, warnings[0].Rules)
	assert.Equal(t, "Recursive rules detected: a -> b -> a", warnings[0].Message)
}

func TestAnalyzeRecursion_ThreePredicateCycle(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "arm", Rules: []ir.RuleDecl{
		rule("ab", []string{"a(X)"}, "b(X)"),
		rule("bc", []string{"b(X)"}, "c(X)"),
		rule("ca", []string{"c(X)"}, "a(X)"),
	}}

	warnings := AnalyzeRecursion(spec)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, warnings[0].Path)
	assert.Equal(t, []string{"ab", "bc", "ca"}, warnings[0].Rules)
}

func TestAnalyzeRecursion_IndependentCyclesSorted(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "arm", Rules: []ir.RuleDecl{
		rule("yy", []string{"y(X)"}, "y(X)"),
		rule("pq", []string{"p(X)"}, "q(X)"),
		rule("qp", []string{"q(X)"}, "p(X)"),
	}}

	warnings := AnalyzeRecursion(spec)
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{"p", "q", "p"}, warnings[0].Path)
	assert.Equal(t, []string{"y", "y"}, warnings[1].Path)
}

func TestAnalyzeRecursion_SkipsUnparsableRules(t *testing.T) {
	spec := &ir.AbilitySpec{Name: "arm", Rules: []ir.RuleDecl{
		rule("broken", []string{"a(X"}, "a(X)"),
	}}
	assert.Empty(t, AnalyzeRecursion(spec))
}

func TestTarjanSCC(t *testing.T) {
	t.Run("single node", func(t *testing.T) {
		sccs := tarjanSCC(dependencyGraph{"a": {}})
		assert.Equal(t, [][]string{{"a"}}, sccs)
	})
	t.Run("two node cycle", func(t *testing.T) {
		sccs := tarjanSCC(dependencyGraph{"a": {"b"}, "b": {"a"}})
		assert.Equal(t, [][]string{{"a", "b"}}, sccs)
	})
	t.Run("chain", func(t *testing.T) {
		sccs := tarjanSCC(dependencyGraph{"a": {"b"}, "b": {"c"}, "c": {}})
		assert.Len(t, sccs, 3)
	})
}

func TestReconstructCyclePath(t *testing.T) {
	assert.Equal(t, []string{}, reconstructCyclePath(nil, nil))
	graph := dependencyGraph{"a": {"b"}, "b": {"a"}}
	assert.Equal(t, []string{"a", "b", "a"}, reconstructCyclePath([]string{"a", "b"}, graph))
}

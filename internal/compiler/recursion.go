package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ability/internal/ir"
)

// RecursionWarning reports a group of predicates whose rules derive each
// other. Forward chaining still terminates on such groups because facts
// are a set, but a recursive rule that builds ever larger terms, such as
// next(X) -> next(succ(X)), saturates forever.
type RecursionWarning struct {
	Ability string   `json:"ability"`
	Path    []string `json:"path"`  // ["reach", "reach"] or ["a", "b", "a"]
	Rules   []string `json:"rules"` // Rules inside the group
	Message string   `json:"message"`
	Level   string   `json:"level"` // "warning"
}

// AnalyzeRecursion builds the predicate dependency graph of an ability's
// rules (premise predicate -> conclusion predicate) and reports every
// strongly connected component that is a cycle. A rule set without
// recursion returns an empty list.
//
// Rules that fail to parse are skipped; Validate reports them.
func AnalyzeRecursion(spec *ir.AbilitySpec) []RecursionWarning {
	if len(spec.Rules) == 0 {
		return []RecursionWarning{}
	}

	graph, edgeRules := buildPredicateGraph(spec.Rules)
	warnings := []RecursionWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, sccToWarning(spec.Name, scc, graph, edgeRules))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ",") < strings.Join(warnings[j].Path, ",")
	})
	return warnings
}

// dependencyGraph maps a predicate to the predicates its rules conclude.
// Edge lists are sorted and free of duplicates.
type dependencyGraph map[string][]string

func buildPredicateGraph(rules []ir.RuleDecl) (dependencyGraph, map[[2]string][]string) {
	edges := make(map[string]map[string]bool)
	edgeRules := make(map[[2]string][]string)
	for _, r := range rules {
		var from, to []string
		for _, p := range r.Premises {
			if c, err := ir.ParseCall(p); err == nil {
				from = append(from, c.Name())
			}
		}
		for _, p := range r.Conclusions {
			if c, err := ir.ParseCall(p); err == nil {
				to = append(to, c.Name())
			}
		}
		for _, f := range from {
			if edges[f] == nil {
				edges[f] = make(map[string]bool)
			}
			for _, t := range to {
				edges[f][t] = true
				key := [2]string{f, t}
				if !containsString(edgeRules[key], r.Name) {
					edgeRules[key] = append(edgeRules[key], r.Name)
				}
			}
		}
		for _, t := range to {
			if edges[t] == nil {
				edges[t] = make(map[string]bool)
			}
		}
	}

	graph := make(dependencyGraph, len(edges))
	for node, succ := range edges {
		list := make([]string, 0, len(succ))
		for s := range succ {
			list = append(list, s)
		}
		sort.Strings(list)
		graph[node] = list
	}
	return graph, edgeRules
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the output is deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func sccToWarning(ability string, scc []string, graph dependencyGraph, edgeRules map[[2]string][]string) RecursionWarning {
	path := []string{scc[0], scc[0]}
	if len(scc) > 1 {
		path = reconstructCyclePath(scc, graph)
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	var rules []string
	for key, names := range edgeRules {
		if members[key[0]] && members[key[1]] {
			for _, n := range names {
				if !containsString(rules, n) {
					rules = append(rules, n)
				}
			}
		}
	}
	sort.Strings(rules)

	msg := fmt.Sprintf("Recursive rules detected: %s", strings.Join(path, " -> "))
	if len(scc) == 1 {
		msg = fmt.Sprintf("Self-recursive predicate detected: %s -> %s", scc[0], scc[0])
	}
	return RecursionWarning{
		Ability: ability,
		Path:    path,
		Rules:   rules,
		Message: msg,
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path through an SCC: start at its
// first node and follow edges to unvisited members until the start is
// reached again.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		// Prefer closing the cycle once every member is on the path.
		if len(path) == len(scc) && hasEdge(graph, current, start) {
			next = start
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}

func hasEdge(graph dependencyGraph, from, to string) bool {
	for _, n := range graph[from] {
		if n == to {
			return true
		}
	}
	return false
}

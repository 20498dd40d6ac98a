package compiler

import (
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ability/internal/ir"
)

// CompileAbility parses a CUE value into an AbilitySpec.
//
// The CUE value should be the ability struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`ability: arm: { ... }`)
//	spec, err := CompileAbility(v.LookupPath(cue.ParsePath("ability.arm")))
//
// Struct field order is kept: predicates, rules, tasks and recipes come out
// in declaration order, which is the order recipes are tried in.
func CompileAbility(v cue.Value) (*ir.AbilitySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.AbilitySpec{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	var err error
	if spec.Requires, err = optionalStrings(v, "requires"); err != nil {
		return nil, err
	}
	if spec.Predicates, err = parsePredicates(v); err != nil {
		return nil, err
	}
	if spec.Variables, err = parseVariables(v); err != nil {
		return nil, err
	}
	if spec.Facts, err = optionalStrings(v, "facts"); err != nil {
		return nil, err
	}
	if spec.Rules, err = parseRules(v); err != nil {
		return nil, err
	}
	if spec.Tasks, err = parseTasks(v); err != nil {
		return nil, err
	}
	if len(spec.Predicates) == 0 && len(spec.Tasks) == 0 {
		return nil, &CompileError{
			Field:   "ability",
			Message: "an ability needs at least one predicate or task",
			Pos:     v.Pos(),
		}
	}
	return spec, nil
}

// parsePredicates reads `predicates: { name: arity }`.
func parsePredicates(v cue.Value) ([]ir.PredicateDecl, error) {
	pv := v.LookupPath(cue.ParsePath("predicates"))
	if !pv.Exists() {
		return nil, nil
	}
	iter, err := pv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.PredicateDecl
	for iter.Next() {
		arity, err := iter.Value().Int64()
		if err != nil {
			return nil, &CompileError{
				Field:   "predicates." + iter.Label(),
				Message: "arity must be an integer",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, ir.PredicateDecl{Name: iter.Label(), Arity: int(arity)})
	}
	return out, nil
}

// parseVariables reads `variables: { name: { kind: "...", initial: "..." } }`.
// A bare string is shorthand for the kind.
func parseVariables(v cue.Value) ([]ir.VariableDecl, error) {
	vv := v.LookupPath(cue.ParsePath("variables"))
	if !vv.Exists() {
		return nil, nil
	}
	iter, err := vv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.VariableDecl
	for iter.Next() {
		decl := ir.VariableDecl{Name: iter.Label()}
		field := iter.Value()
		if kind, err := field.String(); err == nil {
			decl.Kind = ir.VariableKind(kind)
		} else {
			kind, err := requiredString(field, "kind", "variables."+decl.Name)
			if err != nil {
				return nil, err
			}
			decl.Kind = ir.VariableKind(kind)
			if decl.Initial, err = optionalExpr(field, "initial"); err != nil {
				return nil, err
			}
		}
		out = append(out, decl)
	}
	return out, nil
}

// parseRules reads `rules: { name: { premises: [...], conclusions: [...] } }`.
func parseRules(v cue.Value) ([]ir.RuleDecl, error) {
	rv := v.LookupPath(cue.ParsePath("rules"))
	if !rv.Exists() {
		return nil, nil
	}
	iter, err := rv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.RuleDecl
	for iter.Next() {
		rule := ir.RuleDecl{Name: iter.Label()}
		field := iter.Value()
		if rule.Premises, err = optionalStrings(field, "premises"); err != nil {
			return nil, err
		}
		if rule.Conclusions, err = optionalStrings(field, "conclusions"); err != nil {
			return nil, err
		}
		if len(rule.Conclusions) == 0 {
			return nil, &CompileError{
				Field:   "rules." + rule.Name + ".conclusions",
				Message: "a rule needs at least one conclusion",
				Pos:     field.Pos(),
			}
		}
		out = append(out, rule)
	}
	return out, nil
}

// parseTasks reads `tasks: { name: { achieves: "...", recipes: { ... } } }`.
func parseTasks(v cue.Value) ([]ir.TaskDecl, error) {
	tv := v.LookupPath(cue.ParsePath("tasks"))
	if !tv.Exists() {
		return nil, nil
	}
	iter, err := tv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.TaskDecl
	for iter.Next() {
		task := ir.TaskDecl{Name: iter.Label()}
		field := iter.Value()
		if task.Achieves, err = optionalString(field, "achieves"); err != nil {
			return nil, err
		}
		if task.Recipes, err = parseRecipes(field, "tasks."+task.Name); err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func parseRecipes(v cue.Value, path string) ([]ir.RecipeDecl, error) {
	rv := v.LookupPath(cue.ParsePath("recipes"))
	if !rv.Exists() {
		return nil, &CompileError{Field: path + ".recipes", Message: "recipes are required", Pos: v.Pos()}
	}
	iter, err := rv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.RecipeDecl
	for iter.Next() {
		rd := ir.RecipeDecl{Name: iter.Label()}
		field := iter.Value()
		rpath := path + ".recipes." + rd.Name
		if rd.Agents, err = optionalStrings(field, "agents"); err != nil {
			return nil, err
		}
		if rd.Preconditions, err = optionalStrings(field, "preconditions"); err != nil {
			return nil, err
		}
		if rd.Result, err = optionalExpr(field, "result"); err != nil {
			return nil, err
		}
		if rd.Body, err = parseBody(field, rpath); err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: path + ".recipes", Message: "at least one recipe is required", Pos: rv.Pos()}
	}
	return out, nil
}

// parseBody reads the step list of a recipe. Each step names its kind with
// the key that carries its main operand:
//
//	{make: "holding(cup)", agent: "arm"}
//	{ensure: "at(robot, kitchen)", agent: "base", label: "stay"}
//	{wait: "ready(arm)", poll: "50ms", timeout: "2s"}
//	{abort: "stay"}
//	{set: "gripper", value: "closed"}
func parseBody(v cue.Value, path string) ([]ir.StepDecl, error) {
	bv := v.LookupPath(cue.ParsePath("body"))
	if !bv.Exists() {
		return nil, nil
	}
	list, err := bv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.StepDecl
	for i := 0; list.Next(); i++ {
		step, err := parseStep(list.Value(), fmt.Sprintf("%s.body[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}

func parseStep(v cue.Value, path string) (ir.StepDecl, error) {
	var step ir.StepDecl
	for _, kind := range []ir.StepKind{ir.StepEnsure, ir.StepMake, ir.StepWait, ir.StepAbort, ir.StepSet} {
		operand := v.LookupPath(cue.ParsePath(string(kind)))
		if !operand.Exists() {
			continue
		}
		if step.Kind != "" {
			return step, &CompileError{
				Field:   path,
				Message: fmt.Sprintf("step is both %s and %s", step.Kind, kind),
				Pos:     operand.Pos(),
			}
		}
		s, err := operand.String()
		if err != nil {
			return step, formatCUEError(err)
		}
		step.Kind = kind
		switch kind {
		case ir.StepAbort:
			step.Target = s
		case ir.StepSet:
			step.Variable = s
		default:
			step.Constraint = s
		}
	}
	if step.Kind == "" {
		return step, &CompileError{
			Field:   path,
			Message: "step needs one of ensure, make, wait, abort or set",
			Pos:     v.Pos(),
		}
	}

	var err error
	if step.Agent, err = optionalString(v, "agent"); err != nil {
		return step, err
	}
	if step.Label, err = optionalString(v, "label"); err != nil {
		return step, err
	}
	if step.Value, err = optionalExpr(v, "value"); err != nil {
		return step, err
	}
	if step.Poll, err = optionalDuration(v, "poll", path); err != nil {
		return step, err
	}
	if step.Timeout, err = optionalDuration(v, "timeout", path); err != nil {
		return step, err
	}
	return step, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredString(v cue.Value, field, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{Field: path + "." + field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// optionalExpr reads a field holding an expression. Numbers are accepted
// as written so that `initial: 80` and `initial: "80"` mean the same.
func optionalExpr(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	switch f.Kind() {
	case cue.IntKind:
		n, err := f.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return ir.Int(n).String(), nil
	case cue.FloatKind:
		x, err := f.Float64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return ir.Double(x).String(), nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, field string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	list, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalDuration(v cue.Value, field, path string) (time.Duration, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return 0, nil
	}
	s, err := f.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, &CompileError{
			Field:   path + "." + field,
			Message: fmt.Sprintf("invalid duration %q", s),
			Pos:     f.Pos(),
		}
	}
	return d, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

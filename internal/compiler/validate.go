package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
)

// Validation error codes (E100-E199). Expression errors found by the logic
// registry keep the logic package's codes (E201-E208).
const (
	ErrAbilityNameEmpty    = "E101" // ability name is required
	ErrAbilityEmpty        = "E102" // no predicates and no tasks
	ErrInvalidAchieves     = "E103" // achieves names an undeclared predicate
	ErrInvalidVariableKind = "E104" // variable kind not controllable/readable/private
	ErrDuplicateName       = "E105" // duplicate predicate/variable/rule/task/recipe/label
	ErrInvalidInitial      = "E106" // initial value is not a ground constant
	ErrNoRecipes           = "E107" // task without recipes
	ErrInvalidStep         = "E113" // step kind or operands invalid
	ErrUndefinedLabel      = "E114" // abort of an unknown or later ensure label
	ErrUndefinedVariable   = "E115" // reference to an undeclared ability variable
	ErrUnknownAgent        = "E116" // step targets an agent the ability does not require
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates one ability on its own. Remote constraints are only
// parsed, since the target ability is unknown.
func Validate(spec *ir.AbilitySpec) []ValidationError {
	return newValidator(spec, nil).run()
}

// ValidateAll validates a set of abilities together. Make and ensure
// constraints sent to an ability of the set are checked against that
// ability's predicates. Field paths are prefixed with the ability name.
// Returns all errors found (does not fail-fast).
func ValidateAll(specs []ir.AbilitySpec) []ValidationError {
	byName := make(map[string]*ir.AbilitySpec, len(specs))
	var errs []ValidationError
	for i := range specs {
		if _, dup := byName[specs[i].Name]; dup {
			errs = append(errs, ValidationError{
				Field:   "ability." + specs[i].Name,
				Message: fmt.Sprintf("duplicate ability name: %q", specs[i].Name),
				Code:    ErrDuplicateName,
			})
			continue
		}
		byName[specs[i].Name] = &specs[i]
	}
	for i := range specs {
		for _, e := range newValidator(&specs[i], byName).run() {
			e.Field = "ability." + specs[i].Name + "." + e.Field
			errs = append(errs, e)
		}
	}
	return errs
}

type validator struct {
	spec  *ir.AbilitySpec
	peers map[string]*ir.AbilitySpec
	eng   *logic.Engine
	vars  map[string]ir.VariableKind
	errs  []ValidationError
}

func newValidator(spec *ir.AbilitySpec, peers map[string]*ir.AbilitySpec) *validator {
	return &validator{
		spec:  spec,
		peers: peers,
		eng:   logic.New(logic.WithLogger(slog.New(slog.DiscardHandler))),
		vars:  make(map[string]ir.VariableKind),
	}
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
}

// addErr records an expression error, keeping the logic code when it has one.
func (v *validator) addErr(field string, err error) {
	var ve *logic.ValidationError
	if errors.As(err, &ve) {
		v.errs = append(v.errs, ValidationError{Field: field, Message: ve.Error(), Code: ve.Code})
		return
	}
	var pe *ir.ParseError
	if errors.As(err, &pe) {
		v.errs = append(v.errs, ValidationError{Field: field, Message: pe.Error(), Code: logic.ErrParse})
		return
	}
	v.errs = append(v.errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidStep})
}

func (v *validator) run() []ValidationError {
	spec := v.spec
	if strings.TrimSpace(spec.Name) == "" {
		v.add("name", ErrAbilityNameEmpty, "ability name is required and must be non-empty")
	}
	if len(spec.Predicates) == 0 && len(spec.Tasks) == 0 {
		v.add("ability", ErrAbilityEmpty, "an ability needs at least one predicate or task")
	}

	v.predicates()
	v.variables()
	v.facts()
	v.rules()
	v.tasks()
	return v.errs
}

func (v *validator) predicates() {
	seen := make(map[string]bool)
	for i, p := range v.spec.Predicates {
		field := fmt.Sprintf("predicates[%d]", i)
		if seen[p.Name] {
			v.add(field, ErrDuplicateName, "duplicate predicate name: %q", p.Name)
			continue
		}
		seen[p.Name] = true
		if p.Name == "" || p.Arity < 0 {
			v.add(field, logic.ErrInvalidPredicate, "predicate %q has invalid arity %d", p.Name, p.Arity)
			continue
		}
		if !v.eng.AddPredicate(p.Name, p.Arity, nil) {
			v.add(field, logic.ErrArityConflict, "predicate %q conflicts with a builtin of another arity", p.Name)
		}
	}
}

func (v *validator) variables() {
	for i, d := range v.spec.Variables {
		field := fmt.Sprintf("variables[%d]", i)
		if _, dup := v.vars[d.Name]; dup {
			v.add(field, ErrDuplicateName, "duplicate variable name: %q", d.Name)
			continue
		}
		v.vars[d.Name] = d.Kind
		if !ir.ValidVariableKinds[d.Kind] {
			v.add(field+".kind", ErrInvalidVariableKind,
				"invalid kind %q for variable %q, must be controllable, readable or private", d.Kind, d.Name)
		}
		if d.Initial == "" {
			continue
		}
		x, err := ir.Parse(d.Initial)
		if err != nil {
			v.addErr(field+".initial", err)
			continue
		}
		if _, isCall := x.(*ir.Call); isCall || !ir.IsGround(x) {
			v.add(field+".initial", ErrInvalidInitial, "initial value of %q must be a ground constant, got %s", d.Name, x)
		}
	}
}

func (v *validator) facts() {
	for i, f := range v.spec.Facts {
		field := fmt.Sprintf("facts[%d]", i)
		c, err := ir.ParseCall(f)
		if err != nil {
			v.addErr(field, err)
			continue
		}
		if err := v.eng.CheckFact(c); err != nil {
			v.addErr(field, err)
		}
	}
}

func (v *validator) rules() {
	seen := make(map[string]bool)
	for i, r := range v.spec.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if seen[r.Name] {
			v.add(field, ErrDuplicateName, "duplicate rule name: %q", r.Name)
		}
		seen[r.Name] = true

		rule := logic.Rule{Name: r.Name}
		ok := true
		for j, p := range r.Premises {
			c, err := ir.ParseCall(p)
			if err != nil {
				v.addErr(fmt.Sprintf("%s.premises[%d]", field, j), err)
				ok = false
				continue
			}
			rule.Premises = append(rule.Premises, c)
		}
		bound := make(map[ir.Ident]bool)
		for _, p := range rule.Premises {
			for _, x := range ir.Variables(p) {
				bound[x] = true
			}
		}
		for j, p := range r.Conclusions {
			c, err := ir.ParseCall(p)
			if err != nil {
				v.addErr(fmt.Sprintf("%s.conclusions[%d]", field, j), err)
				ok = false
				continue
			}
			for _, x := range ir.Variables(c) {
				if !bound[x] {
					v.add(fmt.Sprintf("%s.conclusions[%d]", field, j), ErrUndefinedVariable,
						"variable %s is not bound by any premise of rule %q", x, r.Name)
				}
			}
			rule.Conclusions = append(rule.Conclusions, c)
		}
		if !ok {
			continue
		}
		if err := v.eng.CheckRule(rule); err != nil {
			v.addErr(field, err)
		}
	}
}

func (v *validator) tasks() {
	seen := make(map[string]bool)
	for i, t := range v.spec.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if seen[t.Name] {
			v.add(field, ErrDuplicateName, "duplicate task name: %q", t.Name)
		}
		seen[t.Name] = true
		if t.Achieves != "" {
			if _, ok := v.eng.PredicateID(t.Achieves); !ok {
				v.add(field+".achieves", ErrInvalidAchieves, "task %q achieves undeclared predicate %q", t.Name, t.Achieves)
			}
		}
		if len(t.Recipes) == 0 {
			v.add(field+".recipes", ErrNoRecipes, "task %q has no recipes", t.Name)
		}
		recipes := make(map[string]bool)
		for j, r := range t.Recipes {
			rfield := fmt.Sprintf("%s.recipes[%d]", field, j)
			if recipes[r.Name] {
				v.add(rfield, ErrDuplicateName, "duplicate recipe name: %q", r.Name)
			}
			recipes[r.Name] = true
			v.recipe(rfield, r)
		}
	}
}

func (v *validator) recipe(field string, r ir.RecipeDecl) {
	for i, p := range r.Preconditions {
		v.localExpr(fmt.Sprintf("%s.preconditions[%d]", field, i), p, true)
	}
	if r.Result != "" {
		v.localExpr(field+".result", r.Result, false)
	}

	agents := make(map[string]bool)
	for _, a := range v.spec.Requires {
		agents[a] = true
	}
	for _, a := range r.Agents {
		agents[a] = true
	}

	labels := make(map[string]ir.StepKind)
	for i, s := range r.Body {
		sfield := fmt.Sprintf("%s.body[%d]", field, i)
		if s.Label != "" {
			if _, dup := labels[s.Label]; dup {
				v.add(sfield+".label", ErrDuplicateName, "duplicate step label: %q", s.Label)
			}
		}
		switch s.Kind {
		case ir.StepEnsure, ir.StepMake:
			v.remoteStep(sfield, s, agents)
		case ir.StepWait:
			v.localExpr(sfield+".constraint", s.Constraint, true)
			if s.Poll < 0 || s.Timeout < 0 {
				v.add(sfield, ErrInvalidStep, "poll and timeout cannot be negative")
			}
		case ir.StepAbort:
			if kind, ok := labels[s.Target]; !ok || kind != ir.StepEnsure {
				v.add(sfield+".target", ErrUndefinedLabel, "abort target %q is not an earlier ensure step", s.Target)
			}
		case ir.StepSet:
			if _, ok := v.vars[s.Variable]; !ok {
				v.add(sfield+".variable", ErrUndefinedVariable, "set of undeclared variable %q", s.Variable)
			}
			if s.Value == "" {
				v.add(sfield+".value", ErrInvalidStep, "set step needs a value")
			} else {
				v.localExpr(sfield+".value", s.Value, false)
			}
		default:
			v.add(sfield+".kind", ErrInvalidStep, "invalid step kind %q", s.Kind)
		}
		if s.Label != "" {
			labels[s.Label] = s.Kind
		}
	}
}

func (v *validator) remoteStep(field string, s ir.StepDecl, agents map[string]bool) {
	if s.Agent == "" {
		v.add(field+".agent", ErrInvalidStep, "%s step needs a target agent", s.Kind)
	} else if !agents[s.Agent] && s.Agent != v.spec.Name {
		v.add(field+".agent", ErrUnknownAgent, "agent %q is not required by the ability or recipe", s.Agent)
	}
	c, err := ir.ParseCall(s.Constraint)
	if err != nil {
		v.addErr(field+".constraint", err)
		return
	}
	v.varRefs(field+".constraint", c)

	target := v.peers[s.Agent]
	if s.Agent == v.spec.Name {
		target = v.spec
	}
	if target == nil {
		return
	}
	decls := make(map[string]int, len(target.Predicates))
	for _, p := range target.Predicates {
		decls[p.Name] = p.Arity
	}
	arity, ok := decls[c.Name()]
	switch {
	case !ok:
		v.add(field+".constraint", logic.ErrUnknownPredicate, "agent %q does not declare predicate %q", s.Agent, c.Name())
	case arity != c.Arity():
		v.add(field+".constraint", logic.ErrArityMismatch, "predicate %q of agent %q has arity %d, called with %d", c.Name(), s.Agent, arity, c.Arity())
	}
}

// localExpr checks an expression evaluated by this ability. Conditions
// must be calls; values may be any expression.
func (v *validator) localExpr(field, text string, condition bool) {
	var x ir.Expr
	var err error
	if condition {
		x, err = ir.ParseCall(text)
	} else {
		x, err = ir.Parse(text)
	}
	if err != nil {
		v.addErr(field, err)
		return
	}
	if err := v.eng.Validate(x); err != nil {
		v.addErr(field, err)
	}
	v.varRefs(field, x)
}

// varRefs reports <name>::value symbols naming undeclared variables.
func (v *validator) varRefs(field string, x ir.Expr) {
	for _, sym := range ir.Symbols(x) {
		name, ok := strings.CutSuffix(string(sym), "::value")
		if !ok {
			continue
		}
		if _, declared := v.vars[name]; !declared {
			v.add(field, ErrUndefinedVariable, "reference to undeclared variable %q", name)
		}
	}
}

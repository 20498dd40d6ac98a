package logic

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/ability/internal/ir"
)

// DefaultContext is the fact context used when none is given.
const DefaultContext = "default"

// Truth is the three-valued answer of Infer.
type Truth int

const (
	// Unknown means the goal references a predicate the registry has never
	// seen, or is malformed.
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// FactObserver is told about every fact added explicitly through AddFact.
// Derived facts are not reported.
type FactObserver func(context string, fact *ir.Call)

// Engine owns a registry, a rule list and one fact set per context.
// Contexts are created lazily and saturated lazily on first read after a
// change.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	registry *Registry
	rules    []Rule
	contexts map[string]*factContext

	logger   *slog.Logger
	observer FactObserver
	builtins bool
}

type factContext struct {
	facts     *FactSet
	saturated bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFactObserver installs fn as the fact observer.
func WithFactObserver(fn FactObserver) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithoutBuiltins leaves the registry empty instead of registering the
// comparison builtins.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtins = false
	}
}

// New creates an engine. The comparison builtins are registered unless
// WithoutBuiltins is given.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry: NewRegistry(),
		contexts: make(map[string]*factContext),
		logger:   slog.Default(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builtins {
		if err := RegisterBuiltins(e.registry); err != nil {
			// Registry is empty here, so builtins cannot conflict.
			panic(err)
		}
	}
	return e
}

// AddPredicate registers a predicate. It returns false when the name is
// invalid or already registered with a different arity; re-adding with
// the same arity returns true and changes nothing.
func (e *Engine) AddPredicate(name string, arity int, eval Evaluator) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.Add(name, arity, eval); err != nil {
		e.logger.Warn("predicate rejected", "predicate", name, "arity", arity, "error", err)
		return false
	}
	return true
}

// PredicateID returns the registry id of a predicate.
func (e *Engine) PredicateID(name string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.registry.Lookup(name)
	if !ok {
		return 0, false
	}
	return def.ID, true
}

// Predicates returns copies of every registered definition, sorted by name.
func (e *Engine) Predicates() []FuncDef {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]FuncDef, 0, e.registry.Len())
	for _, name := range e.registry.Names() {
		def, _ := e.registry.Lookup(name)
		out = append(out, *def)
	}
	return out
}

// Validate checks every call in x against the registry: each name must be
// registered and each arity must match the registered one.
func (e *Engine) Validate(x ir.Expr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateLocked(x)
}

func (e *Engine) validateLocked(x ir.Expr) error {
	for _, c := range ir.Calls(x) {
		if _, err := e.registry.Check(c); err != nil {
			return err
		}
	}
	return nil
}

// CheckFact returns the reason a call cannot be stored as a fact, or nil.
func (e *Engine) CheckFact(c *ir.Call) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkFactLocked(c)
}

func (e *Engine) checkFactLocked(c *ir.Call) error {
	if err := e.validateLocked(c); err != nil {
		return err
	}
	if def, _ := e.registry.Lookup(c.Name()); def.Evaluated() {
		return &ValidationError{
			Code:      ErrEvaluatedPredicate,
			Predicate: c.Name(),
			Message:   "evaluated predicates cannot be stored as facts",
		}
	}
	if !ir.IsGround(c) {
		return &ValidationError{
			Code:      ErrNotGround,
			Predicate: c.Name(),
			Message:   fmt.Sprintf("fact %s has variables %v", c, ir.Variables(c)),
		}
	}
	return nil
}

// AddFact parses term and adds it to context. It returns false when the
// term does not parse, is not a call, fails validation or is not ground.
// Adding a fact that is already present returns true.
func (e *Engine) AddFact(term string, context string) bool {
	c, err := ir.ParseCall(term)
	if err != nil {
		e.logger.Warn("fact rejected", "term", term, "error", err)
		return false
	}
	return e.AddFactExpr(c, context)
}

// AddFactExpr is AddFact for a parsed call.
func (e *Engine) AddFactExpr(c *ir.Call, context string) bool {
	context = contextName(context)

	e.mu.Lock()
	if err := e.checkFactLocked(c); err != nil {
		e.mu.Unlock()
		e.logger.Warn("fact rejected", "context", context, "term", c.String(), "error", err)
		return false
	}
	fc := e.contextLocked(context)
	added := fc.facts.Add(c)
	if added {
		fc.saturated = false
	}
	observer := e.observer
	e.mu.Unlock()

	if added {
		e.logger.Debug("fact added", "context", context, "term", c.String())
		if observer != nil {
			observer(context, c)
		}
	}
	return true
}

// AddRule parses and stores a rule. Premises and conclusions must be
// registered calls; conclusions cannot use evaluated predicates. Whether
// every conclusion variable is bound by a premise is not checked here.
func (e *Engine) AddRule(name string, premises, conclusions []string) bool {
	r := Rule{Name: name}
	for _, p := range premises {
		c, err := ir.ParseCall(p)
		if err != nil {
			e.logger.Warn("rule rejected", "rule", name, "premise", p, "error", err)
			return false
		}
		r.Premises = append(r.Premises, c)
	}
	for _, p := range conclusions {
		c, err := ir.ParseCall(p)
		if err != nil {
			e.logger.Warn("rule rejected", "rule", name, "conclusion", p, "error", err)
			return false
		}
		r.Conclusions = append(r.Conclusions, c)
	}
	return e.AddRuleExpr(r)
}

// AddRuleExpr is AddRule for parsed terms.
func (e *Engine) AddRuleExpr(r Rule) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkRuleLocked(r); err != nil {
		e.logger.Warn("rule rejected", "rule", r.Name, "error", err)
		return false
	}
	e.rules = append(e.rules, r)
	for _, fc := range e.contexts {
		fc.saturated = false
	}
	e.logger.Debug("rule added", "rule", r.Name, "premises", len(r.Premises), "conclusions", len(r.Conclusions))
	return true
}

// CheckRule returns the reason a rule would be rejected, or nil.
func (e *Engine) CheckRule(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkRuleLocked(r)
}

func (e *Engine) checkRuleLocked(r Rule) error {
	for _, p := range r.Premises {
		if err := e.validateLocked(p); err != nil {
			return err
		}
	}
	for _, c := range r.Conclusions {
		if err := e.validateLocked(c); err != nil {
			return err
		}
		if def, _ := e.registry.Lookup(c.Name()); def.Evaluated() {
			return &ValidationError{
				Code:      ErrEvaluatedPredicate,
				Predicate: c.Name(),
				Message:   "evaluated predicates cannot be concluded",
			}
		}
	}
	return nil
}

// Rules returns the stored rules in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Infer parses goal and answers it against the saturated facts of context.
// A goal that does not parse is Unknown.
func (e *Engine) Infer(goal string, context string) Truth {
	x, err := ir.Parse(goal)
	if err != nil {
		e.logger.Debug("goal unparsable", "goal", goal, "error", err)
		return Unknown
	}
	return e.InferExpr(x, context)
}

// InferExpr answers a goal:
//
//   - Unknown when the goal is not a call, references an unregistered
//     predicate or has the wrong arity;
//   - for evaluated predicates, the evaluator's answer on a ground goal,
//     Unknown on a goal with variables;
//   - otherwise True if some saturated fact matches the goal (exact
//     membership for ground goals), False if none does.
func (e *Engine) InferExpr(goal ir.Expr, context string) Truth {
	c, ok := goal.(*ir.Call)
	if !ok {
		return Unknown
	}
	context = contextName(context)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateLocked(c); err != nil {
		return Unknown
	}
	def, _ := e.registry.Lookup(c.Name())
	if def.Evaluated() {
		if !ir.IsGround(c) {
			return Unknown
		}
		ok, err := def.Eval(c.Args())
		if err != nil {
			e.logger.Debug("evaluator failed", "goal", c.String(), "error", err)
			return False
		}
		return truth(ok)
	}

	fs := e.saturatedLocked(context)
	if fs == nil {
		return False
	}
	if ir.IsGround(c) {
		return truth(fs.Contains(c))
	}
	for _, f := range fs.WithName(c.Name()) {
		if ok, _ := Match(c, f, nil); ok {
			return True
		}
	}
	return False
}

// Query returns every substitution under which pattern matches a saturated
// fact of context, in fact insertion order. Evaluated predicates and
// invalid patterns yield nothing.
func (e *Engine) Query(pattern *ir.Call, context string) []Substitution {
	context = contextName(context)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateLocked(pattern); err != nil {
		return nil
	}
	fs := e.saturatedLocked(context)
	if fs == nil {
		return nil
	}
	var out []Substitution
	for _, f := range fs.WithName(pattern.Name()) {
		if ok, sub := Match(pattern, f, nil); ok {
			out = append(out, sub)
		}
	}
	return out
}

// Saturate applies the rules to context until fixed point and returns
// what the run did. An already saturated context reports one quiet pass.
func (e *Engine) Saturate(context string) ApplyResult {
	context = contextName(context)

	e.mu.Lock()
	defer e.mu.Unlock()

	fc := e.contextLocked(context)
	res := ApplyRules(e.rules, fc.facts, e.registry)
	fc.saturated = true
	e.reportLocked(context, res)
	return res
}

// Facts returns the saturated facts of context in insertion order.
func (e *Engine) Facts(context string) []*ir.Call {
	context = contextName(context)

	e.mu.Lock()
	defer e.mu.Unlock()

	fs := e.saturatedLocked(context)
	if fs == nil {
		return nil
	}
	return fs.All()
}

// Contexts returns the names of every context holding facts, sorted.
func (e *Engine) Contexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.contexts))
	for name := range e.contexts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) contextLocked(name string) *factContext {
	fc, ok := e.contexts[name]
	if !ok {
		fc = &factContext{facts: NewFactSet()}
		e.contexts[name] = fc
	}
	return fc
}

// saturatedLocked returns the saturated fact set of a context, or nil when
// the context has never received a fact.
func (e *Engine) saturatedLocked(name string) *FactSet {
	fc, ok := e.contexts[name]
	if !ok {
		return nil
	}
	if !fc.saturated {
		res := ApplyRules(e.rules, fc.facts, e.registry)
		fc.saturated = true
		e.reportLocked(name, res)
	}
	return fc.facts
}

func (e *Engine) reportLocked(context string, res ApplyResult) {
	for _, err := range res.Unbound {
		e.logger.Warn("conclusion skipped", "context", context, "error", err)
	}
	if res.Added > 0 {
		e.logger.Debug("context saturated", "context", context, "derived", res.Added, "passes", res.Passes)
	}
}

func contextName(name string) string {
	if name == "" {
		return DefaultContext
	}
	return name
}

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

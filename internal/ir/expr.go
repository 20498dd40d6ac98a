package ir

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Expr is a sealed interface for logical expression nodes.
// Only Int, Double, Str, Ident and *Call implement it.
type Expr interface {
	expr() // Sealed
	String() string
}

// Int is an integer constant.
type Int int64

func (Int) expr() {}

func (i Int) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// Double is a floating point constant.
type Double float64

func (Double) expr() {}

// String prints the constant so that it re-parses as a Double, never as an Int.
func (d Double) String() string {
	s := strconv.FormatFloat(float64(d), 'g', -1, 64)
	if math.IsInf(float64(d), 0) || math.IsNaN(float64(d)) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Str is a string constant.
type Str string

func (Str) expr() {}

func (s Str) String() string {
	return strconv.Quote(string(s))
}

// Ident is a bare identifier: either a symbol (robot, x::value) or a logic
// variable. Logic variables follow the Prolog convention of starting with an
// upper-case letter or an underscore; see IsVariable.
type Ident string

func (Ident) expr() {}

func (i Ident) String() string {
	return string(i)
}

// IsVariable reports whether the identifier names a logic variable.
func (i Ident) IsVariable() bool {
	r, _ := utf8.DecodeRuneInString(string(i))
	return r == '_' || unicode.IsUpper(r)
}

// Call is a function call node. Its name and arguments are fixed at
// construction; use Arg, Arity or Args to read them.
type Call struct {
	name string
	args []Expr
}

func (*Call) expr() {}

// NewCall builds a call node. The argument slice is copied so later changes
// by the caller are not observed.
func NewCall(name string, args ...Expr) *Call {
	c := &Call{name: name}
	if len(args) > 0 {
		c.args = make([]Expr, len(args))
		copy(c.args, args)
	}
	return c
}

// Name returns the function name.
func (c *Call) Name() string { return c.name }

// Arity returns the number of arguments.
func (c *Call) Arity() int { return len(c.args) }

// Arg returns the i-th argument.
func (c *Call) Arg(i int) Expr { return c.args[i] }

// Args returns a copy of the argument list.
func (c *Call) Args() []Expr {
	out := make([]Expr, len(c.args))
	copy(out, c.args)
	return out
}

func (c *Call) String() string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteByte('(')
	for i, a := range c.args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports structural equality. Doubles compare by bit pattern so that
// equality agrees with the canonical fact key.
func Equal(a, b Expr) bool {
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case Double:
		y, ok := b.(Double)
		return ok && math.Float64bits(float64(x)) == math.Float64bits(float64(y))
	case Str:
		y, ok := b.(Str)
		return ok && x == y
	case Ident:
		y, ok := b.(Ident)
		return ok && x == y
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.name != y.name || len(x.args) != len(y.args) {
			return false
		}
		for i := range x.args {
			if !Equal(x.args[i], y.args[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsGround reports whether e contains no logic variables.
func IsGround(e Expr) bool {
	switch x := e.(type) {
	case Ident:
		return !x.IsVariable()
	case *Call:
		for _, a := range x.args {
			if !IsGround(a) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Variables returns the logic variables of e in first-occurrence order.
func Variables(e Expr) []Ident {
	var out []Ident
	seen := make(map[Ident]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case Ident:
			if x.IsVariable() && !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		case *Call:
			for _, a := range x.args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

// Symbols returns every identifier of e, variable or not, in first-occurrence
// order. The compiler uses it to find ability variables referenced by an
// expression (x::value).
func Symbols(e Expr) []Ident {
	var out []Ident
	seen := make(map[Ident]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case Ident:
			if !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		case *Call:
			for _, a := range x.args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

// Calls returns every call node of e, outermost first.
func Calls(e Expr) []*Call {
	var out []*Call
	var walk func(Expr)
	walk = func(e Expr) {
		if c, ok := e.(*Call); ok {
			out = append(out, c)
			for _, a := range c.args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

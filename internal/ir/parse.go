package ir

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// ParseError reports a malformed expression.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q at offset %d: %s", e.Input, e.Offset, e.Msg)
}

// Parse parses an expression in the ability text syntax:
//
//	equal(x::value, 7)
//	at(robot, room("kitchen"), -1.5)
//
// Identifiers may be qualified with "::". Integers, doubles (with a dot or an
// exponent) and double-quoted strings are constants.
func Parse(input string) (Expr, error) {
	p := newParser(input)
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("unexpected %s after expression", p.text())
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

// ParseCall parses an expression that must be a function call.
func ParseCall(input string) (*Call, error) {
	e, err := Parse(input)
	if err != nil {
		return nil, err
	}
	c, ok := e.(*Call)
	if !ok {
		return nil, &ParseError{Input: input, Msg: fmt.Sprintf("expected a function call, got %s", e)}
	}
	return c, nil
}

// MustParseCall is like ParseCall but panics on error.
// Use only in tests or for literals known to be valid.
func MustParseCall(input string) *Call {
	c, err := ParseCall(input)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	input string
	s     scanner.Scanner
	tok   rune
	pos   int
	err   error
}

func newParser(input string) *parser {
	p := &parser{input: input}
	p.s.Init(strings.NewReader(input))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = &ParseError{Input: input, Offset: s.Position.Offset, Msg: msg}
		}
	}
	p.next()
	return p
}

func (p *parser) next() {
	p.tok = p.s.Scan()
	p.pos = p.s.Position.Offset
}

func (p *parser) text() string {
	if p.tok == scanner.EOF {
		return "end of input"
	}
	return strconv.Quote(p.s.TokenText())
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return &ParseError{Input: p.input, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseExpr() (Expr, error) {
	if p.err != nil {
		return nil, p.err
	}
	switch p.tok {
	case '-', '+':
		sign := ""
		if p.tok == '-' {
			sign = "-"
		}
		p.next()
		if p.tok != scanner.Int && p.tok != scanner.Float {
			return nil, p.errorf("expected number after sign, got %s", p.text())
		}
		return p.parseNumber(sign)
	case scanner.Int, scanner.Float:
		return p.parseNumber("")
	case scanner.String:
		s, err := strconv.Unquote(p.s.TokenText())
		if err != nil {
			return nil, p.errorf("bad string literal %s", p.s.TokenText())
		}
		p.next()
		return Str(s), nil
	case scanner.Ident:
		return p.parseIdentOrCall()
	default:
		return nil, p.errorf("unexpected %s", p.text())
	}
}

// parseNumber parses the current number token with sign prepended.
// Integers are decimal only.
func (p *parser) parseNumber(sign string) (Expr, error) {
	text := sign + p.s.TokenText()
	tok := p.tok
	p.next()
	if tok == scanner.Int {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, p.errorf("bad integer %s: %v", text, err)
		}
		return Int(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("bad double %s: %v", text, err)
	}
	return Double(f), nil
}

func (p *parser) parseIdentOrCall() (Expr, error) {
	name := p.s.TokenText()
	p.next()
	for p.tok == ':' {
		p.next()
		if p.tok != ':' {
			return nil, p.errorf("expected \"::\" in qualified identifier")
		}
		p.next()
		if p.tok != scanner.Ident {
			return nil, p.errorf("expected identifier after \"::\", got %s", p.text())
		}
		name += "::" + p.s.TokenText()
		p.next()
	}
	if p.tok != '(' {
		return Ident(name), nil
	}
	p.next()

	var args []Expr
	if p.tok == ')' {
		p.next()
		return NewCall(name), nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.tok {
		case ',':
			p.next()
		case ')':
			p.next()
			return NewCall(name, args...), nil
		default:
			return nil, p.errorf("expected \",\" or \")\" in call to %s, got %s", name, p.text())
		}
	}
}

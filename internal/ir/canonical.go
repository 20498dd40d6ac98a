package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical JSON form of an expression.
// CRITICAL: This is the ONLY serialization used for fact identity and
// content hashes.
//
// Every node is a single-key object (calls carry "args" and "call"), keys
// are emitted in sorted order, strings are NFC normalized and HTML
// characters are not escaped:
//
//	{"int":7}
//	{"double":"1.5"}
//	{"str":"kitchen"}
//	{"ident":"x::value"}
//	{"args":[{"ident":"a"},{"int":7}],"call":"equal"}
//
// Doubles are written as strings so that the text form, not a float
// re-encoding, decides identity.
func MarshalCanonical(e Expr) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, e Expr) error {
	switch x := e.(type) {
	case Int:
		buf.WriteString(`{"int":`)
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		buf.WriteByte('}')
	case Double:
		buf.WriteString(`{"double":"`)
		buf.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
		buf.WriteString(`"}`)
	case Str:
		buf.WriteString(`{"str":`)
		if err := writeCanonicalString(buf, string(x)); err != nil {
			return err
		}
		buf.WriteByte('}')
	case Ident:
		buf.WriteString(`{"ident":`)
		if err := writeCanonicalString(buf, string(x)); err != nil {
			return err
		}
		buf.WriteByte('}')
	case *Call:
		buf.WriteString(`{"args":[`)
		for i, a := range x.args {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, a); err != nil {
				return fmt.Errorf("%s arg %d: %w", x.name, i, err)
			}
		}
		buf.WriteString(`],"call":`)
		if err := writeCanonicalString(buf, x.name); err != nil {
			return err
		}
		buf.WriteByte('}')
	case nil:
		return fmt.Errorf("nil expression")
	default:
		return fmt.Errorf("unsupported expression type %T", e)
	}
	return nil
}

// writeCanonicalString writes a JSON string with NFC normalization and
// HTML escaping disabled.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// UnmarshalExpr decodes the JSON form written by MarshalCanonical.
func UnmarshalExpr(data []byte) (Expr, error) {
	var node struct {
		Int    *json.Number      `json:"int"`
		Double *string           `json:"double"`
		Str    *string           `json:"str"`
		Ident  *string           `json:"ident"`
		Call   *string           `json:"call"`
		Args   []json.RawMessage `json:"args"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&node); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}

	switch {
	case node.Int != nil:
		n, err := node.Int.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode int: %w", err)
		}
		return Int(n), nil
	case node.Double != nil:
		f, err := strconv.ParseFloat(*node.Double, 64)
		if err != nil {
			return nil, fmt.Errorf("decode double: %w", err)
		}
		return Double(f), nil
	case node.Str != nil:
		return Str(*node.Str), nil
	case node.Ident != nil:
		return Ident(*node.Ident), nil
	case node.Call != nil:
		args := make([]Expr, len(node.Args))
		for i, raw := range node.Args {
			a, err := UnmarshalExpr(raw)
			if err != nil {
				return nil, fmt.Errorf("%s arg %d: %w", *node.Call, i, err)
			}
			args[i] = a
		}
		return NewCall(*node.Call, args...), nil
	default:
		return nil, fmt.Errorf("decode expression: no node kind in %s", data)
	}
}

// ExprJSON wraps an Expr so it can be embedded in JSON documents.
// A nil Expr encodes as null.
type ExprJSON struct {
	Expr Expr
}

// MarshalJSON implements json.Marshaler.
func (e ExprJSON) MarshalJSON() ([]byte, error) {
	if e.Expr == nil {
		return []byte("null"), nil
	}
	return MarshalCanonical(e.Expr)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *ExprJSON) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		e.Expr = nil
		return nil
	}
	x, err := UnmarshalExpr(data)
	if err != nil {
		return err
	}
	e.Expr = x
	return nil
}

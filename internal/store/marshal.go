package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/ability/internal/ir"
)

// marshalExpr converts an expression to canonical JSON TEXT for storage.
// A nil expression is stored as NULL.
func marshalExpr(e ir.Expr) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal expression: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalExpr is the inverse of marshalExpr.
func unmarshalExpr(s sql.NullString) (ir.Expr, error) {
	if !s.Valid {
		return nil, nil
	}
	e, err := ir.UnmarshalExpr([]byte(s.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal expression: %w", err)
	}
	return e, nil
}

// unmarshalFact decodes a stored term that must be a call.
func unmarshalFact(s string) (*ir.Call, error) {
	e, err := ir.UnmarshalExpr([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("unmarshal fact: %w", err)
	}
	c, ok := e.(*ir.Call)
	if !ok {
		return nil, fmt.Errorf("unmarshal fact: stored term %s is not a call", e)
	}
	return c, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/wire"
)

// RecordMessage appends a message to the journal. direction is "sent" or
// "received" from the point of view of agent. It implements agent.Journal.
func (s *Store) RecordMessage(agent, direction string, m *wire.Message) error {
	return s.WriteMessage(context.Background(), agent, direction, m)
}

// WriteMessage is RecordMessage with a context.
func (s *Store) WriteMessage(ctx context.Context, agent, direction string, m *wire.Message) error {
	payload, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
		(agent, direction, kind, source, target, req_agent, req_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent,
		direction,
		string(m.Kind),
		m.Source,
		m.Target,
		m.ID.Agent,
		int64(m.ID.ID),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteFact stores a ground fact under a logic context.
// Uses ON CONFLICT(context, hash) DO NOTHING: storing a fact twice is a
// no-op. Returns whether a new row was inserted.
func (s *Store) WriteFact(ctx context.Context, logicContext string, fact *ir.Call) (bool, error) {
	hash, err := ir.FactHash(fact)
	if err != nil {
		return false, fmt.Errorf("write fact: %w", err)
	}
	term, err := marshalExpr(fact)
	if err != nil {
		return false, fmt.Errorf("write fact: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (context, hash, term)
		VALUES (?, ?, ?)
		ON CONFLICT(context, hash) DO NOTHING
	`, logicContext, hash, term.String)
	if err != nil {
		return false, fmt.Errorf("write fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write fact: rows affected: %w", err)
	}
	return n > 0, nil
}

// WriteRun records a finished recipe execution of agent. Run tokens are
// unique; a second write for the same token is ignored.
func (s *Store) WriteRun(ctx context.Context, agent string, run recipe.Run) error {
	result, err := marshalExpr(run.Result)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (token, agent, recipe, status, result, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		run.Token,
		agent,
		run.Recipe,
		run.Status.String(),
		result,
		errString(run.Err),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

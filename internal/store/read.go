package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/wire"
)

// MessageRecord is one journaled message.
type MessageRecord struct {
	Seq       int64         `json:"seq"`
	Agent     string        `json:"agent"`
	Direction string        `json:"direction"`
	Message   *wire.Message `json:"message"`
}

// RunRecord is one journaled recipe execution.
type RunRecord struct {
	Seq    int64   `json:"seq"`
	Token  string  `json:"token"`
	Agent  string  `json:"agent"`
	Recipe string  `json:"recipe"`
	Status string  `json:"status"`
	Result ir.Expr `json:"-"`
	Error  string  `json:"error,omitempty"`
}

// ReadRequest returns every journaled message about the request
// (agent, id), as recorded by any agent sharing the store, in seq order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadRequest(ctx context.Context, agent string, id uint64) ([]MessageRecord, error) {
	return s.queryMessages(ctx, `
		SELECT seq, agent, direction, payload
		FROM messages
		WHERE req_agent = ? AND req_id = ?
		ORDER BY seq ASC
	`, agent, int64(id))
}

// ReadMessages returns the messages recorded by agent in seq order.
// A limit of zero or less returns all of them.
func (s *Store) ReadMessages(ctx context.Context, agent string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryMessages(ctx, `
		SELECT seq, agent, direction, payload
		FROM messages
		WHERE agent = ?
		ORDER BY seq ASC
		LIMIT ?
	`, agent, limit)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	records := []MessageRecord{}
	for rows.Next() {
		var (
			rec     MessageRecord
			payload string
		)
		if err := rows.Scan(&rec.Seq, &rec.Agent, &rec.Direction, &payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Message, err = wire.Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

// MaxRequestID returns the highest request id agent issued according to
// the journal, or zero. A restarted agent continues numbering after it
// so identifiers are not reused.
func (s *Store) MaxRequestID(ctx context.Context, agent string) (uint64, error) {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(req_id) FROM messages WHERE req_agent = ?
	`, agent).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("max request id: %w", err)
	}
	if !maxID.Valid || maxID.Int64 < 0 {
		return 0, nil
	}
	return uint64(maxID.Int64), nil
}

// ReadFacts returns the facts stored under a logic context in the order
// they were first written.
func (s *Store) ReadFacts(ctx context.Context, logicContext string) ([]*ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term FROM facts WHERE context = ? ORDER BY seq ASC
	`, logicContext)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []*ir.Call{}
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		c, err := unmarshalFact(term)
		if err != nil {
			return nil, err
		}
		facts = append(facts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// FactContexts returns the logic contexts that have stored facts, sorted.
func (s *Store) FactContexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT context FROM facts ORDER BY context COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query fact contexts: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan fact context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadRuns returns the recipe executions recorded for agent in seq order.
func (s *Store) ReadRuns(ctx context.Context, agent string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, token, agent, recipe, status, result, error
		FROM runs
		WHERE agent = ?
		ORDER BY seq ASC
	`, agent)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r      RunRecord
			result sql.NullString
		)
		if err := rows.Scan(&r.Seq, &r.Token, &r.Agent, &r.Recipe, &r.Status, &result, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.Result, err = unmarshalExpr(result); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.Token, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

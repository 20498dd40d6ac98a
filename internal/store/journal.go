package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
)

// RunObserver returns a recipe observer that journals every finished
// execution of agent. Write failures are logged, never returned: a broken
// journal does not stop the agent.
func (s *Store) RunObserver(agent string, logger *slog.Logger) recipe.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(run recipe.Run) {
		if err := s.WriteRun(context.Background(), agent, run); err != nil {
			logger.Error("journal run failed", "agent", agent, "token", run.Token, "error", err)
		}
	}
}

// FactObserver returns a logic fact observer that persists every fact
// added to an engine.
func (s *Store) FactObserver(logger *slog.Logger) logic.FactObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return func(logicContext string, fact *ir.Call) {
		if _, err := s.WriteFact(context.Background(), logicContext, fact); err != nil {
			logger.Error("journal fact failed", "context", logicContext, "fact", fact.String(), "error", err)
		}
	}
}

// LoadFacts adds the stored facts of a logic context back into eng. The
// context's predicates must already be registered. Returns the number of
// facts the engine accepted.
func (s *Store) LoadFacts(ctx context.Context, eng *logic.Engine, logicContext string) (int, error) {
	facts, err := s.ReadFacts(ctx, logicContext)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, f := range facts {
		if err := eng.CheckFact(f); err != nil {
			return loaded, fmt.Errorf("load fact %s: %w", f, err)
		}
		eng.AddFactExpr(f, logicContext)
		loaded++
	}
	return loaded, nil
}

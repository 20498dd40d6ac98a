package recipe

import (
	"log/slog"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
)

// Task holds alternative recipes in declaration order. Execute runs the
// first recipe whose preconditions hold. Like a recipe, a task has at most
// one execution in flight.
type Task struct {
	name    string
	recipes []*Recipe
	logger  *slog.Logger

	pending  []ResultCallback
	running  bool
	aborting bool
	active   *Recipe
	rejected []*PreconditionError
}

// NewTask creates a task over recipes.
func NewTask(name string, recipes []*Recipe, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{name: name, recipes: recipes, logger: logger.With("task", name)}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Recipes returns the recipes in declaration order.
func (t *Task) Recipes() []*Recipe { return append([]*Recipe(nil), t.recipes...) }

// Running reports whether an execution is in flight.
func (t *Task) Running() bool { return t.running }

// Execute selects and runs a recipe, or joins the execution in flight.
func (t *Task) Execute(cb ResultCallback) {
	t.pending = append(t.pending, cb)
	if t.running {
		return
	}
	t.running = true
	t.aborting = false
	t.rejected = nil
	t.try(0)
}

func (t *Task) try(i int) {
	if t.aborting {
		t.finish(nil, engine.NewAbortedError("task "+t.name))
		return
	}
	if i == len(t.recipes) {
		t.finish(nil, &NoRecipeError{Task: t.name, Rejected: t.rejected})
		return
	}
	r := t.recipes[i]
	r.AsyncEvaluatePreconditions(func(err error, _ []Unmet) {
		if err != nil {
			if pe, ok := err.(*PreconditionError); ok {
				t.rejected = append(t.rejected, pe)
				t.try(i + 1)
				return
			}
			t.finish(nil, err)
			return
		}
		if t.aborting {
			t.finish(nil, engine.NewAbortedError("task "+t.name))
			return
		}
		t.logger.Debug("recipe selected", "recipe", r.Name())
		t.active = r
		r.Execute(func(result ir.Expr, err error) {
			if t.active != r {
				return
			}
			t.active = nil
			t.finish(result, err)
		})
	})
}

func (t *Task) finish(result ir.Expr, err error) {
	t.running = false
	pending := t.pending
	t.pending = nil
	for _, cb := range pending {
		cb(result, err)
	}
}

// Abort aborts the running recipe, or stops recipe selection. It returns
// false when nothing is in flight.
func (t *Task) Abort() bool {
	if !t.running || t.aborting {
		return false
	}
	t.aborting = true
	if t.active != nil {
		if !t.active.Abort() {
			// The recipe is between states; finish now and drop its
			// late completion.
			t.active = nil
			t.finish(nil, engine.NewAbortedError("task "+t.name))
		}
	}
	return true
}

// Compute implements compute.Computation.
func (t *Task) Compute(cb compute.Callback) {
	t.Execute(func(_ ir.Expr, err error) { cb(err) })
}

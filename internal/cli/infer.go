package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ability/internal/ability"
	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/store"
	"github.com/roach88/ability/internal/wire"
)

// InferOptions holds flags for the infer command.
type InferOptions struct {
	*RootOptions
	Ability  string
	Facts    []string
	Database string
}

// InferResult is the answer to one goal.
type InferResult struct {
	Ability  string              `json:"ability"`
	Goal     string              `json:"goal"`
	Truth    string              `json:"truth,omitempty"`
	Bindings []map[string]string `json:"bindings,omitempty"`
}

// NewInferCommand creates the infer command.
func NewInferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "infer <abilities-dir> <goal>",
		Short: "Decide a goal against an ability's facts and rules",
		Long: `Decide a goal with the logic engine of one ability, without starting it.

A ground goal prints its truth value. A goal with variables (capitalised
names) prints every binding that makes it true.

Examples:
  ability infer ./abilities --ability arm 'reachable(cup)'
  ability infer ./abilities --ability arm --fact 'at(plate, table)' 'reachable(X)'
  ability infer ./abilities --ability arm --db ./ability.db 'holding(X)'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfer(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ability, "ability", "", "ability to ask (required)")
	_ = cmd.MarkFlagRequired("ability")
	cmd.Flags().StringArrayVar(&opts.Facts, "fact", nil, "extra fact, repeatable")
	cmd.Flags().StringVar(&opts.Database, "db", "", "load the facts journaled in this database")

	return cmd
}

func runInfer(opts *InferOptions, dir, goal string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	specs, err := loadAbilities(dir)
	if err != nil {
		code, message := parseLoadError(err)
		return formatter.Fail(ExitCommandError, code, message, nil)
	}
	spec, err := findAbility(specs, opts.Ability)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNoAbility, err.Error(), nil)
	}

	logger := slog.New(slog.DiscardHandler)
	eng := logic.New(logic.WithLogger(logger))
	host := agent.New(agent.Config{Name: spec.Name}, wire.NewMemoryNetwork().Join(spec.Name), agent.WithLogger(logger))
	ab, err := ability.New(spec, eng, host, ability.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	if opts.Database != "" {
		n, err := loadJournaledFacts(cmd.Context(), opts.Database, eng, ab.Context())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		formatter.VerboseLog("Loaded %d fact(s) from %s", n, opts.Database)
	}
	for _, f := range opts.Facts {
		fact, err := ir.ParseCall(f)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("fact %q: %v", f, err), nil)
		}
		if err := ab.AddFact(fact); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("fact %q: %v", f, err), nil)
		}
	}

	x, err := ir.Parse(goal)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("goal %q: %v", goal, err), nil)
	}
	result := InferResult{Ability: spec.Name, Goal: x.String()}
	call, isCall := x.(*ir.Call)
	if isCall && len(ir.Variables(call)) > 0 {
		subs, err := ab.Query(call)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		result.Bindings = bindingMaps(subs)
	} else {
		result.Truth = ab.Check(x).String()
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	switch {
	case result.Truth != "":
		fmt.Fprintln(w, result.Truth)
	case len(result.Bindings) == 0:
		fmt.Fprintln(w, "no matches")
	default:
		for _, b := range result.Bindings {
			fmt.Fprintln(w, renderBinding(b))
		}
	}
	return nil
}

func loadJournaledFacts(ctx context.Context, path string, eng *logic.Engine, logicContext string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open database: %w", err)
	}
	defer st.Close()
	return st.LoadFacts(ctx, eng, logicContext)
}

// bindingMaps converts substitutions to string maps, sorted by rendering.
func bindingMaps(subs []logic.Substitution) []map[string]string {
	out := make([]map[string]string, 0, len(subs))
	for _, sub := range subs {
		m := make(map[string]string, len(sub))
		for k, v := range sub {
			m[string(k)] = v.String()
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return renderBinding(out[i]) < renderBinding(out[j]) })
	return out
}

func renderBinding(b map[string]string) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + b[k]
	}
	return strings.Join(parts, ", ")
}

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ability/internal/store"
	"github.com/roach88/ability/internal/wire"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Agent    string
	ID       uint64 // one request of Agent, 0 for all messages
	Limit    int
	Runs     bool
}

// TraceResult holds the trace output.
type TraceResult struct {
	Agent    string                `json:"agent"`
	Request  string                `json:"request,omitempty"`
	Messages []store.MessageRecord `json:"messages"`
	Runs     []RunView             `json:"runs,omitempty"`
}

// RunView is a journaled recipe run with its result rendered.
type RunView struct {
	Seq    int64  `json:"seq"`
	Token  string `json:"token"`
	Recipe string `json:"recipe"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled messages of an agent",
		Long: `Show the messages an agent journaled, in order.

With --id, shows every message about one request of the agent as recorded
by any agent sharing the journal: the request, its answer, aborts and
acknowledgements. With --runs, recipe runs are listed too.

Examples:
  ability trace --db ./ability.db --agent planner
  ability trace --db ./ability.db --agent planner --id 3
  ability trace --db ./ability.db --agent arm --runs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "agent to trace (required)")
	_ = cmd.MarkFlagRequired("agent")
	cmd.Flags().Uint64Var(&opts.ID, "id", 0, "trace a single request id of the agent")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum messages to show (0 for all)")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "include recipe runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result := TraceResult{Agent: opts.Agent}
	if opts.ID > 0 {
		result.Request = fmt.Sprintf("%s#%d", opts.Agent, opts.ID)
		result.Messages, err = st.ReadRequest(ctx, opts.Agent, opts.ID)
	} else {
		result.Messages, err = st.ReadMessages(ctx, opts.Agent, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}

	if opts.Runs {
		runs, err := st.ReadRuns(ctx, opts.Agent)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read runs", err)
		}
		result.Runs = make([]RunView, 0, len(runs))
		for _, r := range runs {
			v := RunView{Seq: r.Seq, Token: r.Token, Recipe: r.Recipe, Status: r.Status, Error: r.Error}
			if r.Result != nil {
				v.Result = r.Result.String()
			}
			result.Runs = append(result.Runs, v)
		}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result)
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return (&OutputFormatter{Writer: cmd.OutOrStdout()}).Encode(CLIResponse{Status: "ok", Data: result})
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult) error {
	if result.Request != "" {
		fmt.Fprintf(w, "Trace for request: %s\n", result.Request)
	} else {
		fmt.Fprintf(w, "Trace for agent: %s\n", result.Agent)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Messages ===")
	if len(result.Messages) == 0 {
		fmt.Fprintln(w, "  (no messages)")
	}
	for _, rec := range result.Messages {
		fmt.Fprintf(w, "  [%d] %s %-4s %s\n", rec.Seq, rec.Agent, rec.Direction, describeMessage(rec.Message))
	}

	if result.Runs != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Runs ===")
		if len(result.Runs) == 0 {
			fmt.Fprintln(w, "  (no runs)")
		}
		for _, r := range result.Runs {
			fmt.Fprintf(w, "  [%d] %s %s", r.Seq, r.Recipe, r.Status)
			if r.Result != "" {
				fmt.Fprintf(w, " -> %s", r.Result)
			}
			if r.Error != "" {
				fmt.Fprintf(w, " (%s)", r.Error)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

// describeMessage renders kind, id, route and payload on one line.
func describeMessage(m *wire.Message) string {
	s := fmt.Sprintf("%s %s %s->%s", m.Kind, m.ID, m.Source, m.Target)
	switch {
	case m.Request != nil:
		s += fmt.Sprintf(" %s %s", m.Request.Mode, m.Request.Constraint.Expr)
	case m.Answer != nil:
		s += " " + string(m.Answer.State)
		if m.Answer.Reason != "" {
			s += ": " + m.Answer.Reason
		}
	case m.VarReq != nil:
		s += " " + m.VarReq.Variable
	case m.VarAnswer != nil:
		if m.VarAnswer.Error != "" {
			s += fmt.Sprintf(" %s error: %s", m.VarAnswer.Variable, m.VarAnswer.Error)
		} else if m.VarAnswer.Value.Expr != nil {
			s += fmt.Sprintf(" %s=%s", m.VarAnswer.Variable, m.VarAnswer.Value.Expr)
		}
	case m.Register != nil:
		s += fmt.Sprintf(" %s at %s", m.Register.Name, m.Register.Address)
	case m.RegAnswer != nil:
		if m.RegAnswer.OK {
			s += " accepted"
		} else {
			s += " refused: " + m.RegAnswer.Reason
		}
	}
	return s
}

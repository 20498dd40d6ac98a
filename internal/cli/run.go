package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ability/internal/ability"
	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/config"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/store"
	"github.com/roach88/ability/internal/wire"
)

// shutdownTimeout bounds the HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Ability  string // overrides agent.name
	Database string // overrides store.path
	Listen   string // overrides agent.listen
	Task     string // execute once, then stop

	// Ready, when set, receives the bound listen address once the agent
	// is serving (for testing).
	Ready chan<- string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <abilities-dir>",
		Short: "Run one ability as a networked agent",
		Long: `Run one ability of a directory as an agent.

The agent serves peers over a websocket endpoint, sends constraints to the
peers listed in the configuration and journals messages, facts and recipe
runs to SQLite when a store path is set. With --task the agent executes
that task once and exits; otherwise it serves until interrupted.

Configuration comes from built-in defaults, then the --config YAML file,
then ABILITY_ environment variables, then flags.

Example:
  ability run ./abilities --config arm.yaml
  ability run ./abilities --ability planner --listen :7401 --task fetch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Ability, "ability", "", "ability to run (overrides agent.name)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides store.path)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "websocket listen address (overrides agent.listen)")
	cmd.Flags().StringVar(&opts.Task, "task", "", "execute this task once, then stop")

	return cmd
}

func runAgent(opts *RunOptions, dir string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Ability != "" {
		cfg.Agent.Name = opts.Ability
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Listen != "" {
		cfg.Agent.Listen = opts.Listen
	}
	if cfg.Agent.Name == "" {
		return NewExitError(ExitCommandError, "no ability to run: set agent.name or --ability")
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)

	specs, err := loadAbilities(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile abilities", err)
	}
	spec, err := findAbility(specs, cfg.Agent.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find ability", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	transport := wire.NewWSTransport(spec.Name,
		wire.WithWSLogger(logger),
		wire.WithPeers(cfg.Agent.Peers),
	)
	agentOpts := []agent.Option{agent.WithLogger(logger)}
	logicOpts := []logic.Option{logic.WithLogger(logger)}
	abilityOpts := []ability.Option{ability.WithLogger(logger)}
	if cfg.Runtime.PollInterval > 0 {
		abilityOpts = append(abilityOpts, ability.WithPollInterval(cfg.Runtime.PollInterval))
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		logger.Info("opening journal", "path", cfg.Store.Path)
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		// Request ids continue after the last journaled one so a restarted
		// agent never reuses an identifier.
		last, err := st.MaxRequestID(ctx, spec.Name)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		agentOpts = append(agentOpts, agent.WithJournal(st), agent.WithClock(engine.NewClockAt(last)))
		logicOpts = append(logicOpts, logic.WithFactObserver(st.FactObserver(logger)))
		abilityOpts = append(abilityOpts, ability.WithObserver(st.RunObserver(spec.Name, logger)))
	}

	a := agent.New(cfg.AgentConfig(), transport, agentOpts...)
	eng := logic.New(logicOpts...)
	ab, err := ability.New(spec, eng, a, abilityOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build ability", err)
	}
	if st != nil {
		n, err := st.LoadFacts(ctx, eng, ab.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to restore facts", err)
		}
		logger.Info("facts restored", "count", n)
	}
	if opts.Task != "" {
		if _, ok := ab.Task(opts.Task); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("ability %s has no task %q", spec.Name, opts.Task))
		}
	}

	ln, err := net.Listen("tcp", cfg.Agent.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: transport, ReadHeaderTimeout: 10 * time.Second}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", cfg.Agent.Listen, err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			// A second signal terminates the process.
			signal.Stop(sigChan)
			cancel()
		case <-gctx.Done():
		}
		a.Stop()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = srv.Shutdown(sctx)
		return transport.Close()
	})

	logger.Info("agent serving", "ability", spec.Name, "listen", ln.Addr().String(), "peers", len(cfg.Agent.Peers))
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s listening on %s\n", spec.Name, ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	for peer := range cfg.Agent.Peers {
		g.Go(func() error {
			registerWithPeer(gctx, a, peer, logger)
			return nil
		})
	}

	var taskErr error
	if opts.Task != "" {
		g.Go(func() error {
			defer cancel()
			res, err := ab.Execute(gctx, opts.Task)
			if err != nil && gctx.Err() != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s: interrupted\n", opts.Task)
				return nil
			}
			if err != nil {
				taskErr = err
				return nil
			}
			out := "ok"
			if res != nil {
				out = res.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s: %s\n", opts.Task, out)
			return nil
		})
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "agent error", err)
	}
	if taskErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("task %s failed (%s)", opts.Task, engine.CodeOf(taskErr)), taskErr)
	}

	logger.Info("agent stopped gracefully")
	return nil
}

// registerWithPeer announces the agent to peer so it is watched for
// liveness. A refused or unanswered registration is logged only.
func registerWithPeer(ctx context.Context, a *agent.Agent, peer string, logger *slog.Logger) {
	ok, err := a.Register(peer).Wait(ctx)
	switch {
	case err != nil:
		logger.Warn("registration failed", "peer", peer, "error", err)
	case !ok:
		logger.Warn("registration refused", "peer", peer)
	default:
		logger.Info("registered with peer", "peer", peer)
		a.Watch(peer)
	}
}

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/wire"
)

// Agent is one node of the network. See the package documentation for the
// thread-safety model.
type Agent struct {
	cfg         Config
	name        string
	transport   wire.Transport
	loop        *engine.Loop
	clock       *engine.Clock
	logger      *slog.Logger
	metrics     *metrics
	journal     Journal
	incarnation string

	constraints *engine.BoundedQueue[*service]
	outbox      *engine.BoundedQueue[outbound]

	mu        sync.RWMutex
	checker   Checker
	variables Variables
	achievers map[string]Achiever
	directory map[string]Peer
	peers     map[string]*peerState
	cancel    context.CancelFunc
	stopped   bool

	// Loop-owned.
	table     map[uint64]*entry
	served    map[ir.Identifier]*service
	pingTimer engine.Timer

	outstanding atomic.Int64
	late        atomic.Int64
	runs        atomic.Int64
}

type outbound struct {
	to    string
	msg   *wire.Message
	onErr func(error)
}

// New creates an agent on transport and installs itself as the
// transport's handler.
func New(cfg Config, transport wire.Transport, opts ...Option) *Agent {
	cfg = cfg.withDefaults()
	a := &Agent{
		cfg:         cfg,
		name:        cfg.Name,
		transport:   transport,
		logger:      slog.Default(),
		achievers:   make(map[string]Achiever),
		directory:   make(map[string]Peer),
		peers:       make(map[string]*peerState),
		table:       make(map[uint64]*entry),
		served:      make(map[ir.Identifier]*service),
		constraints: engine.NewBoundedQueue[*service](cfg.QueueSize),
		outbox:      engine.NewBoundedQueue[outbound](cfg.OutboxSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("agent", a.name)
	if a.loop == nil {
		a.loop = engine.NewLoop(engine.WithLoopLogger(a.logger))
	}
	if a.clock == nil {
		a.clock = engine.NewClock()
	}
	if a.incarnation == "" {
		a.incarnation = engine.UUIDv7Generator{}.Generate()
	}
	a.metrics = newMetrics(a.name, a.logger)
	transport.SetHandler(a.receive)
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Loop returns the agent's event loop.
func (a *Agent) Loop() *engine.Loop { return a.loop }

// Incarnation returns the token announced at registration.
func (a *Agent) Incarnation() string { return a.incarnation }

// Logger returns the agent logger.
func (a *Agent) Logger() *slog.Logger { return a.logger }

// SetChecker installs the constraint checker for inbound requests.
func (a *Agent) SetChecker(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checker = c
}

// SetVariables installs the source of readable variable values.
func (a *Agent) SetVariables(v Variables) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.variables = v
}

// AddAchiever registers the achiever of constraints on predicate. A later
// registration for the same predicate replaces the earlier one.
func (a *Agent) AddAchiever(predicate string, ach Achiever) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.achievers[predicate] = ach
}

func (a *Agent) achieverFor(predicate string) Achiever {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.achievers[predicate]
}

// Outstanding returns the number of correlation table entries.
func (a *Agent) Outstanding() int { return int(a.outstanding.Load()) }

// LateAnswers returns the number of answers discarded because no request
// was waiting for them.
func (a *Agent) LateAnswers() int64 { return a.late.Load() }

// RecordRun counts a finished recipe run by recipe and outcome.
func (a *Agent) RecordRun(run recipe.Run) {
	a.runs.Add(1)
	a.metrics.add(a.metrics.runs,
		attribute.String("recipe", run.Recipe),
		attribute.String("status", run.Status.String()))
}

// RecipeRuns returns the number of recipe runs recorded.
func (a *Agent) RecipeRuns() int64 { return a.runs.Load() }

// Run drives the loop, the constraint worker and the sender until ctx is
// cancelled or Stop is called. Cancellation is a clean shutdown.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.cancel = cancel
	a.mu.Unlock()

	a.loop.Post(a.startPings)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.loop.Run(ctx)
	})
	g.Go(func() error {
		a.serveConstraints(ctx)
		return nil
	})
	g.Go(func() error {
		a.deliver(ctx)
		return nil
	})

	a.logger.Info("agent running", "incarnation", a.incarnation)
	err := g.Wait()
	a.constraints.Close()
	a.outbox.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("agent stopped")
	return err
}

// Stop ends Run. An agent that was stopped before Run never starts.
func (a *Agent) Stop() {
	a.mu.Lock()
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// deliver sends queued messages in order.
func (a *Agent) deliver(ctx context.Context) {
	for {
		ob, err := a.outbox.PopContext(ctx)
		if err != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
		err = a.transport.Send(sendCtx, ob.to, ob.msg)
		cancel()
		if err != nil {
			a.logger.Warn("send failed", "peer", ob.to, "message", ob.msg.String(), "error", err)
			if ob.onErr != nil {
				onErr := ob.onErr
				a.loop.Post(func() { onErr(err) })
			}
			continue
		}
		a.record(DirSent, ob.msg)
	}
}

// send queues m for to. onErr runs on the loop if delivery fails.
func (a *Agent) send(to string, m *wire.Message, onErr func(error)) error {
	if !a.outbox.TryPush(outbound{to: to, msg: m, onErr: onErr}) {
		return engine.NewQueueFullError("outbox", m.ID)
	}
	return nil
}

// reply sends a message that nobody waits on; a failure is only logged.
func (a *Agent) reply(to string, m *wire.Message) {
	if err := a.send(to, m, nil); err != nil {
		a.logger.Warn("reply dropped", "peer", to, "message", m.String(), "error", err)
	}
}

func (a *Agent) record(direction string, m *wire.Message) {
	if a.journal == nil {
		return
	}
	if err := a.journal.RecordMessage(a.name, direction, m); err != nil {
		a.logger.Warn("journal write failed", "message", m.String(), "error", err)
	}
}

// receive is the transport handler. It runs on transport goroutines.
func (a *Agent) receive(m *wire.Message) {
	if m.Target != "" && m.Target != a.name {
		a.logger.Warn("dropping message for another agent", "message", m.String())
		return
	}
	a.record(DirReceived, m)
	if !a.loop.Post(func() { a.dispatch(m) }) {
		a.logger.Debug("dropping message: loop stopped", "message", m.String())
	}
}

func (a *Agent) dispatch(m *wire.Message) {
	a.logger.Debug("message received", "message", m.String())
	switch m.Kind {
	case wire.KindRequestConstraint:
		a.acceptConstraint(m)
	case wire.KindAbort:
		a.abortService(m)
	case wire.KindVarRequest:
		a.answerVariable(m)
	case wire.KindRegister:
		a.acceptRegistration(m)
	case wire.KindPing:
		a.reply(m.Source, wire.NewPong(m.ID, a.name))
	case wire.KindConstraintAnswer:
		a.onConstraintAnswer(m)
	case wire.KindAbortAck:
		a.onAbortAck(m)
	case wire.KindVarAnswer:
		a.onVarAnswer(m)
	case wire.KindRegisterAnswer:
		a.onRegisterAnswer(m)
	case wire.KindPong:
		a.onPong(m)
	}
}

func (a *Agent) nextID() ir.Identifier {
	return ir.Identifier{Agent: a.name, ID: a.clock.Next()}
}

// discard drops an answer no request is waiting for.
func (a *Agent) discard(m *wire.Message) {
	a.late.Add(1)
	a.metrics.add(a.metrics.late, attribute.String("kind", string(m.Kind)))
	a.logger.Debug("late answer discarded", "message", m.String())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

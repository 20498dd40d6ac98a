package agent

import (
	"log/slog"
	"time"

	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/wire"
)

const (
	DefaultQueueSize       = 64
	DefaultOutboxSize      = 256
	DefaultPingMisses      = 3
	DefaultEnforceInterval = time.Second
	DefaultSendTimeout     = 5 * time.Second
)

// Config holds agent runtime settings. Zero values take the defaults; a
// zero PingInterval disables liveness pings.
type Config struct {
	Name            string
	Address         string
	QueueSize       int
	OutboxSize      int
	PingInterval    time.Duration
	PingMisses      int
	EnforceInterval time.Duration
	SendTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	if c.PingMisses <= 0 {
		c.PingMisses = DefaultPingMisses
	}
	if c.EnforceInterval <= 0 {
		c.EnforceInterval = DefaultEnforceInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Checker decides inbound constraints. It is called from the constraint
// worker and must be safe for concurrent use.
type Checker interface {
	Check(e ir.Expr) logic.Truth
}

// Achiever makes a constraint true. *recipe.Task implements it. It runs on
// the loop.
type Achiever interface {
	Execute(cb recipe.ResultCallback)
	Abort() bool
}

// Variables serves readable variable values to other agents.
type Variables interface {
	ReadValue(name string) (ir.Expr, error)
}

// Journal directions.
const (
	DirSent     = "sent"
	DirReceived = "received"
)

// Journal records every message the agent sends or receives. It is called
// from transport and sender goroutines.
type Journal interface {
	RecordMessage(agent, direction string, m *wire.Message) error
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithLoop runs the agent on an existing loop, typically one built on a
// manual scheduler in tests.
func WithLoop(l *engine.Loop) Option {
	return func(a *Agent) {
		a.loop = l
	}
}

// WithClock sets the request id clock. Use engine.NewClockAt to continue
// past ids already in the journal.
func WithClock(c *engine.Clock) Option {
	return func(a *Agent) {
		a.clock = c
	}
}

// WithJournal records messages to j.
func WithJournal(j Journal) Option {
	return func(a *Agent) {
		a.journal = j
	}
}

// WithIncarnation sets the generator of the incarnation token announced at
// registration.
func WithIncarnation(g engine.TokenGenerator) Option {
	return func(a *Agent) {
		a.incarnation = g.Generate()
	}
}

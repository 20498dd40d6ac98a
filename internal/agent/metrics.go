package agent

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// metrics are no-ops unless the process installs an OTEL meter provider.
type metrics struct {
	requests  metric.Int64Counter
	answers   metric.Int64Counter
	aborts    metric.Int64Counter
	late      metric.Int64Counter
	served    metric.Int64Counter
	peersDown metric.Int64Counter
	runs      metric.Int64Counter
	agent     attribute.KeyValue
}

func newMetrics(agent string, logger *slog.Logger) *metrics {
	meter := otel.Meter("ability/agent")
	m := &metrics{agent: attribute.String("agent", agent)}

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("metric unavailable", "metric", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}
	m.requests = counter("ability.requests.sent", "Requests sent by kind and mode")
	m.answers = counter("ability.answers.received", "Constraint answers received by state")
	m.aborts = counter("ability.aborts.sent", "Abort messages sent")
	m.late = counter("ability.answers.late", "Answers discarded because no request was waiting")
	m.served = counter("ability.constraints.served", "Inbound constraint requests answered by state")
	m.peersDown = counter("ability.peers.down", "Peers marked down after missed pings")
	m.runs = counter("ability.recipe.runs", "Finished recipe runs by outcome")
	return m
}

func (m *metrics) add(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(context.Background(), 1, metric.WithAttributes(append(attrs, m.agent)...))
}

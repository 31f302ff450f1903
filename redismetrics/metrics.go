// Package redismetrics holds OpenTelemetry instruments shared by pools, breakers,
// retry policies, near-cache buffers and clients.
//
// All methods are safe to call on nil *Metrics: they do nothing then.
package redismetrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName is the name of the meter used by Default.
const InstrumentationName = "github.com/joomcode/redisguard"

// Metrics records counters and histograms.
type Metrics struct {
	poolEvents     metric.Int64Counter
	poolWait       metric.Float64Histogram
	breakerChanges metric.Int64Counter
	retries        metric.Int64Counter
	timeouts       metric.Int64Counter
	nearCache      metric.Int64Counter
	commands       metric.Int64Counter
	commandErrors  metric.Int64Counter
	commandTime    metric.Float64Histogram
}

// New creates instruments with given meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.poolEvents, err = meter.Int64Counter(
		"redisguard.pool.events",
		metric.WithDescription("Connection pool lifecycle events (created, destroyed, borrowed, returned, invalidated, timeout)"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if m.poolWait, err = meter.Float64Histogram(
		"redisguard.pool.wait_ms",
		metric.WithDescription("Time spent waiting for a pooled connection"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.breakerChanges, err = meter.Int64Counter(
		"redisguard.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter(
		"redisguard.retry.attempts",
		metric.WithDescription("Retried attempts of operations"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.timeouts, err = meter.Int64Counter(
		"redisguard.operation.timeouts",
		metric.WithDescription("Operations interrupted by deadline"),
		metric.WithUnit("{timeout}"),
	); err != nil {
		return nil, err
	}
	if m.nearCache, err = meter.Int64Counter(
		"redisguard.nearcache.events",
		metric.WithDescription("Near-cache events (hit, miss, put, persist, requeue, drop)"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if m.commands, err = meter.Int64Counter(
		"redisguard.command.total",
		metric.WithDescription("Commands and batches executed"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.commandErrors, err = meter.Int64Counter(
		"redisguard.command.errors",
		metric.WithDescription("Commands and batches failed"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.commandTime, err = meter.Float64Histogram(
		"redisguard.command.duration_ms",
		metric.WithDescription("Command execution duration including retries"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Default creates instruments with global meter provider.
func Default() *Metrics {
	m, err := New(otel.GetMeterProvider().Meter(InstrumentationName))
	if err != nil {
		return Noop()
	}
	return m
}

// Noop returns instruments which record nothing.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

// PoolEvent counts pool event.
func (m *Metrics) PoolEvent(ctx context.Context, pool, event string) {
	if m == nil {
		return
	}
	m.poolEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("event", event),
	))
}

// PoolWait records time spent in borrow.
func (m *Metrics) PoolWait(ctx context.Context, pool string, d time.Duration) {
	if m == nil {
		return
	}
	m.poolWait.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.String("pool", pool)))
}

// BreakerTransition counts circuit breaker state change.
func (m *Metrics) BreakerTransition(ctx context.Context, breaker, from, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Retry counts retried attempt.
func (m *Metrics) Retry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// Timeout counts operation interrupted by deadline.
func (m *Metrics) Timeout(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// NearCache counts near-cache event.
func (m *Metrics) NearCache(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.nearCache.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// Command records command execution.
func (m *Metrics) Command(ctx context.Context, cmd string, d time.Duration, err error) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String("command", cmd))
	m.commands.Add(ctx, 1, opt)
	if err != nil {
		m.commandErrors.Add(ctx, 1, opt)
	}
	m.commandTime.Record(ctx, float64(d.Microseconds())/1000, opt)
}

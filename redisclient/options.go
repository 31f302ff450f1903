package redisclient

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/joomcode/redisguard/nearcache"
	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/rediscluster"
	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redismetrics"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/redissentinel"
	"github.com/joomcode/redisguard/redisstrategy"
	"github.com/joomcode/redisguard/resilience"
)

// Loggers holds loggers of client components. Nil ones are replaced with package defaults.
type Loggers struct {
	Client     Logger
	Conn       redisconn.Logger
	Pool       redispool.Logger
	Resilience resilience.Logger
	Standalone redisstrategy.Logger
	Sentinel   redissentinel.Logger
	Cluster    rediscluster.Logger
	NearCache  nearcache.Logger
}

// NoopLoggers returns loggers which discard everything.
func NoopLoggers() Loggers {
	return Loggers{
		Client:     NoopLogger{},
		Conn:       redisconn.NoopLogger{},
		Pool:       redispool.NoopLogger{},
		Resilience: resilience.NoopLogger{},
		Standalone: redisstrategy.NoopLogger{},
		Sentinel:   redissentinel.NoopLogger{},
		Cluster:    rediscluster.NoopLogger{},
		NearCache:  nearcache.NoopLogger{},
	}
}

type options struct {
	loggers        Loggers
	metrics        *redismetrics.Metrics
	tracerProvider trace.TracerProvider
	nonIdempotent  func(cmd string) bool
	strategy       redisstrategy.Strategy
	persister      nearcache.Persister
}

// Option configures Client.
type Option func(*options)

// WithLoggers sets loggers of client and its components.
func WithLoggers(l Loggers) Option {
	return func(o *options) { o.loggers = l }
}

// WithMetrics sets instruments. Default is redismetrics.Default().
func WithMetrics(m *redismetrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets provider of command spans. Default is global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithNonIdempotent overrides classification of commands which are executed at most once.
// Default is redis.NonIdempotent.
func WithNonIdempotent(f func(cmd string) bool) Option {
	return func(o *options) { o.nonIdempotent = f }
}

// WithStrategy makes client use given strategy instead of building one from configuration.
// Client takes ownership: strategy is closed by Client.Close.
func WithStrategy(s redisstrategy.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithPersister makes near-cache write to p instead of the client itself.
func WithPersister(p nearcache.Persister) Option {
	return func(o *options) { o.persister = p }
}

func defaultOptions() options {
	return options{
		nonIdempotent: redis.NonIdempotent,
	}
}

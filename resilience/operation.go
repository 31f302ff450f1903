// Package resilience implements circuit breaker, retry policy and operation timeout,
// and Operation composing them behind single Execute.
//
// Every wrapper works with Op, function of context returning error. Results are passed
// through closure variables.
package resilience

import (
	"context"
	"time"

	"github.com/joomcode/redisguard/redismetrics"
)

// Opts configures Operation.
type Opts struct {
	CircuitBreakerEnabled bool
	Breaker               BreakerOpts
	RetryEnabled          bool
	Retry                 RetryOpts
	TimeoutEnabled        bool
	Timeout               TimeoutOpts

	Logger  Logger
	Metrics *redismetrics.Metrics
}

// DefaultOpts returns options with all wrappers enabled with their defaults.
func DefaultOpts() Opts {
	return Opts{
		CircuitBreakerEnabled: true,
		RetryEnabled:          true,
		Retry:                 RetryOpts{MaxRetries: DefaultMaxRetries},
		TimeoutEnabled:        true,
	}
}

// Operation runs: circuit breaker check -> retry -> timeout of every attempt,
// and records result in circuit breaker exactly once.
type Operation struct {
	breaker *CircuitBreaker
	retry   *Retry
	timeout *Timeout
	logger  Logger
}

// NewOperation creates enabled wrappers and composes them.
// Circuit breaker is attached to retry policy, so retry policy records result.
func NewOperation(opts Opts) *Operation {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	var (
		b  *CircuitBreaker
		r  *Retry
		to *Timeout
	)
	if opts.CircuitBreakerEnabled {
		bo := opts.Breaker
		if bo.Logger == nil {
			bo.Logger = opts.Logger
		}
		if bo.Metrics == nil {
			bo.Metrics = opts.Metrics
		}
		b = NewCircuitBreaker(bo)
	}
	if opts.RetryEnabled {
		ro := opts.Retry
		ro.Breaker = b
		if ro.Metrics == nil {
			ro.Metrics = opts.Metrics
		}
		if ro.OnRetry == nil {
			logger := opts.Logger
			ro.OnRetry = func(name string, attempt int, err error, delay time.Duration) {
				logger.Report(LogRetry{Operation: name, Attempt: attempt, Delay: delay, Error: err})
			}
		}
		r = NewRetry(ro)
	}
	if opts.TimeoutEnabled {
		tops := opts.Timeout
		if tops.Logger == nil {
			tops.Logger = opts.Logger
		}
		if tops.Metrics == nil {
			tops.Metrics = opts.Metrics
		}
		to = NewTimeout(tops)
	}
	return Compose(b, r, to, opts.Logger)
}

// Compose creates Operation from given wrappers. Any of them could be nil.
func Compose(b *CircuitBreaker, r *Retry, t *Timeout, logger Logger) *Operation {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return &Operation{breaker: b, retry: r, timeout: t, logger: logger}
}

// Breaker returns circuit breaker or nil.
func (o *Operation) Breaker() *CircuitBreaker {
	return o.breaker
}

// Execute runs op with fast failure on open circuit, retries and per attempt timeout.
func (o *Operation) Execute(ctx context.Context, name string, op Op) error {
	if !o.allow(name) {
		return circuitOpen(name)
	}
	attempt := func(ctx context.Context) error {
		return o.withTimeout(ctx, name, op)
	}
	var err error
	if o.retry != nil {
		err = o.retry.Execute(ctx, name, attempt)
	} else {
		err = attempt(ctx)
	}
	if o.breaker != nil && (o.retry == nil || o.retry.Breaker() == nil) {
		o.breaker.Record(err)
	}
	return err
}

// ExecuteOnce runs op with fast failure on open circuit and timeout, but without retries.
// It is for operations which are not safe to repeat.
func (o *Operation) ExecuteOnce(ctx context.Context, name string, op Op) error {
	if !o.allow(name) {
		return circuitOpen(name)
	}
	err := o.withTimeout(ctx, name, op)
	if o.breaker != nil {
		o.breaker.Record(err)
	}
	return err
}

// Allowed reports whether circuit breaker allows requests.
func (o *Operation) Allowed() bool {
	return o.breaker == nil || o.breaker.AllowRequest()
}

// ResetBreaker forces circuit breaker to closed state.
func (o *Operation) ResetBreaker() {
	if o.breaker != nil {
		o.breaker.Reset()
	}
}

func (o *Operation) allow(name string) bool {
	if o.breaker == nil || o.breaker.AllowRequest() {
		return true
	}
	o.logger.Report(LogCircuitOpen{Operation: name})
	return false
}

func (o *Operation) withTimeout(ctx context.Context, name string, op Op) error {
	if o.timeout == nil {
		return op(ctx)
	}
	return o.timeout.Execute(ctx, name, 0, op)
}

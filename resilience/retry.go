package resilience

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redismetrics"
)

// DefaultMaxRetries is used when RetryOpts.MaxRetries is negative.
const DefaultMaxRetries = 3

// Op is a unit of work. It must respect ctx cancellation.
type Op func(ctx context.Context) error

// RetryOpts configures retry policy.
type RetryOpts struct {
	// MaxRetries - number of retries after first attempt.
	// Zero means single attempt, negative means DefaultMaxRetries.
	MaxRetries int
	// InitialDelay - base delay before first retry. Default: 100ms
	InitialDelay time.Duration
	// MaxDelay caps base delay. Default: 5s
	MaxDelay time.Duration
	// Multiplier - base delay growth factor. Default: 2.0
	Multiplier float64
	// Breaker, if set, is consulted before first attempt and receives the final result.
	Breaker *CircuitBreaker
	// IsRetryable classifies errors. Default: IsRetryable
	IsRetryable func(err error) bool
	// OnRetry is called before sleeping for retry.
	OnRetry func(name string, attempt int, err error, delay time.Duration)
	Metrics *redismetrics.Metrics
}

// Retry runs operation up to MaxRetries+1 times with exponential jittered backoff.
type Retry struct {
	opts RetryOpts
}

// NewRetry creates retry policy.
func NewRetry(opts RetryOpts) *Retry {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = IsRetryable
	}
	return &Retry{opts: opts}
}

// MaxRetries returns configured number of retries.
func (r *Retry) MaxRetries() int {
	return r.opts.MaxRetries
}

// Breaker returns attached circuit breaker, if any.
func (r *Retry) Breaker() *CircuitBreaker {
	return r.opts.Breaker
}

// Execute runs op until it succeeds, fails with non-retryable error, or attempts are exhausted.
// If attached breaker denies request, ErrCircuitOpen is returned without attempt.
// Non-retryable error is returned as is; after exhaustion last error is wrapped into ErrRetriesExhausted.
func (r *Retry) Execute(ctx context.Context, name string, op Op) error {
	b := r.opts.Breaker
	if b != nil && !b.AllowRequest() {
		return circuitOpen(name)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.Delay(attempt)
			if r.opts.OnRetry != nil {
				r.opts.OnRetry(name, attempt, lastErr, delay)
			}
			r.opts.Metrics.Retry(ctx, name)
			if err := sleep(ctx, delay); err != nil {
				if b != nil {
					b.RecordFailure()
				}
				return errorx.Decorate(lastErr, "retry of %s interrupted: %s", name, err.Error())
			}
		}

		attempts++
		err := op(ctx)
		if err == nil {
			if b != nil {
				b.RecordSuccess()
			}
			return nil
		}
		lastErr = err
		if !r.opts.IsRetryable(err) || ctx.Err() != nil {
			if b != nil {
				b.RecordFailure()
			}
			return err
		}
	}

	if b != nil {
		b.RecordFailure()
	}
	return ErrRetriesExhausted.Wrap(lastErr, "%s failed after %d attempts", name, attempts).
		WithProperty(EKOperation, name).
		WithProperty(EKAttempts, attempts)
}

// BaseDelay returns un-jittered delay before retry number attempt (1 based):
// min(MaxDelay, InitialDelay * Multiplier^(attempt-1)).
func (r *Retry) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(r.opts.InitialDelay) * math.Pow(r.opts.Multiplier, float64(attempt-1))
	if delay > float64(r.opts.MaxDelay) {
		delay = float64(r.opts.MaxDelay)
	}
	return time.Duration(delay)
}

// Delay returns BaseDelay jittered by ±25%, but not less than 1ms.
func (r *Retry) Delay(attempt int) time.Duration {
	base := float64(r.BaseDelay(attempt))
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	delay := time.Duration(base + base*0.25*(rand.Float64()*2-1))
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var retryableMessages = []string{
	"connection reset",
	"broken pipe",
	"connection refused",
	"connection timed out",
	"no route to host",
	"network is unreachable",
}

// IsRetryable reports whether err is a transient network failure: networking error,
// error with redis.ErrTraitConnectivity, or error mentioning connection reset, refusal or timeout.
// Causes are inspected as well.
// Operation timeouts, open circuit, server error replies and context errors are not retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		if ex, ok := err.(*errorx.Error); ok {
			switch {
			case ex.IsOfType(ErrTimeout), ex.IsOfType(ErrCircuitOpen), ex.IsOfType(redis.ErrResult):
				return false
			case ex.HasTrait(redis.ErrTraitConnectivity):
				return true
			}
		}
		if _, ok := err.(net.Error); ok {
			return true
		}
		var errno syscall.Errno
		if errors.As(err, &errno) {
			switch errno {
			case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.ETIMEDOUT,
				syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.EPIPE:
				return true
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return true
		}
		msg := strings.ToLower(err.Error())
		for _, m := range retryableMessages {
			if strings.Contains(msg, m) {
				return true
			}
		}
		err = cause(err)
	}
	return false
}

func cause(err error) error {
	if ex, ok := err.(*errorx.Error); ok {
		return ex.Cause()
	}
	return errors.Unwrap(err)
}

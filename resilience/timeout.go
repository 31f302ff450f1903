package resilience

import (
	"context"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/internal"
	"github.com/joomcode/redisguard/redismetrics"
)

const defaultTimeout = 30 * time.Second

// TimeoutOpts configures operation timeout.
type TimeoutOpts struct {
	// Timeout is used when Execute is called with non-positive timeout. Default: 30 seconds
	Timeout time.Duration
	// Workers runs operations. Default is shared worker set.
	Workers *internal.Workers
	Logger  Logger
	Metrics *redismetrics.Metrics
}

// Timeout runs operations on worker goroutines and stops waiting for them at deadline.
type Timeout struct {
	opts TimeoutOpts
}

// NewTimeout creates operation timeout.
func NewTimeout(opts TimeoutOpts) *Timeout {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Workers == nil {
		opts.Workers = internal.DefaultWorkers()
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	return &Timeout{opts: opts}
}

// Default returns default timeout.
func (t *Timeout) Default() time.Duration {
	return t.opts.Timeout
}

type result struct {
	err error
}

// Execute runs op with deadline. If timeout <= 0, default timeout is used.
// On expiry context passed to op is cancelled, and ErrTimeout is returned without waiting for op.
// Errors returned by op are passed as is, panic is converted to ErrUnexpected.
func (t *Timeout) Execute(ctx context.Context, name string, timeout time.Duration, op Op) error {
	if timeout <= 0 {
		timeout = t.opts.Timeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	submitted := t.opts.Workers.Go(opCtx, func() {
		var res result
		defer func() {
			if p := recover(); p != nil {
				res.err = ErrUnexpected.New("panic in %s: %v", name, p).WithProperty(EKOperation, name)
			}
			done <- res
		}()
		if opCtx.Err() != nil {
			res.err = opCtx.Err()
			return
		}
		res.err = op(opCtx)
	})
	if !submitted {
		return t.expired(ctx, opCtx, name, timeout)
	}

	select {
	case res := <-done:
		if res.err != nil && opCtx.Err() != nil {
			return t.expired(ctx, opCtx, name, timeout)
		}
		return res.err
	case <-opCtx.Done():
		return t.expired(ctx, opCtx, name, timeout)
	}
}

func (t *Timeout) expired(parent, opCtx context.Context, name string, timeout time.Duration) error {
	if err := parent.Err(); err == context.Canceled {
		return errorx.Decorate(err, "%s canceled", name)
	}
	t.opts.Logger.Report(LogTimeout{Operation: name, Timeout: timeout})
	t.opts.Metrics.Timeout(parent, name)
	return ErrTimeout.Wrap(opCtx.Err(), "operation timed out after %s: %s", timeout, name).
		WithProperty(EKOperation, name).
		WithProperty(EKTimeout, timeout)
}

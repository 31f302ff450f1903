package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpts() Opts {
	opts := DefaultOpts()
	opts.Logger = NoopLogger{}
	opts.Breaker.FailureThreshold = 3
	opts.Retry.MaxRetries = 2
	opts.Retry.InitialDelay = time.Millisecond
	opts.Retry.MaxDelay = 2 * time.Millisecond
	opts.Timeout.Timeout = 100 * time.Millisecond
	return opts
}

func TestOperationSuccess(t *testing.T) {
	o := NewOperation(testOpts())
	var res int
	err := o.Execute(context.Background(), "op", func(ctx context.Context) error {
		res = 42
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, StateClosed, o.Breaker().State())
}

func TestOperationRecordsFailureOnce(t *testing.T) {
	o := NewOperation(testOpts())
	var calls int32
	err := o.Execute(context.Background(), "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return syscall.ECONNRESET
	})
	assert.True(t, errorx.IsOfType(err, ErrRetriesExhausted))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, o.Breaker().Failures())
}

func TestOperationRecordsWithoutRetry(t *testing.T) {
	opts := testOpts()
	opts.RetryEnabled = false
	o := NewOperation(opts)
	_ = o.Execute(context.Background(), "op", func(ctx context.Context) error {
		return errors.New("fatal")
	})
	assert.Equal(t, 1, o.Breaker().Failures())
	_ = o.Execute(context.Background(), "op", func(ctx context.Context) error {
		return nil
	})
	assert.Equal(t, 0, o.Breaker().Failures())
}

func TestOperationFailsFast(t *testing.T) {
	o := NewOperation(testOpts())
	for i := 0; i < 3; i++ {
		_ = o.Execute(context.Background(), "op", func(ctx context.Context) error {
			return errors.New("fatal")
		})
	}
	require.Equal(t, StateOpen, o.Breaker().State())
	assert.False(t, o.Allowed())

	called := false
	err := o.Execute(context.Background(), "op", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, errorx.IsOfType(err, ErrCircuitOpen))

	err = o.ExecuteOnce(context.Background(), "op", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, errorx.IsOfType(err, ErrCircuitOpen))

	o.ResetBreaker()
	assert.True(t, o.Allowed())
}

func TestOperationTimeoutIsNotRetried(t *testing.T) {
	opts := testOpts()
	opts.Timeout.Timeout = 20 * time.Millisecond
	o := NewOperation(opts)
	var calls int32
	err := o.Execute(context.Background(), "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errorx.IsOfType(err, ErrTimeout))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, o.Breaker().Failures())
}

func TestOperationExecuteOnce(t *testing.T) {
	o := NewOperation(testOpts())
	var calls int32
	err := o.ExecuteOnce(context.Background(), "INCR", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return syscall.ECONNRESET
	})
	assert.Equal(t, syscall.ECONNRESET, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, o.Breaker().Failures())
}

func TestOperationAllDisabled(t *testing.T) {
	o := NewOperation(Opts{Logger: NoopLogger{}})
	assert.Nil(t, o.Breaker())
	assert.True(t, o.Allowed())
	myErr := errors.New("mine")
	err := o.Execute(context.Background(), "op", func(ctx context.Context) error { return myErr })
	assert.Same(t, myErr, err)
}

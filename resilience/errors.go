package resilience

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrResilience - namespace of errors produced by resilience wrappers.
	ErrResilience = redis.Errors.NewSubNamespace("resilience")
	// ErrCircuitOpen - circuit breaker denied request. Operation were not attempted.
	ErrCircuitOpen = ErrResilience.NewType("circuit_open", redis.ErrTraitNotSent)
	// ErrTimeout - operation didn't finish in time.
	ErrTimeout = ErrResilience.NewType("timeout", errorx.Timeout())
	// ErrRetriesExhausted - all attempts failed with retryable errors. Last error is a cause.
	ErrRetriesExhausted = ErrResilience.NewType("retries_exhausted", redis.ErrTraitConnectivity)
	// ErrUnexpected - operation panicked.
	ErrUnexpected = ErrResilience.NewType("unexpected")
)

var (
	// EKOperation - name of operation.
	EKOperation = errorx.RegisterProperty("operation")
	// EKTimeout - timeout operation exceeded.
	EKTimeout = errorx.RegisterProperty("timeout")
	// EKAttempts - number of attempts made.
	EKAttempts = errorx.RegisterProperty("attempts")
)

func circuitOpen(name string) *errorx.Error {
	return ErrCircuitOpen.New("circuit breaker is open, operations temporarily disabled: %s", name).
		WithProperty(EKOperation, name)
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/joomcode/redisguard/redismetrics"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means requests are passed.
	StateClosed State = iota
	// StateOpen means requests are denied until reset timeout elapsed.
	StateOpen
	// StateHalfOpen means requests are passed to probe if service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// Name is used in logs and metrics.
	Name string
	// FailureThreshold - consecutive failures to open circuit. Default: 5
	FailureThreshold int
	// ResetTimeout - how long circuit stays open. Default: 30 seconds
	ResetTimeout time.Duration
	// HalfOpenMaxAttempts - consecutive successes in half-open state to close circuit. Default: 3
	HalfOpenMaxAttempts int
	// OnStateChange is called after state changed, outside of breaker lock.
	OnStateChange func(from, to State)
	// Clock returns current time. Default: time.Now
	Clock   func() time.Time
	Logger  Logger
	Metrics *redismetrics.Metrics
}

// CircuitBreaker is a three state failure gate.
// Both counters are reset on every transition.
type CircuitBreaker struct {
	opts BreakerOpts

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	transitioned time.Time
}

// NewCircuitBreaker creates closed circuit breaker.
func NewCircuitBreaker(opts BreakerOpts) *CircuitBreaker {
	if opts.Name == "" {
		opts.Name = "redis"
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.HalfOpenMaxAttempts <= 0 {
		opts.HalfOpenMaxAttempts = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	return &CircuitBreaker{
		opts:         opts,
		state:        StateClosed,
		transitioned: opts.Clock(),
	}
}

// AllowRequest reports whether request could be made.
// It is false only while circuit is open and reset timeout has not elapsed.
// First call after reset timeout moves circuit to half-open state.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.opts.Clock().Sub(cb.transitioned) < cb.opts.ResetTimeout {
		cb.mu.Unlock()
		return false
	}
	from := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	cb.notify(from, StateHalfOpen)
	return true
}

// RecordSuccess counts successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.opts.HalfOpenMaxAttempts {
			from := cb.transitionLocked(StateClosed)
			cb.mu.Unlock()
			cb.notify(from, StateClosed)
			return
		}
	}
	cb.mu.Unlock()
}

// RecordFailure counts failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.opts.FailureThreshold {
			from := cb.transitionLocked(StateOpen)
			cb.mu.Unlock()
			cb.notify(from, StateOpen)
			return
		}
	case StateHalfOpen:
		from := cb.transitionLocked(StateOpen)
		cb.mu.Unlock()
		cb.notify(from, StateOpen)
		return
	}
	cb.mu.Unlock()
}

// Record calls RecordSuccess if err is nil, and RecordFailure otherwise.
func (cb *CircuitBreaker) Record(err error) {
	if err == nil {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

// Reset forces circuit to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.transitionLocked(StateClosed)
	cb.mu.Unlock()
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// State returns current state. It doesn't move open circuit to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns number of consecutive failures in closed state.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Successes returns number of consecutive successes in half-open state.
func (cb *CircuitBreaker) Successes() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.successes
}

// SinceTransition returns time passed since last state change.
func (cb *CircuitBreaker) SinceTransition() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.opts.Clock().Sub(cb.transitioned)
}

func (cb *CircuitBreaker) transitionLocked(to State) State {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.transitioned = cb.opts.Clock()
	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	cb.opts.Logger.Report(LogStateChange{Breaker: cb.opts.Name, From: from, To: to})
	cb.opts.Metrics.BreakerTransition(context.Background(), cb.opts.Name, from.String(), to.String())
	if cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(from, to)
	}
}

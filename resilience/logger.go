package resilience

import (
	"log"
	"time"
)

// Logger is a type for custom event reporter.
type Logger interface {
	// Report will be called on breaker transitions, retries, timeouts and fast failures.
	// Default implementation just prints this information using standard log package.
	Report(event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogStateChange is logged when circuit breaker changes its state.
type LogStateChange struct {
	Breaker string
	From    State
	To      State
}

// LogCircuitOpen is logged when operation failed fast due to open circuit.
type LogCircuitOpen struct {
	Operation string
}

// LogRetry is logged before retry.
type LogRetry struct {
	Operation string
	Attempt   int // - attempt number about to start, 1 based
	Delay     time.Duration
	Error     error // - error of previous attempt
}

// LogTimeout is logged when operation exceeded its deadline.
type LogTimeout struct {
	Operation string
	Timeout   time.Duration
}

func (LogStateChange) logEvent() {}
func (LogCircuitOpen) logEvent() {}
func (LogRetry) logEvent()       {}
func (LogTimeout) logEvent()     {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(event LogEvent) {
	switch ev := event.(type) {
	case LogStateChange:
		log.Printf("resilience: circuit breaker %s: %s -> %s", ev.Breaker, ev.From, ev.To)
	case LogCircuitOpen:
		log.Printf("resilience: circuit breaker open, failing fast for %s", ev.Operation)
	case LogRetry:
		log.Printf("resilience: retrying %s (attempt %d) in %s: %s", ev.Operation, ev.Attempt, ev.Delay, ev.Error.Error())
	case LogTimeout:
		log.Printf("resilience: %s timed out after %s", ev.Operation, ev.Timeout)
	default:
		log.Printf("resilience: unexpected event: %#v", event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(event LogEvent) {}

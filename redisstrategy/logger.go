package redisstrategy

import "log"

// Logger is a type for custom event reporter.
type Logger interface {
	// Report will be called when some events happens during strategy's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(s *Standalone, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogConnectionFailure is logged when client reports failed exchange.
// Standalone strategy has no other node to switch to.
type LogConnectionFailure struct {
	Addr string
}

func (LogConnectionFailure) logEvent() {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(s *Standalone, event LogEvent) {
	switch ev := event.(type) {
	case LogConnectionFailure:
		log.Printf("redisstrategy: connection failure reported for %s, no failover target", ev.Addr)
	default:
		log.Printf("redisstrategy: unexpected event: %#v", event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(s *Standalone, event LogEvent) {}

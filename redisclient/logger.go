package redisclient

import "log"

// Logger is a type for custom event reporter.
type Logger interface {
	// Report will be called when some events happens during client's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(c *Client, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogRedirect is logged when cluster node answers MOVED or ASK, and request is sent again.
type LogRedirect struct {
	Cmd    string
	Slot   uint16
	From   string
	To     string
	Asking bool
}

// LogConnectionFailure is logged when exchange fails with connectivity error,
// before strategy is notified.
type LogConnectionFailure struct {
	Addr  string
	Error error
}

// LogJoinSkipped is logged when command proceeds before own near-cache writes are persisted.
type LogJoinSkipped struct {
	Seq       uint64
	Watermark uint64
}

func (LogRedirect) logEvent()          {}
func (LogConnectionFailure) logEvent() {}
func (LogJoinSkipped) logEvent()       {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(c *Client, event LogEvent) {
	switch ev := event.(type) {
	case LogRedirect:
		kind := "MOVED"
		if ev.Asking {
			kind = "ASK"
		}
		log.Printf("redisclient %s: %s %s slot %d from %s to %s", c.Mode(), ev.Cmd, kind, ev.Slot, ev.From, ev.To)
	case LogConnectionFailure:
		log.Printf("redisclient %s: connection failure %s: %v", c.Mode(), ev.Addr, ev.Error)
	case LogJoinSkipped:
		log.Printf("redisclient %s: near-cache join gave up at watermark %d waiting for %d", c.Mode(), ev.Watermark, ev.Seq)
	default:
		log.Printf("redisclient %s: unexpected event: %#v", c.Mode(), event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report
func (d NoopLogger) Report(c *Client, event LogEvent) {}

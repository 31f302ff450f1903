package nearcache

import "log"

// Logger is a type for custom event reporter.
type Logger interface {
	// Report will be called when some events happens during buffer's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(b *Buffer, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogRequeued is logged when entry failed transiently and will be persisted again.
type LogRequeued struct {
	Key     string
	Seq     uint64
	Attempt int
	Error   error
}

// LogDropped is logged when entry is given up.
type LogDropped struct {
	Key   string
	Seq   uint64
	Error error
}

// LogPutAfterClose is logged when Put is called on closed buffer.
type LogPutAfterClose struct {
	Key   string
	Error error
}

// LogFlushed is logged when drainer finishes shutdown flush.
type LogFlushed struct {
	Persisted int
	Dropped   int
}

func (LogRequeued) logEvent()      {}
func (LogDropped) logEvent()       {}
func (LogPutAfterClose) logEvent() {}
func (LogFlushed) logEvent()       {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(b *Buffer, event LogEvent) {
	switch ev := event.(type) {
	case LogRequeued:
		if ev.Attempt == 1 {
			log.Printf("nearcache: persisting %q (seq %d) failed, will retry: %s", ev.Key, ev.Seq, ev.Error.Error())
		}
	case LogDropped:
		log.Printf("nearcache: entry %q (seq %d) dropped: %s", ev.Key, ev.Seq, ev.Error.Error())
	case LogPutAfterClose:
		log.Printf("nearcache: %s", ev.Error.Error())
	case LogFlushed:
		if ev.Dropped > 0 {
			log.Printf("nearcache: shutdown flush persisted %d entries, dropped %d", ev.Persisted, ev.Dropped)
		}
	default:
		log.Printf("nearcache: unexpected event: %#v", event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(b *Buffer, event LogEvent) {}

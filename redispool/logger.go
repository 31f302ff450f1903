package redispool

import (
	"log"
	"time"
)

// Logger is a type for custom event and stat reporter.
type Logger interface {
	// Report will be called when some events happens during pool's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(p *Pool, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogCreateFailed is logged when new connection could not be established.
type LogCreateFailed struct {
	Error error
}

// LogDestroyed is logged when connection is closed by pool.
type LogDestroyed struct {
	LocalAddr string
	Reason    string
	Error     error // - close error, if any
}

// LogEvicted is logged when evictor removed idle connections.
type LogEvicted struct {
	Count int
	Idle  int // - idle connections left
}

// LogBorrowTimeout is logged when Borrow gave up waiting.
type LogBorrowTimeout struct {
	Priority Priority
	Waited   time.Duration
}

// LogForeignReturn is logged when connection returned to pool is not borrowed from it.
type LogForeignReturn struct {
	Addr string
}

func (LogCreateFailed) logEvent()  {}
func (LogDestroyed) logEvent()     {}
func (LogEvicted) logEvent()       {}
func (LogBorrowTimeout) logEvent() {}
func (LogForeignReturn) logEvent() {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(p *Pool, event LogEvent) {
	switch ev := event.(type) {
	case LogCreateFailed:
		log.Printf("redispool %s: could not create connection: %s", p.Name(), ev.Error.Error())
	case LogDestroyed:
		if ev.Error != nil {
			log.Printf("redispool %s: closing connection %s (%s) failed: %s", p.Name(), ev.LocalAddr, ev.Reason, ev.Error.Error())
		}
	case LogEvicted:
		// evictor works constantly, it is too noisy
	case LogBorrowTimeout:
		log.Printf("redispool %s: %s priority borrow timed out after %s", p.Name(), ev.Priority, ev.Waited)
	case LogForeignReturn:
		log.Printf("redispool %s: returned connection to %s doesn't belong to pool", p.Name(), ev.Addr)
	default:
		log.Printf("redispool %s: unexpected event: %#v", p.Name(), event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(p *Pool, event LogEvent) {}

package redisconn

import "log"

// Logger is a type for custom event and stat reporter.
type Logger interface {
	// Report will be called when some events happens during connection's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(conn *Conn, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogConnecting is an event logged when connecting starts.
type LogConnecting struct{}

// LogConnected is logged when connection established.
type LogConnected struct {
	LocalAddr  string // - local ip:port
	RemoteAddr string // - remote ip:port
}

// LogConnectFailed is logged when connection establishing were unsuccessful.
type LogConnectFailed struct {
	Error error // - failure reason
}

// LogDisconnected is logged when connection were broken.
type LogDisconnected struct {
	Error      error  // - disconnection reason
	LocalAddr  string // - local ip:port
	RemoteAddr string // - remote ip:port
}

// LogClosed is logged when connection is explicitly closed.
type LogClosed struct{}

func (LogConnecting) logEvent()    {}
func (LogConnected) logEvent()     {}
func (LogConnectFailed) logEvent() {}
func (LogDisconnected) logEvent()  {}
func (LogClosed) logEvent()        {}

// DefaultLogger is default logger implementation.
// It logs connection failures and breakages with standard log package.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(conn *Conn, event LogEvent) {
	switch ev := event.(type) {
	case LogConnecting, LogConnected, LogClosed:
		// too noisy for pooled connections
	case LogConnectFailed:
		log.Printf("redis: connection to %s failed: %s", conn.Addr(), ev.Error.Error())
	case LogDisconnected:
		log.Printf("redis: connection to %s broken (localAddr: %s, remoteAddr: %s): %s",
			conn.Addr(), ev.LocalAddr, ev.RemoteAddr, ev.Error.Error())
	default:
		log.Printf("redis: unexpected event: %#v", event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(conn *Conn, event LogEvent) {}

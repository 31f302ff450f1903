package redissentinel

import "log"

// Logger is a type for custom event reporter.
type Logger interface {
	// Report will be called when some events happens during sentinel strategy's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(s *Sentinel, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogQueryFailed is logged when sentinel node could not tell leader address.
type LogQueryFailed struct {
	Node  string
	Error error
}

// LogDiscovered is logged when leader address is discovered.
type LogDiscovered struct {
	Node string
	Addr string
}

// LogLeaderSwitched is logged when pool is rebuilt against new leader.
type LogLeaderSwitched struct {
	From   string
	To     string
	Reason string // - "switch-master", "rediscovery" or "resubscribe"
}

// LogSubscribed is logged when subscriber starts listening node's notifications,
// after leader is rediscovered.
type LogSubscribed struct {
	Node string
}

// LogSubscriptionError is logged when subscription connection fails.
type LogSubscriptionError struct {
	Node  string
	Error error
}

// LogMalformedMessage is logged on unparseable notification.
type LogMalformedMessage struct {
	Message interface{}
}

// LogFailureIgnored is logged when reported failure is not on leader.
type LogFailureIgnored struct {
	Addr   string
	Leader string
}

func (LogQueryFailed) logEvent()       {}
func (LogDiscovered) logEvent()        {}
func (LogLeaderSwitched) logEvent()    {}
func (LogSubscribed) logEvent()        {}
func (LogSubscriptionError) logEvent() {}
func (LogMalformedMessage) logEvent()  {}
func (LogFailureIgnored) logEvent()    {}

// DefaultLogger is default logger implementation.
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(s *Sentinel, event LogEvent) {
	switch ev := event.(type) {
	case LogQueryFailed:
		log.Printf("redissentinel %s: query to %s failed: %s", s.Name(), ev.Node, ev.Error.Error())
	case LogDiscovered:
		log.Printf("redissentinel %s: discovered leader %s via %s", s.Name(), ev.Addr, ev.Node)
	case LogLeaderSwitched:
		log.Printf("redissentinel %s: leader switched %s -> %s (%s)", s.Name(), ev.From, ev.To, ev.Reason)
	case LogSubscribed:
		log.Printf("redissentinel %s: subscribed to failover notifications at %s", s.Name(), ev.Node)
	case LogSubscriptionError:
		log.Printf("redissentinel %s: subscription at %s failed: %s", s.Name(), ev.Node, ev.Error.Error())
	case LogMalformedMessage:
		log.Printf("redissentinel %s: malformed notification: %v", s.Name(), ev.Message)
	case LogFailureIgnored:
		// failures of non-leader nodes are not interesting
	default:
		log.Printf("redissentinel %s: unexpected event: %#v", s.Name(), event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report.
func (d NoopLogger) Report(s *Sentinel, event LogEvent) {}

package rediscluster

import (
	"log"
)

// Logger is used for loggin cluster-related events.
type Logger interface {
	// Report will be called when some events happens during cluster's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(c *Cluster, event LogEvent)
}

func (c *Cluster) report(event LogEvent) {
	c.opts.Logger.Report(c, event)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogClusterSlotsError is logged when CLUSTER SLOTS failed.
type LogClusterSlotsError struct {
	Addr  string // address of node which were asked
	Error error  // observed error
}

// LogSlotRangeError is logged when no host were able to respond to CLUSTER SLOTS.
// Fallback is a seed address all slots are mapped to, if it is initial discovery.
type LogSlotRangeError struct {
	Fallback string
}

// LogTopology is logged when slot map is replaced after successful discovery.
type LogTopology struct {
	Addr  string // node that answered
	Main  string
	Nodes int
}

// LogSlotMoved is logged when single slot is patched after MOVED.
type LogSlotMoved struct {
	Slot uint16
	From string
	To   string
}

// LogConnectionFailure is logged when client reports failed connection to a node.
type LogConnectionFailure struct {
	Addr string
}

// LogNodeRemoved is logged when pool of node which owns no slots anymore is closed.
type LogNodeRemoved struct {
	Addr string
}

func (LogClusterSlotsError) logEvent() {}
func (LogSlotRangeError) logEvent()    {}
func (LogTopology) logEvent()          {}
func (LogSlotMoved) logEvent()         {}
func (LogConnectionFailure) logEvent() {}
func (LogNodeRemoved) logEvent()       {}

// DefaultLogger is a default Logger implementation
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(cluster *Cluster, event LogEvent) {
	switch ev := event.(type) {
	case LogClusterSlotsError:
		log.Printf("rediscluster %s: 'CLUSTER SLOTS' request to %s failed: %s",
			cluster.Name(), ev.Addr, ev.Error.Error())
	case LogSlotRangeError:
		if ev.Fallback != "" {
			log.Printf("rediscluster %s: no alive nodes to request 'CLUSTER SLOTS', all slots mapped to %s",
				cluster.Name(), ev.Fallback)
		} else {
			log.Printf("rediscluster %s: no alive nodes to request 'CLUSTER SLOTS'", cluster.Name())
		}
	case LogTopology:
		log.Printf("rediscluster %s: slots learned from %s: %d nodes, main %s",
			cluster.Name(), ev.Addr, ev.Nodes, ev.Main)
	case LogSlotMoved:
		log.Printf("rediscluster %s: slot %d moved %s -> %s", cluster.Name(), ev.Slot, ev.From, ev.To)
	case LogConnectionFailure:
		log.Printf("rediscluster %s: connection to %s failed, refreshing slots", cluster.Name(), ev.Addr)
	case LogNodeRemoved:
		log.Printf("rediscluster %s: node %s owns no slots, its pool is closed", cluster.Name(), ev.Addr)
	default:
		log.Printf("rediscluster %s: unexpected event: %#v", cluster.Name(), event)
	}
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report
func (d NoopLogger) Report(conn *Cluster, event LogEvent) {}

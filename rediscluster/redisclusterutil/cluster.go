package redisclusterutil

import (
	"fmt"
	"strconv"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

// SlotsRange represents slice of slots
type SlotsRange struct {
	From  int
	To    int
	Addrs []string // addresses of hosts hosting this range of slots. First address is a master, and other are slaves.
}

// ParseSlotsInfo parses result of CLUSTER SLOTS command.
// Nodes without known address are skipped, ranges without any addressed node are dropped.
func ParseSlotsInfo(res interface{}) ([]SlotsRange, error) {
	if err := redis.AsError(res); err != nil {
		return nil, err
	}

	errf := func(f string, args ...interface{}) ([]SlotsRange, error) {
		msg := fmt.Sprintf(f, args...)
		err := redis.ErrResponseUnexpected.New("%s", msg)
		return nil, err
	}

	var rawranges []interface{}
	var ok bool
	if rawranges, ok = res.([]interface{}); !ok {
		return errf("type is not array: %+v", res)
	}
	if len(rawranges) == 0 {
		return errf("host doesn't know about slots (probably it is not in cluster)")
	}

	ranges := make([]SlotsRange, 0, len(rawranges))
	for i, rawelem := range rawranges {
		var rawrange []interface{}
		var ok bool
		var i64 int64
		r := SlotsRange{}
		if rawrange, ok = rawelem.([]interface{}); !ok || len(rawrange) < 3 {
			return errf("format mismatch: res[%d]=%+v", i, rawelem)
		}
		if i64, ok = rawrange[0].(int64); !ok || i64 < 0 || i64 >= NumSlots {
			return errf("format mismatch: res[%d][0]=%+v", i, rawrange[0])
		}
		r.From = int(i64)
		if i64, ok = rawrange[1].(int64); !ok || i64 < 0 || i64 >= NumSlots {
			return errf("format mismatch: res[%d][1]=%+v", i, rawrange[1])
		}
		r.To = int(i64)
		if r.From > r.To {
			return errf("range wrong: res[%d]=%+v", i, rawrange)
		}
		for j := 2; j < len(rawrange); j++ {
			rawaddr, ok := rawrange[j].([]interface{})
			if !ok || len(rawaddr) < 2 {
				return errf("address format mismatch: res[%d][%d] = %+v",
					i, j, rawrange[j])
			}
			host, ok := rawaddr[0].([]byte)
			port, ok2 := rawaddr[1].(int64)
			if !ok || !ok2 || len(host) == 0 || port == 0 {
				// node address is unknown (for example, it is in handshake)
				continue
			}
			if port < 0 || port > 65535 {
				return errf("address format mismatch: res[%d][%d] = %+v",
					i, j, rawaddr)
			}
			r.Addrs = append(r.Addrs, string(host)+":"+strconv.Itoa(int(port)))
		}
		if len(r.Addrs) == 0 {
			continue
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return errf("no addressed slot ranges")
	}
	return ranges, nil
}

// Redirect is a parsed MOVED or ASK answer.
type Redirect struct {
	Slot   uint16
	Addr   string
	Asking bool
}

// ParseRedirect extracts redirection information from MOVED or ASK error.
func ParseRedirect(err error) (Redirect, bool) {
	rerr := errorx.Cast(err)
	if rerr == nil || !rerr.HasTrait(redis.ErrTraitClusterMove) {
		return Redirect{}, false
	}
	addr, ok := rerr.Property(redis.EKMovedTo)
	if !ok {
		return Redirect{}, false
	}
	slot, ok := rerr.Property(redis.EKSlot)
	if !ok {
		return Redirect{}, false
	}
	r := Redirect{Addr: addr.(string), Asking: rerr.IsOfType(redis.ErrAsk)}
	r.Slot = uint16(slot.(int64))
	return r, true
}

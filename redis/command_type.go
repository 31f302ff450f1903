package redis

import "strings"

var dangerousCommands = map[string]struct{}{
	"SUBSCRIBE": {}, "PSUBSCRIBE": {}, "SSUBSCRIBE": {},
	"UNSUBSCRIBE": {}, "PUNSUBSCRIBE": {}, "SUNSUBSCRIBE": {},
	"MONITOR": {}, "SYNC": {}, "PSYNC": {},
	"MULTI": {}, "EXEC": {}, "DISCARD": {}, "WATCH": {}, "UNWATCH": {},
	"SELECT": {}, "SWAPDB": {}, "AUTH": {}, "QUIT": {}, "RESET": {}, "HELLO": {},
}

var nonIdempotentCommands = map[string]struct{}{
	"INCR": {}, "INCRBY": {}, "INCRBYFLOAT": {}, "DECR": {}, "DECRBY": {},
	"HINCRBY": {}, "HINCRBYFLOAT": {}, "ZINCRBY": {},
	"LPUSH": {}, "RPUSH": {}, "LPUSHX": {}, "RPUSHX": {}, "LPOP": {}, "RPOP": {},
	"RPOPLPUSH": {}, "LMOVE": {}, "SPOP": {}, "APPEND": {}, "PUBLISH": {},
	"XADD": {}, "PFADD": {}, "GETDEL": {}, "GETSET": {},
}

func upper(cmd string) string {
	for i := 0; i < len(cmd); i++ {
		if cmd[i] >= 'a' && cmd[i] <= 'z' {
			return strings.ToUpper(cmd)
		}
	}
	return cmd
}

// Dangerous returns true if command changes connection state and so could not be
// sent over a pooled connection shared between callers over time.
func Dangerous(cmd string) bool {
	_, ok := dangerousCommands[upper(cmd)]
	return ok
}

// NonIdempotent returns true if repeating the command could apply its effect twice.
// Such commands are executed at most once: they are not retried after an io error.
func NonIdempotent(cmd string) bool {
	_, ok := nonIdempotentCommands[upper(cmd)]
	return ok
}

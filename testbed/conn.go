package testbed

import (
	"bufio"
	"net"
	"time"

	"github.com/joomcode/redisguard/redis"
)

// Do sends single command to addr with fresh connection and returns parsed answer.
// It is used to inspect servers in tests independently from the code under test.
func Do(addr string, cmd string, args ...interface{}) interface{} {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return redis.ErrDial.WrapWithNoMessage(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(1 * time.Second))
	req, rerr := redis.AppendRequest(nil, redis.Req(cmd, args...))
	if rerr != nil {
		return rerr
	}
	if _, err = conn.Write(req); err != nil {
		return redis.ErrIO.WrapWithNoMessage(err)
	}
	return redis.ReadResponse(bufio.NewReader(conn))
}

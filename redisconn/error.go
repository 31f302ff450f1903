package redisconn

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrNotConnected - connection is already broken or closed.
	ErrNotConnected = redis.ErrConnection.NewType("not_connected")
)

var (
	// EKConnection - key for connection that handled request.
	EKConnection = errorx.RegisterProperty("connection")
)

func (c *Conn) err(typ *errorx.Type) *errorx.Error {
	return typ.NewWithNoMessage().WithProperty(redis.EKAddress, c.addr)
}

func (c *Conn) wrapErr(typ *errorx.Type, err error) *errorx.Error {
	return typ.WrapWithNoMessage(err).WithProperty(redis.EKAddress, c.addr)
}

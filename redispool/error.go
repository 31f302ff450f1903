package redispool

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrPool - namespace of pool errors. Request were not sent in all of them.
	ErrPool = redis.Errors.NewSubNamespace("pool", redis.ErrTraitNotSent)
	// ErrPoolTimeout - no connection became available before deadline.
	ErrPoolTimeout = ErrPool.NewType("timeout", errorx.Timeout())
	// ErrPoolExhausted - all connections are borrowed, and pool is configured not to wait.
	ErrPoolExhausted = ErrPool.NewType("exhausted")
	// ErrPoolClosed - pool is closed.
	ErrPoolClosed = ErrPool.NewType("closed")
)

var (
	// EKPool - name of pool.
	EKPool = errorx.RegisterProperty("pool")
	// EKWaited - time spent in Borrow.
	EKWaited = errorx.RegisterProperty("waited")
	// EKPriority - priority of failed Borrow.
	EKPriority = errorx.RegisterProperty("priority")
)

package nearcache

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrNearCache - near-cache related errors.
	ErrNearCache = redis.Errors.NewSubNamespace("nearcache")
	// ErrClosed - write buffer doesn't accept entries after Close.
	ErrClosed = ErrNearCache.NewType("closed")
	// ErrFlushIncomplete - some entries were dropped while flushing on Close.
	ErrFlushIncomplete = ErrNearCache.NewType("flush_incomplete")
)

var (
	// EKDropped - number of entries dropped on shutdown.
	EKDropped = errorx.RegisterProperty("dropped")
	// EKKey - key of entry.
	EKKey = errorx.RegisterProperty("key")
)

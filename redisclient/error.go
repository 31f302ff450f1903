package redisclient

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

var (
	// ErrClient - namespace of client errors.
	ErrClient = redis.Errors.NewSubNamespace("client")
	// ErrClientClosed - client is closed, request were not sent.
	ErrClientClosed = ErrClient.NewType("closed", redis.ErrTraitNotSent)
	// ErrJoin - near-cache writes were not persisted before context expired.
	ErrJoin = ErrClient.NewType("join", errorx.Timeout())
)

var (
	// EKMode - connection mode of client.
	EKMode = errorx.RegisterProperty("mode")
	// EKRedirects - number of followed MOVED/ASK redirects.
	EKRedirects = errorx.RegisterProperty("redirects")
)

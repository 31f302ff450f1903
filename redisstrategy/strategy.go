// Package redisstrategy defines Strategy, which resolves addresses of redis nodes and owns their pools,
// and implements it for single standalone server.
//
// Sentinel and cluster strategies live in packages redissentinel and rediscluster.
package redisstrategy

import (
	"context"
	"time"

	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redispool"
)

// Strategy provides pools for commands.
type Strategy interface {
	// Pool returns pool of main node (leader).
	Pool(ctx context.Context) (*redispool.Pool, error)
	// PoolForKey returns pool of node serving key.
	PoolForKey(ctx context.Context, key string) (*redispool.Pool, error)
	// OnConnectionFailure is called by client when exchange with addr failed with connectivity error.
	OnConnectionFailure(addr string)
	// Addr returns address of main node.
	Addr() string
	// Close closes all pools and stops background work.
	Close()
}

// PoolOpts describes how pools are built.
type PoolOpts struct {
	// Conn - options of pooled connections.
	Conn redisconn.Opts
	// MaxLifetime - pooled connection older than this is closed.
	MaxLifetime time.Duration
	// MaxIdleTime - pooled connection idle for longer than this is closed.
	MaxIdleTime time.Duration
	// Pool - options of pool. Name is replaced with node address.
	Pool redispool.Opts
}

// NewPool creates pool of connections to addr.
func (o PoolOpts) NewPool(ctx context.Context, addr string) (*redispool.Pool, error) {
	factory := &redispool.ConnFactory{
		Address:     addr,
		Opts:        o.Conn,
		MaxLifetime: o.MaxLifetime,
		MaxIdleTime: o.MaxIdleTime,
	}
	opts := o.Pool
	opts.Name = addr
	return redispool.New(ctx, factory, opts)
}

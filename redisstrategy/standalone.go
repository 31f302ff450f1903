package redisstrategy

import (
	"context"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redispool"
)

// StandaloneOpts - options for Standalone.
type StandaloneOpts struct {
	PoolOpts
	Logger Logger
}

// Standalone is a strategy with single fixed address.
type Standalone struct {
	addr   string
	pool   *redispool.Pool
	logger Logger
}

var _ Strategy = (*Standalone)(nil)

// NewStandalone creates pool to addr.
func NewStandalone(ctx context.Context, addr string, opts StandaloneOpts) (*Standalone, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if addr == "" {
		return nil, redis.ErrNoAddressProvided.NewWithNoMessage()
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	pool, err := opts.NewPool(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Standalone{addr: addr, pool: pool, logger: opts.Logger}, nil
}

// Pool implements Strategy.Pool
func (s *Standalone) Pool(ctx context.Context) (*redispool.Pool, error) {
	return s.pool, nil
}

// PoolForKey implements Strategy.PoolForKey
func (s *Standalone) PoolForKey(ctx context.Context, key string) (*redispool.Pool, error) {
	return s.pool, nil
}

// OnConnectionFailure implements Strategy.OnConnectionFailure. It only logs.
func (s *Standalone) OnConnectionFailure(addr string) {
	s.logger.Report(s, LogConnectionFailure{Addr: addr})
}

// Addr implements Strategy.Addr
func (s *Standalone) Addr() string {
	return s.addr
}

// Close implements Strategy.Close
func (s *Standalone) Close() {
	s.pool.Close()
}

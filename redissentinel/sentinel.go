// Package redissentinel implements strategy for leader/replica setup monitored by sentinels.
//
// Leader address is asked from sentinel nodes in turn. Background subscriber listens
// +switch-master notifications and rebuilds pool when leader changes. Client reported
// failures of leader trigger rediscovery, coalesced for concurrent reporters.
package redissentinel

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/redisstrategy"
)

const (
	switchMasterChannel     = "+switch-master"
	defaultSubscribeBackoff = time.Second
	// anyGeneration makes switchTo ignore switches done meanwhile
	anyGeneration           = -1
)

// Opts - options for Sentinel.
type Opts struct {
	redisstrategy.PoolOpts
	// Nodes - addresses of sentinel nodes.
	Nodes []string
	// MasterName - name of monitored leader.
	MasterName string
	// SentinelConn - options of connections to sentinel nodes.
	// DB is never selected on them.
	SentinelConn redisconn.Opts
	// SubscribeBackoff - pause before subscribing to next node after subscription failure.
	// Default is 1 second.
	SubscribeBackoff time.Duration
	Logger           Logger
}

// Sentinel is a strategy which follows leader announced by sentinels.
type Sentinel struct {
	opts Opts

	// rebuild serializes pool rebuilds, so mu is not held while new pool dials
	rebuild sync.Mutex
	// mu guards addr, pool and gen
	mu     sync.Mutex
	addr   string
	pool   *redispool.Pool
	closed bool
	// gen is incremented on every switch
	gen int64

	discovery singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ redisstrategy.Strategy = (*Sentinel)(nil)

// New discovers leader, creates pool to it and starts subscriber.
func New(ctx context.Context, opts Opts) (*Sentinel, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if len(opts.Nodes) == 0 {
		return nil, redis.ErrNoAddressProvided.New("no sentinel nodes configured")
	}
	if opts.MasterName == "" {
		return nil, ErrNoMasterName.NewWithNoMessage()
	}
	if opts.SubscribeBackoff <= 0 {
		opts.SubscribeBackoff = defaultSubscribeBackoff
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	opts.SentinelConn.DB = -1

	s := &Sentinel{opts: opts}
	addr, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := opts.NewPool(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.addr = addr
	s.pool = pool
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.subscriber()
	return s, nil
}

// Name returns monitored master name.
func (s *Sentinel) Name() string {
	return s.opts.MasterName
}

// Pool implements Strategy.Pool
func (s *Sentinel) Pool(ctx context.Context) (*redispool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, redispool.ErrPoolClosed.NewWithNoMessage().WithProperty(EKMasterName, s.opts.MasterName)
	}
	return s.pool, nil
}

// PoolForKey implements Strategy.PoolForKey. All keys are served by leader.
func (s *Sentinel) PoolForKey(ctx context.Context, key string) (*redispool.Pool, error) {
	return s.Pool(ctx)
}

// Addr implements Strategy.Addr
func (s *Sentinel) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// OnConnectionFailure implements Strategy.OnConnectionFailure.
// If addr is a leader, leader is rediscovered, and pool is rebuilt if it is changed.
// Concurrent calls share single discovery.
func (s *Sentinel) OnConnectionFailure(addr string) {
	leader := s.Addr()
	if addr != leader {
		s.report(LogFailureIgnored{Addr: addr, Leader: leader})
		return
	}
	s.rediscover("rediscovery")
}

// rediscover asks sentinels for leader and switches to it. Concurrent calls share single discovery.
func (s *Sentinel) rediscover(reason string) {
	s.discovery.Do("discover", func() (interface{}, error) {
		gen := s.generation()
		newAddr, err := s.discover(s.ctx)
		if err != nil {
			return nil, err
		}
		// answer is stale if notification switched leader meanwhile
		s.switchTo(newAddr, reason, gen)
		return newAddr, nil
	})
}

// Close stops subscriber and closes pool.
func (s *Sentinel) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pool := s.pool
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	pool.Close()
}

// switchTo rebuilds pool against addr. Old pool is closed: its idle connections immediately,
// borrowed ones on return.
// New pool is created without holding mu, so Pool and Addr don't wait for its connections.
// It does nothing if another switch happened since generation gen, unless gen is anyGeneration.
func (s *Sentinel) switchTo(addr, reason string, gen int64) {
	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	s.mu.Lock()
	if s.closed || (gen != anyGeneration && s.gen != gen) || s.pool.Addr() == addr {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	pool, err := s.opts.NewPool(s.ctx, addr)
	if err != nil {
		s.report(LogQueryFailed{Node: addr, Error: err})
		return
	}

	s.mu.Lock()
	if s.closed || s.pool.Addr() == addr {
		s.mu.Unlock()
		pool.Close()
		return
	}
	old, from := s.pool, s.addr
	s.pool = pool
	s.addr = addr
	s.gen++
	s.mu.Unlock()

	old.Close()
	s.report(LogLeaderSwitched{From: from, To: addr, Reason: reason})
}

func (s *Sentinel) generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// discover asks sentinel nodes in turn, first answer wins.
func (s *Sentinel) discover(ctx context.Context) (string, error) {
	for _, node := range s.opts.Nodes {
		addr, err := s.queryLeader(ctx, node)
		if err != nil {
			s.report(LogQueryFailed{Node: node, Error: err})
			continue
		}
		s.report(LogDiscovered{Node: node, Addr: addr})
		return addr, nil
	}
	return "", ErrNoLeader.New("could not discover leader %q from any sentinel", s.opts.MasterName).
		WithProperty(EKMasterName, s.opts.MasterName)
}

func (s *Sentinel) queryLeader(ctx context.Context, node string) (string, error) {
	conn, err := redisconn.Dial(ctx, node, s.opts.SentinelConn)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	res, err := conn.Do(ctx, "SENTINEL", "get-master-addr-by-name", s.opts.MasterName)
	if err != nil {
		return "", err
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return "", ErrMalformedAnswer.New("unexpected answer %v", res).
			WithProperty(redis.EKAddress, node).
			WithProperty(EKMasterName, s.opts.MasterName)
	}
	host, hok := parts[0].([]byte)
	port, pok := parts[1].([]byte)
	if !hok || !pok || len(host) == 0 || len(port) == 0 {
		return "", ErrMalformedAnswer.New("unexpected answer %v", res).
			WithProperty(redis.EKAddress, node)
	}
	return net.JoinHostPort(string(host), string(port)), nil
}

// subscriber listens failover notifications, rotating through nodes until Close.
func (s *Sentinel) subscriber() {
	defer s.wg.Done()
	for i := 0; ; i++ {
		if s.ctx.Err() != nil {
			return
		}
		node := s.opts.Nodes[i%len(s.opts.Nodes)]
		err := s.subscribe(node)
		if s.ctx.Err() != nil {
			return
		}
		s.report(LogSubscriptionError{Node: node, Error: err})

		t := time.NewTimer(s.opts.SubscribeBackoff)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Sentinel) subscribe(node string) error {
	conn, err := redisconn.Dial(s.ctx, node, s.opts.SentinelConn)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err = conn.Do(s.ctx, "SUBSCRIBE", switchMasterChannel); err != nil {
		return err
	}
	// notifications sent while unsubscribed are lost, so leader could have changed
	s.rediscover("resubscribe")
	s.report(LogSubscribed{Node: node})
	for {
		msg, err := conn.Receive(s.ctx)
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

// handleMessage handles pushed message: ["message", "+switch-master", "name oldhost oldport newhost newport"]
func (s *Sentinel) handleMessage(msg interface{}) {
	parts, ok := msg.([]interface{})
	if !ok || len(parts) < 3 {
		s.report(LogMalformedMessage{Message: msg})
		return
	}
	kind, _ := parts[0].([]byte)
	channel, _ := parts[1].([]byte)
	data, _ := parts[2].([]byte)
	if string(kind) != "message" || string(channel) != switchMasterChannel {
		return
	}
	fields := strings.Fields(string(data))
	if len(fields) < 5 {
		s.report(LogMalformedMessage{Message: string(data)})
		return
	}
	if fields[0] != s.opts.MasterName {
		return
	}
	s.switchTo(net.JoinHostPort(fields[3], fields[4]), "switch-master", anyGeneration)
}

func (s *Sentinel) report(event LogEvent) {
	s.opts.Logger.Report(s, event)
}

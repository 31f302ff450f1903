// Package redisclient composes strategy, connection pools, resilient operation and
// near-cache write buffer into a client executing commands.
//
// Every exchange borrows connection, sends request, and returns connection to pool.
// If exchange failed with io error, or its context were cancelled or timed out,
// connection is invalidated instead, since its protocol state is unknown.
//
// Redis error replies are results: they don't trip circuit breaker and are not retried.
// Command returns them as error, Batch leaves them in their positions as *errorx.Error.
package redisclient

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joomcode/redisguard/nearcache"
	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/rediscluster"
	"github.com/joomcode/redisguard/rediscluster/redisclusterutil"
	"github.com/joomcode/redisguard/redisconfig"
	"github.com/joomcode/redisguard/redismetrics"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/redissentinel"
	"github.com/joomcode/redisguard/redisstrategy"
	"github.com/joomcode/redisguard/resilience"
)

// SpanName is a name of spans started for commands and batches.
const SpanName = "redisguard.command"

const joinPollInterval = time.Millisecond

// Client executes commands against standalone server, sentinel managed leader or cluster.
type Client struct {
	cfg  redisconfig.Config
	opts options

	strategy redisstrategy.Strategy
	// cluster is set if strategy routes by slot and answers MOVED/ASK
	cluster *rediscluster.Cluster
	op      *resilience.Operation
	near    *nearcache.Buffer
	tracer  trace.Tracer
	logger  Logger

	closed atomic.Bool
}

// New validates configuration, builds strategy of configured mode and connects to it.
// Near-cache write buffer is started if enabled.
func New(ctx context.Context, cfg redisconfig.Config, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = redismetrics.Default()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.loggers.Client == nil {
		o.loggers.Client = DefaultLogger{}
	}

	c := &Client{
		cfg:    cfg,
		opts:   o,
		tracer: o.tracerProvider.Tracer(redismetrics.InstrumentationName),
		logger: o.loggers.Client,
	}

	c.strategy = o.strategy
	if c.strategy == nil {
		s, err := c.newStrategy(ctx)
		if err != nil {
			return nil, errorx.Decorate(err, "could not start %s client", cfg.Mode)
		}
		c.strategy = s
	}
	c.cluster, _ = c.strategy.(*rediscluster.Cluster)

	ro := cfg.ResilienceOpts()
	ro.Logger = o.loggers.Resilience
	ro.Metrics = o.metrics
	c.op = resilience.NewOperation(ro)

	if cfg.NearCache.Enabled {
		no := cfg.NearCacheOpts()
		no.Logger = o.loggers.NearCache
		no.Metrics = o.metrics
		persister := o.persister
		if persister == nil {
			// background writes must not starve interactive ones
			persister = nearcache.PersisterFunc(func(ctx context.Context, key string, value []byte, exp int) error {
				return c.persist(ctx, redispool.PriorityLow, key, value, exp)
			})
		}
		c.near = nearcache.New(persister, no)
	}
	return c, nil
}

func (c *Client) newStrategy(ctx context.Context) (redisstrategy.Strategy, error) {
	l := c.opts.loggers
	po := c.cfg.PoolOpts()
	po.Conn.Logger = l.Conn
	po.Pool.Logger = l.Pool
	po.Pool.Metrics = c.opts.metrics

	switch c.cfg.Mode {
	case redisconfig.ModeSentinel:
		sc := c.cfg.SentinelConnOpts()
		sc.Logger = l.Conn
		s, err := redissentinel.New(ctx, redissentinel.Opts{
			PoolOpts:     po,
			Nodes:        c.cfg.Sentinel.Nodes,
			MasterName:   c.cfg.Sentinel.MasterName,
			SentinelConn: sc,
			Logger:       l.Sentinel,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case redisconfig.ModeCluster:
		cl, err := rediscluster.NewCluster(ctx, rediscluster.Opts{
			PoolOpts:     po,
			Seeds:        c.cfg.Cluster.Seeds,
			MaxRedirects: c.cfg.Cluster.MaxRedirects,
			Logger:       l.Cluster,
		})
		if err != nil {
			return nil, err
		}
		return cl, nil
	default:
		s, err := redisstrategy.NewStandalone(ctx, c.cfg.Addr(), redisstrategy.StandaloneOpts{
			PoolOpts: po,
			Logger:   l.Standalone,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Mode returns connection mode of client.
func (c *Client) Mode() string {
	return c.cfg.Mode
}

// Strategy returns strategy client sends commands through.
func (c *Client) Strategy() redisstrategy.Strategy {
	return c.strategy
}

// Operation returns resilient operation wrapping every command.
func (c *Client) Operation() *resilience.Operation {
	return c.op
}

// NearCache returns near-cache write buffer, or nil if it is disabled.
func (c *Client) NearCache() *nearcache.Buffer {
	return c.near
}

// Command executes single command.
// Before sending it waits (boundedly) until near-cache writes made so far are persisted.
// Commands classified as non-idempotent are executed at most once.
func (c *Client) Command(ctx context.Context, prio redispool.Priority, cmd string, args ...interface{}) (interface{}, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	req := redis.Req(cmd, args...)
	if redis.Dangerous(cmd) {
		return nil, dangerous(req)
	}
	c.join()

	ctx, span := c.startSpan(ctx, cmd, 1)
	start := time.Now()
	res, err := c.command(ctx, prio, req)
	c.finish(ctx, span, cmd, start, err)
	return res, err
}

// Batch sends requests pipelined and returns their results in the same order.
// Redis error replies are returned in their positions; returned error means whole batch failed.
// In cluster mode requests are grouped by node, and redirected ones are sent again one by one.
// Batch containing non-idempotent command is executed at most once.
func (c *Client) Batch(ctx context.Context, prio redispool.Priority, reqs []redis.Request) ([]interface{}, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	for _, req := range reqs {
		if redis.Dangerous(req.Cmd) {
			return nil, dangerous(req)
		}
	}
	c.join()

	ctx, span := c.startSpan(ctx, "BATCH", len(reqs))
	start := time.Now()
	res, err := c.batch(ctx, prio, reqs)
	c.finish(ctx, span, "BATCH", start, err)
	return res, err
}

// Get returns value of key. Value of pending near-cache write wins over stored one.
// Missing key gives nil value and nil error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if c.near != nil {
		if v, ok := c.near.Get(key); ok {
			return append([]byte(nil), v...), nil
		}
	}
	res, err := c.Command(ctx, redispool.PriorityNormal, "GET", key)
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	}
	return nil, redis.ErrResponseUnexpected.New("GET answered with %T", res).WithProperty(redis.EKResponse, res)
}

// Set enqueues write to near-cache and returns immediately.
// If near-cache is disabled, it persists value synchronously.
func (c *Client) Set(ctx context.Context, key string, value []byte, expirySeconds int) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if c.near == nil {
		return c.Persist(ctx, key, value, expirySeconds)
	}
	c.near.Put(key, value, expirySeconds)
	return nil
}

// Persist writes value with SET, and EXPIRE if expirySeconds is positive, in single pipeline.
// It implements nearcache.Persister.
func (c *Client) Persist(ctx context.Context, key string, value []byte, expirySeconds int) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.persist(ctx, redispool.PriorityNormal, key, value, expirySeconds)
}

var _ nearcache.Persister = (*Client)(nil)

// Join waits until near-cache writes made so far are persisted (or dropped), or ctx expires.
func (c *Client) Join(ctx context.Context) error {
	if ctx == nil {
		return redis.ErrContextIsNil.NewWithNoMessage()
	}
	if c.near == nil {
		return nil
	}
	seq := c.near.Seq()
	t := time.NewTicker(joinPollInterval)
	defer t.Stop()
	for c.near.Watermark() < seq && c.near.Len() > 0 {
		select {
		case <-ctx.Done():
			return ErrJoin.Wrap(ctx.Err(), "writes up to %d are not persisted, watermark is %d", seq, c.near.Watermark())
		case <-t.C:
		}
	}
	return nil
}

// Close flushes near-cache within ctx, and closes strategy with its pools.
// Error is returned if some near-cache writes were lost.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.near != nil {
		err = c.near.Close(ctx)
	}
	c.strategy.Close()
	return err
}

func (c *Client) check(ctx context.Context) error {
	if ctx == nil {
		return redis.ErrContextIsNil.NewWithNoMessage()
	}
	if c.closed.Load() {
		return ErrClientClosed.NewWithNoMessage().WithProperty(EKMode, c.cfg.Mode)
	}
	return nil
}

func (c *Client) join() {
	if c.near == nil {
		return
	}
	seq := c.near.Seq()
	if !c.near.DoJoin(seq) {
		c.report(LogJoinSkipped{Seq: seq, Watermark: c.near.Watermark()})
	}
}

func (c *Client) persist(ctx context.Context, prio redispool.Priority, key string, value []byte, exp int) error {
	reqs := []redis.Request{redis.Req("SET", key, value)}
	if exp > 0 {
		reqs = append(reqs, redis.Req("EXPIRE", key, exp))
	}
	ctx, span := c.startSpan(ctx, "PERSIST", len(reqs))
	start := time.Now()
	res, err := c.batch(ctx, prio, reqs)
	if err == nil {
		for _, r := range res {
			if rerr := redis.AsErrorx(r); rerr != nil {
				err = rerr
				break
			}
		}
	}
	c.finish(ctx, span, "PERSIST", start, err)
	return err
}

// command runs request through resilient operation.
// Error reply is kept aside, so operation sees success.
func (c *Client) command(ctx context.Context, prio redispool.Priority, req redis.Request) (interface{}, error) {
	var (
		res   interface{}
		reply error
	)
	err := c.execute(ctx, req.Cmd, c.opts.nonIdempotent(req.Cmd), func(ctx context.Context) error {
		r, err := c.do(ctx, prio, req)
		if err != nil && !isReply(err) {
			return err
		}
		res, reply = r, err
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, reply
}

func (c *Client) batch(ctx context.Context, prio redispool.Priority, reqs []redis.Request) ([]interface{}, error) {
	once := false
	for _, req := range reqs {
		if c.opts.nonIdempotent(req.Cmd) {
			once = true
			break
		}
	}
	var (
		res   []interface{}
		reply error
	)
	err := c.execute(ctx, "BATCH", once, func(ctx context.Context) error {
		r, err := c.doBatch(ctx, prio, reqs)
		if err != nil && !isReply(err) {
			return err
		}
		res, reply = r, err
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, reply
}

func (c *Client) execute(ctx context.Context, name string, once bool, op resilience.Op) error {
	if once {
		return c.op.ExecuteOnce(ctx, name, op)
	}
	return c.op.Execute(ctx, name, op)
}

// isReply reports errors which say nothing about server health:
// error replies and requests which could not be serialized.
func isReply(err error) bool {
	return errorx.IsOfType(err, redis.ErrResult) || errorx.IsOfType(err, redis.ErrRequest)
}

func (c *Client) poolFor(ctx context.Context, req redis.Request) (*redispool.Pool, error) {
	if key, ok := req.Key(); ok {
		return c.strategy.PoolForKey(ctx, key)
	}
	return c.strategy.Pool(ctx)
}

func (c *Client) do(ctx context.Context, prio redispool.Priority, req redis.Request) (interface{}, error) {
	reqs := []redis.Request{req}
	pool, err := c.poolFor(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := c.roundTrip(ctx, pool, prio, reqs, false)
	if c.replaced(err) {
		if pool, err = c.poolFor(ctx, req); err != nil {
			return nil, err
		}
		res, err = c.roundTrip(ctx, pool, prio, reqs, false)
	}
	if err != nil {
		return nil, err
	}
	return c.follow(ctx, prio, req, pool.Addr(), res[0])
}

// replaced reports that strategy closed pool after it was handed out,
// so request could be sent to its replacement.
func (c *Client) replaced(err error) bool {
	return err != nil && errorx.IsOfType(err, redispool.ErrPoolClosed) && !c.closed.Load()
}

// follow sends request again while reply is MOVED or ASK, up to MaxRedirects times.
func (c *Client) follow(ctx context.Context, prio redispool.Priority, req redis.Request, from string, reply interface{}) (interface{}, error) {
	for redirects := 0; ; redirects++ {
		rerr := redis.AsErrorx(reply)
		if rerr == nil {
			return reply, nil
		}
		r, ok := redisclusterutil.ParseRedirect(rerr)
		if !ok || c.cluster == nil {
			return nil, rerr
		}
		if !r.Asking {
			c.cluster.HandleMoved(r.Slot, r.Addr)
		}
		if !c.cfg.Cluster.FollowRedirects || redirects >= c.cluster.MaxRedirects() {
			return nil, rerr.WithProperty(EKRedirects, redirects)
		}
		c.report(LogRedirect{Cmd: req.Cmd, Slot: r.Slot, From: from, To: r.Addr, Asking: r.Asking})

		var pool *redispool.Pool
		var err error
		if r.Asking {
			pool, err = c.cluster.HandleAsk(ctx, r.Addr)
		} else {
			pool, err = c.cluster.PoolForAddr(ctx, r.Addr)
		}
		if err != nil {
			return nil, err
		}
		res, err := c.roundTrip(ctx, pool, prio, []redis.Request{req}, r.Asking)
		if err != nil {
			return nil, err
		}
		from, reply = r.Addr, res[0]
	}
}

func (c *Client) doBatch(ctx context.Context, prio redispool.Priority, reqs []redis.Request) ([]interface{}, error) {
	if c.cluster == nil {
		pool, err := c.strategy.Pool(ctx)
		if err != nil {
			return nil, err
		}
		res, err := c.roundTrip(ctx, pool, prio, reqs, false)
		if c.replaced(err) {
			if pool, err = c.strategy.Pool(ctx); err != nil {
				return nil, err
			}
			res, err = c.roundTrip(ctx, pool, prio, reqs, false)
		}
		return res, err
	}

	var order []string
	groups := make(map[string][]int)
	for i, req := range reqs {
		addr := c.cluster.Addr()
		if key, ok := req.Key(); ok {
			addr = c.cluster.NodeForKey(key)
		}
		if _, ok := groups[addr]; !ok {
			order = append(order, addr)
		}
		groups[addr] = append(groups[addr], i)
	}

	res := make([]interface{}, len(reqs))
	for _, addr := range order {
		idx := groups[addr]
		pool, err := c.cluster.PoolForAddr(ctx, addr)
		if err != nil {
			return nil, err
		}
		sub := make([]redis.Request, len(idx))
		for j, i := range idx {
			sub[j] = reqs[i]
		}
		part, err := c.roundTrip(ctx, pool, prio, sub, false)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			res[i] = part[j]
			if _, moved := redisclusterutil.ParseRedirect(redis.AsError(part[j])); !moved {
				continue
			}
			v, err := c.follow(ctx, prio, reqs[i], addr, part[j])
			if err != nil {
				rerr := errorx.Cast(err)
				if rerr == nil || redis.HardError(rerr) {
					return nil, err
				}
				v = rerr
			}
			res[i] = v
		}
	}
	return res, nil
}

// roundTrip is a single exchange over borrowed connection.
// If asking is set, requests are preceded with ASKING, and its answer is stripped.
func (c *Client) roundTrip(ctx context.Context, pool *redispool.Pool, prio redispool.Priority, reqs []redis.Request, asking bool) ([]interface{}, error) {
	conn, err := pool.Borrow(ctx, prio)
	if err != nil {
		c.connectionFailure(ctx, pool.Addr(), err)
		return nil, err
	}
	if asking {
		reqs = append([]redis.Request{redis.Req("ASKING")}, reqs...)
	}
	res, err := conn.DoMany(ctx, reqs...)
	if conn.Closed() || ctx.Err() != nil {
		pool.Invalidate(conn)
	} else {
		pool.Return(conn)
	}
	if err != nil {
		c.connectionFailure(ctx, pool.Addr(), err)
		return nil, err
	}
	if asking {
		if rerr := redis.AsErrorx(res[0]); rerr != nil {
			return nil, rerr
		}
		res = res[1:]
	}
	return res, nil
}

func (c *Client) connectionFailure(ctx context.Context, addr string, err error) {
	if ctx.Err() != nil || !errorx.HasTrait(err, redis.ErrTraitConnectivity) {
		return
	}
	c.report(LogConnectionFailure{Addr: addr, Error: err})
	c.strategy.OnConnectionFailure(addr)
}

func (c *Client) startSpan(ctx context.Context, name string, size int) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, SpanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", strings.ToUpper(name)),
			attribute.String("redisguard.mode", c.cfg.Mode),
			attribute.Int("redisguard.batch_size", size),
		),
	)
}

func (c *Client) finish(ctx context.Context, span trace.Span, name string, start time.Time, err error) {
	c.opts.metrics.Command(ctx, strings.ToUpper(name), time.Since(start), err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (c *Client) report(event LogEvent) {
	c.logger.Report(c, event)
}

func dangerous(req redis.Request) error {
	return redis.ErrDangerousCommand.New("%s is not allowed on pooled connection", strings.ToUpper(req.Cmd)).
		WithProperty(redis.EKRequest, req)
}

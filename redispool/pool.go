// Package redispool implements bounded pool of redisconn connections.
//
// Connection is borrowed exclusively: until it is returned or invalidated nobody else
// could get it. Total number of borrowed connections never exceeds MaxTotal, and waiters
// are served in FIFO order.
//
// Low priority borrowers additionally wait while number of borrowed connections is at or
// above MaxLowPriority, so background work could not starve interactive one.
// The ceiling is soft: several low priority borrowers could pass the check simultaneously.
package redispool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"
	"golang.org/x/sync/semaphore"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redismetrics"
)

const (
	defaultMaxTotal         = 8
	defaultEvictionInterval = 30 * time.Second

	lowPriorityMinBackoff = time.Millisecond
	lowPriorityMaxBackoff = 50 * time.Millisecond
)

// Priority of Borrow.
type Priority int

const (
	// PriorityNormal borrowers are limited by MaxTotal only.
	PriorityNormal Priority = iota
	// PriorityLow borrowers are also limited by MaxLowPriority.
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityLow {
		return "low"
	}
	return "normal"
}

// Opts - options for Pool
type Opts struct {
	// Name is used in logs and metrics. Default is factory address.
	Name string
	// MaxTotal - maximum number of borrowed connections. Default is 8.
	MaxTotal int
	// MaxIdle - maximum number of idle connections. If 0, then MaxTotal is used.
	MaxIdle int
	// MinIdle - evictor keeps at least this number of idle connections.
	MinIdle int
	// MaxLowPriority - low priority Borrow waits while this number of connections is borrowed.
	// 0 disables the ceiling.
	MaxLowPriority int
	// FailFast makes Borrow fail with ErrPoolExhausted instead of waiting.
	FailFast bool
	// MaxWait bounds waiting in Borrow in addition to context deadline. 0 means wait for context.
	MaxWait time.Duration
	// FIFO makes pool to hand out least recently returned connection first.
	// Default is LIFO.
	FIFO bool
	// TestOnBorrow makes pool to PING idle connection before hand it out.
	TestOnBorrow bool
	// EvictionInterval - period of evictor runs. Default is 30 seconds. Negative disables evictor.
	EvictionInterval time.Duration
	// MinEvictableIdle - evictor closes connections idle for this long while there are more than MinIdle.
	// 0 disables this check (but Factory.Validate still applies).
	MinEvictableIdle time.Duration
	// Logger
	Logger Logger
	// Metrics
	Metrics *redismetrics.Metrics
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Active  int // - borrowed connections
	Idle    int // - idle connections
	Waiting int // - callers blocked in Borrow

	Created     int64
	Destroyed   int64
	Borrowed    int64
	Returned    int64
	Invalidated int64
	Timeouts    int64
}

type entry struct {
	conn      *redisconn.Conn
	idleSince time.Time
	useCount  int64
}

// Pool is a pool of connections to a single address.
type Pool struct {
	factory Factory
	opts    Opts
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []*entry
	active map[*redisconn.Conn]*entry
	closed bool
	// open counts idle, active and being created connections.
	open int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	waiting     int64
	created     int64
	destroyed   int64
	borrowed    int64
	returned    int64
	invalidated int64
	timeouts    int64
}

// New creates pool and starts evictor.
// If MinIdle > 0, pool tries to establish MinIdle connections using ctx.
// Failure to establish them is only logged.
func New(ctx context.Context, factory Factory, opts Opts) (*Pool, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if factory == nil || factory.Addr() == "" {
		return nil, redis.ErrNoAddressProvided.NewWithNoMessage()
	}
	if opts.Name == "" {
		opts.Name = factory.Addr()
	}
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = defaultMaxTotal
	}
	if opts.MaxIdle <= 0 || opts.MaxIdle > opts.MaxTotal {
		opts.MaxIdle = opts.MaxTotal
	}
	if opts.MinIdle > opts.MaxIdle {
		opts.MinIdle = opts.MaxIdle
	}
	if opts.MaxLowPriority < 0 {
		opts.MaxLowPriority = 0
	}
	if opts.EvictionInterval == 0 {
		opts.EvictionInterval = defaultEvictionInterval
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}

	p := &Pool{
		factory: factory,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxTotal)),
		active:  make(map[*redisconn.Conn]*entry),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.ensureMinIdle(ctx)

	if opts.EvictionInterval > 0 {
		p.wg.Add(1)
		go p.evictor()
	}
	return p, nil
}

// Name returns pool name.
func (p *Pool) Name() string {
	return p.opts.Name
}

// Addr returns address of pooled connections.
func (p *Pool) Addr() string {
	return p.factory.Addr()
}

// Borrow takes idle connection or establishes new one.
// It waits while MaxTotal connections are borrowed (and, for PriorityLow, while MaxLowPriority
// connections are borrowed) until ctx is done or MaxWait elapsed.
// Connection must be passed back to Return or Invalidate.
func (p *Pool) Borrow(ctx context.Context, prio Priority) (*redisconn.Conn, error) {
	if p.isClosed() {
		return nil, p.err(ErrPoolClosed)
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.opts.MaxWait > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.opts.MaxWait)
		defer cancel()
	}
	// closing of pool wakes up waiters
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if prio == PriorityLow && p.opts.MaxLowPriority > 0 {
		if err := p.waitLowPriority(ctx); err != nil {
			return nil, p.waitErr(prio, start, err)
		}
	}

	if p.opts.FailFast {
		if !p.sem.TryAcquire(1) {
			return nil, p.err(ErrPoolExhausted).WithProperty(EKPriority, prio)
		}
	} else {
		atomic.AddInt64(&p.waiting, 1)
		err := p.sem.Acquire(ctx, 1)
		atomic.AddInt64(&p.waiting, -1)
		if err != nil {
			return nil, p.waitErr(prio, start, err)
		}
	}

	if p.isClosed() {
		p.sem.Release(1)
		return nil, p.err(ErrPoolClosed)
	}

	conn, err := p.take(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	atomic.AddInt64(&p.borrowed, 1)
	p.opts.Metrics.PoolEvent(ctx, p.opts.Name, "borrowed")
	p.opts.Metrics.PoolWait(ctx, p.opts.Name, time.Since(start))
	return conn, nil
}

func (p *Pool) waitLowPriority(ctx context.Context) error {
	backoff := lowPriorityMinBackoff
	for p.NumActive() >= p.opts.MaxLowPriority {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff *= 2; backoff > lowPriorityMaxBackoff {
			backoff = lowPriorityMaxBackoff
		}
	}
	return nil
}

func (p *Pool) waitErr(prio Priority, start time.Time, err error) error {
	if p.isClosed() {
		return p.err(ErrPoolClosed)
	}
	waited := time.Since(start)
	atomic.AddInt64(&p.timeouts, 1)
	p.opts.Metrics.PoolEvent(context.Background(), p.opts.Name, "timeout")
	p.report(LogBorrowTimeout{Priority: prio, Waited: waited})
	return ErrPoolTimeout.Wrap(err, "%s priority borrow from %s waited %s", prio, p.opts.Name, waited).
		WithProperty(EKPool, p.opts.Name).
		WithProperty(EKPriority, prio).
		WithProperty(EKWaited, waited)
}

// take hands out valid idle connection or creates new one.
// Caller must hold semaphore.
func (p *Pool) take(ctx context.Context) (*redisconn.Conn, error) {
	for {
		e := p.popIdle()
		if e == nil {
			break
		}
		if !p.factory.Validate(e.conn) {
			p.destroy(e.conn, "validation failed")
			continue
		}
		if p.opts.TestOnBorrow {
			if err := e.conn.Ping(ctx); err != nil {
				p.destroy(e.conn, "ping failed")
				continue
			}
		}
		p.activate(e)
		return e.conn, nil
	}

	conn, err := p.create(ctx)
	if err != nil {
		return nil, err
	}
	p.activate(&entry{conn: conn})
	return conn, nil
}

// popIdle returns idle entry. If there is none, it reserves place for new connection,
// which caller must create.
func (p *Pool) popIdle() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		p.open++
		return nil
	}
	var e *entry
	if p.opts.FIFO {
		e = p.idle[0]
		p.idle[0] = nil
		p.idle = p.idle[1:]
	} else {
		e = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	}
	return e
}

func (p *Pool) activate(e *entry) {
	p.mu.Lock()
	e.useCount++
	p.active[e.conn] = e
	p.mu.Unlock()
}

func (p *Pool) create(ctx context.Context) (*redisconn.Conn, error) {
	conn, err := p.factory.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		p.report(LogCreateFailed{Error: err})
		p.opts.Metrics.PoolEvent(ctx, p.opts.Name, "create_failed")
		return nil, err
	}
	atomic.AddInt64(&p.created, 1)
	p.opts.Metrics.PoolEvent(ctx, p.opts.Name, "created")
	return conn, nil
}

func (p *Pool) destroy(conn *redisconn.Conn, reason string) {
	err := conn.Close()
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	atomic.AddInt64(&p.destroyed, 1)
	p.opts.Metrics.PoolEvent(context.Background(), p.opts.Name, "destroyed")
	p.report(LogDestroyed{LocalAddr: conn.Addr(), Reason: reason, Error: err})
}

// Return gives borrowed connection back to pool.
// Connection is closed instead if it is invalid, pool is closed or there are already MaxIdle idle connections.
func (p *Pool) Return(conn *redisconn.Conn) {
	if conn == nil {
		return
	}
	conn.Touch()

	reason := ""
	p.mu.Lock()
	e, ok := p.active[conn]
	if !ok {
		p.mu.Unlock()
		p.report(LogForeignReturn{Addr: conn.Addr()})
		return
	}
	delete(p.active, conn)
	switch {
	case p.closed:
		reason = "pool closed"
	case !p.factory.Validate(conn):
		reason = "validation failed"
	case len(p.idle) >= p.opts.MaxIdle:
		reason = "too many idle"
	default:
		e.idleSince = time.Now()
		p.idle = append(p.idle, e)
	}
	p.mu.Unlock()
	p.sem.Release(1)

	atomic.AddInt64(&p.returned, 1)
	p.opts.Metrics.PoolEvent(context.Background(), p.opts.Name, "returned")
	if reason != "" {
		p.destroy(conn, reason)
	}
}

// Invalidate closes borrowed connection and releases its place in pool.
// It should be used when connection state is unknown (io error, interrupted exchange).
func (p *Pool) Invalidate(conn *redisconn.Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.active[conn]
	delete(p.active, conn)
	p.mu.Unlock()
	if !ok {
		conn.Close()
		p.report(LogForeignReturn{Addr: conn.Addr()})
		return
	}
	p.sem.Release(1)

	atomic.AddInt64(&p.invalidated, 1)
	p.opts.Metrics.PoolEvent(context.Background(), p.opts.Name, "invalidated")
	p.destroy(conn, "invalidated")
}

// Close closes idle connections and stops evictor.
// Borrowed connections are closed when returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	for _, e := range idle {
		p.destroy(e.conn, "pool closed")
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// NumActive returns number of borrowed connections.
func (p *Pool) NumActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		Active: len(p.active),
		Idle:   len(p.idle),
	}
	p.mu.Unlock()
	st.Waiting = int(atomic.LoadInt64(&p.waiting))
	st.Created = atomic.LoadInt64(&p.created)
	st.Destroyed = atomic.LoadInt64(&p.destroyed)
	st.Borrowed = atomic.LoadInt64(&p.borrowed)
	st.Returned = atomic.LoadInt64(&p.returned)
	st.Invalidated = atomic.LoadInt64(&p.invalidated)
	st.Timeouts = atomic.LoadInt64(&p.timeouts)
	return st
}

func (p *Pool) evictor() {
	defer p.wg.Done()
	t := time.NewTicker(p.opts.EvictionInterval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
		}
		p.evict()
		p.ensureMinIdle(p.ctx)
	}
}

// evict closes invalid idle connections, and connections idle for longer than
// MinEvictableIdle while there are more than MinIdle of them.
func (p *Pool) evict() {
	now := time.Now()
	var victims []*entry

	p.mu.Lock()
	remaining := len(p.idle)
	kept := p.idle[:0]
	// idle is ordered from least recently returned
	for _, e := range p.idle {
		switch {
		case !p.factory.Validate(e.conn):
			victims = append(victims, e)
			remaining--
		case p.opts.MinEvictableIdle > 0 && remaining > p.opts.MinIdle &&
			now.Sub(e.idleSince) >= p.opts.MinEvictableIdle:
			victims = append(victims, e)
			remaining--
		default:
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = kept
	p.mu.Unlock()

	for _, e := range victims {
		p.destroy(e.conn, "evicted")
	}
	if len(victims) > 0 {
		p.report(LogEvicted{Count: len(victims), Idle: remaining})
	}
}

// ensureMinIdle creates idle connections until there are MinIdle of them,
// while total number of open connections stays below MaxTotal.
// Creation takes place in semaphore, so it doesn't take place of waiting borrower.
func (p *Pool) ensureMinIdle(ctx context.Context) {
	for {
		if !p.sem.TryAcquire(1) {
			return
		}
		p.mu.Lock()
		enough := p.closed || len(p.idle) >= p.opts.MinIdle || p.open >= p.opts.MaxTotal
		if !enough {
			p.open++
		}
		p.mu.Unlock()
		if enough {
			p.sem.Release(1)
			return
		}
		conn, err := p.create(ctx)
		if err != nil {
			p.sem.Release(1)
			return
		}
		p.mu.Lock()
		closed := p.closed
		if !closed {
			p.idle = append(p.idle, &entry{conn: conn, idleSince: time.Now()})
		}
		p.mu.Unlock()
		p.sem.Release(1)
		if closed {
			p.destroy(conn, "pool closed")
			return
		}
	}
}

func (p *Pool) err(typ *errorx.Type) *errorx.Error {
	return typ.NewWithNoMessage().WithProperty(EKPool, p.opts.Name)
}

func (p *Pool) report(event LogEvent) {
	p.opts.Logger.Report(p, event)
}

package rediscluster

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/rediscluster/redisclusterutil"
	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/redisstrategy"
)

const (
	defaultMaxRedirects   = 5
	defaultRefreshTimeout = 5 * time.Second
)

// Opts - options for Cluster
type Opts struct {
	redisstrategy.PoolOpts
	// Seeds - addresses of nodes used for initial discovery.
	Seeds []string
	// Name of cluster, used in logs. Default is comma joined seeds.
	Name string
	// MaxRedirects - how many MOVED/ASK are followed by client for single request.
	// Default is 5.
	MaxRedirects int
	// RefreshTimeout bounds single topology discovery. Default is 5 seconds.
	RefreshTimeout time.Duration
	// Logger
	Logger Logger
}

// slotMap is immutable after publishing.
type slotMap struct {
	addrs [redisclusterutil.NumSlots]string
	main  string
}

func (m *slotMap) nodes() []string {
	seen := make(map[string]struct{})
	res := []string{}
	for _, addr := range m.addrs {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			res = append(res, addr)
		}
	}
	return res
}

// Cluster is a strategy which routes keys to nodes by slot.
type Cluster struct {
	opts Opts

	slots atomic.Pointer[slotMap]
	// m serializes slot map writers
	m sync.Mutex

	pools   *xsync.MapOf[string, *redispool.Pool]
	refresh singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ redisstrategy.Strategy = (*Cluster)(nil)

// NewCluster discovers slots from seeds and creates pool to main node.
// If no seed answers, all slots are mapped to first seed, so there is always an address to go.
func NewCluster(ctx context.Context, opts Opts) (*Cluster, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if len(opts.Seeds) == 0 {
		return nil, ErrClusterConfigEmpty.New("no seed addresses")
	}
	for _, addr := range opts.Seeds {
		if addr == "" {
			return nil, redis.ErrNoAddressProvided.New("empty seed address")
		}
	}
	if opts.Name == "" {
		opts.Name = strings.Join(opts.Seeds, ",")
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	// cluster has no databases
	opts.Conn.DB = -1

	c := &Cluster{
		opts:  opts,
		pools: xsync.NewMapOf[string, *redispool.Pool](),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	sm, err := c.discover(ctx, opts.Seeds)
	if err != nil {
		sm = &slotMap{main: opts.Seeds[0]}
		for i := range sm.addrs {
			sm.addrs[i] = sm.main
		}
		c.report(LogSlotRangeError{Fallback: sm.main})
	}
	c.slots.Store(sm)

	if _, err = c.PoolForAddr(ctx, sm.main); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Name returns cluster name
func (c *Cluster) Name() string {
	return c.opts.Name
}

// MaxRedirects returns how many redirects client should follow.
func (c *Cluster) MaxRedirects() int {
	return c.opts.MaxRedirects
}

// NodeForSlot returns address of node owning the slot.
func (c *Cluster) NodeForSlot(slot uint16) string {
	return c.slots.Load().addrs[slot&(redisclusterutil.NumSlots-1)]
}

// NodeForKey returns address of node owning key's slot.
func (c *Cluster) NodeForKey(key string) string {
	return c.NodeForSlot(redisclusterutil.Slot(key))
}

// Nodes returns distinct addresses of slot owners.
func (c *Cluster) Nodes() []string {
	return c.slots.Load().nodes()
}

// Addr implements Strategy.Addr. It returns main node address.
func (c *Cluster) Addr() string {
	return c.slots.Load().main
}

// Pool implements Strategy.Pool. It returns main node's pool.
func (c *Cluster) Pool(ctx context.Context) (*redispool.Pool, error) {
	return c.PoolForAddr(ctx, c.Addr())
}

// PoolForKey implements Strategy.PoolForKey
func (c *Cluster) PoolForKey(ctx context.Context, key string) (*redispool.Pool, error) {
	return c.PoolForAddr(ctx, c.NodeForKey(key))
}

// PoolForAddr returns pool for node, creating it if needed.
func (c *Cluster) PoolForAddr(ctx context.Context, addr string) (*redispool.Pool, error) {
	if c.closed.Load() {
		return nil, ErrClusterClosed.NewWithNoMessage()
	}
	if pool, ok := c.pools.Load(addr); ok {
		return pool, nil
	}
	var err error
	pool, ok := c.pools.Compute(addr, func(old *redispool.Pool, loaded bool) (*redispool.Pool, bool) {
		if loaded {
			return old, false
		}
		var pool *redispool.Pool
		pool, err = c.opts.NewPool(ctx, addr)
		return pool, err != nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, redis.ErrNoAddressProvided.NewWithNoMessage().WithProperty(redis.EKAddress, addr)
	}
	if c.closed.Load() {
		// lost race with Close
		c.pools.Delete(addr)
		pool.Close()
		return nil, ErrClusterClosed.NewWithNoMessage()
	}
	return pool, nil
}

// HandleMoved patches single slot after MOVED reply.
func (c *Cluster) HandleMoved(slot uint16, addr string) {
	slot &= redisclusterutil.NumSlots - 1
	c.m.Lock()
	defer c.m.Unlock()
	old := c.slots.Load()
	if old.addrs[slot] == addr {
		return
	}
	sm := *old
	sm.addrs[slot] = addr
	c.slots.Store(&sm)
	c.report(LogSlotMoved{Slot: slot, From: old.addrs[slot], To: addr})
}

// HandleAsk returns pool for ASK target. Slot map is not changed, since slot is only migrating.
// Request should be prepended with ASKING on the same connection.
func (c *Cluster) HandleAsk(ctx context.Context, addr string) (*redispool.Pool, error) {
	return c.PoolForAddr(ctx, addr)
}

// RefreshTopology rediscovers slot map. Concurrent calls share single discovery.
// On failure previous map is kept.
func (c *Cluster) RefreshTopology(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClusterClosed.NewWithNoMessage()
	}
	ch := c.refresh.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(c.ctx, c.opts.RefreshTimeout)
		defer cancel()
		addrs := append(c.Nodes(), c.opts.Seeds...)
		sm, err := c.discover(rctx, dedup(addrs))
		if err != nil {
			c.report(LogSlotRangeError{})
			return nil, err
		}
		c.m.Lock()
		c.slots.Store(sm)
		c.m.Unlock()
		c.prunePools(sm)
		return sm, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return redis.ErrIO.Wrap(ctx.Err(), "waiting for cluster slots refresh")
	}
}

// prunePools closes pools of nodes which own no slot in sm.
// Pool of ASK target is created again on next redirect.
func (c *Cluster) prunePools(sm *slotMap) {
	live := make(map[string]struct{})
	for _, addr := range sm.nodes() {
		live[addr] = struct{}{}
	}
	live[sm.main] = struct{}{}
	c.pools.Range(func(addr string, pool *redispool.Pool) bool {
		if _, ok := live[addr]; ok {
			return true
		}
		c.pools.Delete(addr)
		pool.Close()
		c.report(LogNodeRemoved{Addr: addr})
		return true
	})
}

// OnConnectionFailure implements Strategy.OnConnectionFailure.
// Reported failure triggers background topology refresh.
func (c *Cluster) OnConnectionFailure(addr string) {
	c.m.Lock()
	if c.closed.Load() {
		c.m.Unlock()
		return
	}
	c.wg.Add(1)
	c.m.Unlock()
	c.report(LogConnectionFailure{Addr: addr})
	go func() {
		defer c.wg.Done()
		c.RefreshTopology(c.ctx)
	}()
}

// Close implements Strategy.Close. It closes all node pools.
func (c *Cluster) Close() {
	c.m.Lock()
	if c.closed.Load() {
		c.m.Unlock()
		return
	}
	c.closed.Store(true)
	c.m.Unlock()
	c.cancel()
	c.wg.Wait()
	c.pools.Range(func(addr string, pool *redispool.Pool) bool {
		c.pools.Delete(addr)
		pool.Close()
		return true
	})
}

// discover asks nodes in turn, and expands first answer into slot map.
// Slots not covered by answer are mapped to main node.
func (c *Cluster) discover(ctx context.Context, addrs []string) (*slotMap, error) {
	var lastErr error
	for _, addr := range addrs {
		ranges, err := c.fetchSlots(ctx, addr)
		if err != nil {
			c.report(LogClusterSlotsError{Addr: addr, Error: err})
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sm := &slotMap{main: ranges[0].Addrs[0]}
		for i := range sm.addrs {
			sm.addrs[i] = sm.main
		}
		for _, r := range ranges {
			for slot := r.From; slot <= r.To; slot++ {
				sm.addrs[slot] = r.Addrs[0]
			}
		}
		c.report(LogTopology{Addr: addr, Main: sm.main, Nodes: len(sm.nodes())})
		return sm, nil
	}
	return nil, ErrClusterSlots.Wrap(lastErr, "could not retrieve slots from any of %d nodes", len(addrs))
}

func (c *Cluster) fetchSlots(ctx context.Context, addr string) ([]redisclusterutil.SlotsRange, error) {
	conn, err := redisconn.Dial(ctx, addr, c.opts.Conn)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	res, err := conn.Do(ctx, "CLUSTER", "SLOTS")
	if err != nil {
		return nil, err
	}
	return redisclusterutil.ParseSlotsInfo(res)
}

func dedup(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	res := addrs[:0]
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		res = append(res, addr)
	}
	return res
}

package redisclient_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/joomcode/redisguard/redis"
	. "github.com/joomcode/redisguard/redisclient"
	"github.com/joomcode/redisguard/redisconfig"
	"github.com/joomcode/redisguard/redismetrics"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/resilience"
	"github.com/joomcode/redisguard/testbed"
)

type recLogger struct {
	mu     sync.Mutex
	events []LogEvent
}

func (l *recLogger) Report(c *Client, event LogEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recLogger) redirects() []LogRedirect {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []LogRedirect
	for _, ev := range l.events {
		if r, ok := ev.(LogRedirect); ok {
			res = append(res, r)
		}
	}
	return res
}

func testConfig() redisconfig.Config {
	cfg := redisconfig.Default()
	cfg.Host = "127.0.0.1"
	cfg.SocketTimeoutMs = 2000
	cfg.Pool.MaxTotal = 4
	cfg.Pool.EvictionIntervalMs = 0
	cfg.Resilience.CircuitBreakerFailureThreshold = 3
	cfg.Resilience.CircuitBreakerResetMs = 60000
	cfg.Resilience.RetryInitialDelayMs = 1
	cfg.Resilience.RetryMaxDelayMs = 5
	cfg.Resilience.OperationTimeoutMs = 1000
	cfg.NearCache.RetryBackoffMs = 5
	cfg.NearCache.IdleWakeIntervalMs = 10
	return cfg
}

type Suite struct {
	suite.Suite
	srv    *testbed.Server
	logger *recLogger
	spans  *tracetest.SpanRecorder

	ctx       context.Context
	ctxcancel func()
}

func TestClient(t *testing.T) {
	suite.Run(t, new(Suite))
}

func (s *Suite) SetupTest() {
	s.srv = testbed.NewServer()
	s.logger = &recLogger{}
	s.spans = tracetest.NewSpanRecorder()
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *Suite) TearDownTest() {
	s.ctxcancel()
	s.srv.Stop()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

func (s *Suite) config() redisconfig.Config {
	cfg := testConfig()
	cfg.Port = int(s.srv.Port)
	return cfg
}

func (s *Suite) client(cfg redisconfig.Config) *Client {
	loggers := NoopLoggers()
	loggers.Client = s.logger
	c, err := New(s.ctx, cfg,
		WithLoggers(loggers),
		WithMetrics(redismetrics.Noop()),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))))
	s.r().NoError(err)
	s.T().Cleanup(func() { c.Close(context.Background()) })
	return c
}

func (s *Suite) TestCommand() {
	c := s.client(s.config())

	res, err := c.Command(s.ctx, redispool.PriorityNormal, "SET", "k", "v")
	s.r().NoError(err)
	s.r().Equal("OK", res)

	res, err = c.Command(s.ctx, redispool.PriorityLow, "GET", "k")
	s.r().NoError(err)
	s.r().Equal([]byte("v"), res)

	v, err := c.Get(s.ctx, "missing")
	s.r().NoError(err)
	s.r().Nil(v)

	pool, err := c.Strategy().Pool(s.ctx)
	s.r().NoError(err)
	st := pool.Stats()
	s.r().Equal(0, st.Active)
	s.r().Equal(int64(1), st.Created)
}

func (s *Suite) TestErrorReplyDoesNotTripBreaker() {
	s.srv.Handle("LPUSH", func(c *testbed.Client, args []string) interface{} {
		return testbed.ErrReply("WRONGTYPE Operation against a key holding the wrong kind of value")
	})
	c := s.client(s.config())

	for i := 0; i < 5; i++ {
		_, err := c.Command(s.ctx, redispool.PriorityNormal, "LPUSH", "k", "v")
		s.r().True(errorx.IsOfType(err, redis.ErrResult), "%v", err)
	}
	s.r().Equal(resilience.StateClosed, c.Operation().Breaker().State())
	s.r().Equal(5, s.srv.Count("LPUSH"))

	pool, _ := c.Strategy().Pool(s.ctx)
	s.r().Equal(int64(0), pool.Stats().Invalidated)
}

func (s *Suite) TestDangerousRejected() {
	c := s.client(s.config())
	_, err := c.Command(s.ctx, redispool.PriorityNormal, "select", 2)
	s.r().True(errorx.IsOfType(err, redis.ErrDangerousCommand))
	_, err = c.Batch(s.ctx, redispool.PriorityNormal, []redis.Request{redis.Req("GET", "a"), redis.Req("MULTI")})
	s.r().True(errorx.IsOfType(err, redis.ErrDangerousCommand))
	s.r().Equal(0, s.srv.Count("SELECT"))
	s.r().Equal(0, s.srv.Count("GET"))
}

func (s *Suite) TestBatchKeepsErrors() {
	c := s.client(s.config())
	res, err := c.Batch(s.ctx, redispool.PriorityNormal, []redis.Request{
		redis.Req("SET", "a", 1),
		redis.Req("SET", "a"),
		redis.Req("GET", "a"),
	})
	s.r().NoError(err)
	s.r().Len(res, 3)
	s.r().Equal("OK", res[0])
	s.r().True(errorx.IsOfType(redis.AsError(res[1]), redis.ErrResult))
	s.r().Equal([]byte("1"), res[2])
}

func (s *Suite) TestIdempotentRetried() {
	var n atomic.Int32
	s.srv.Handle("GET", func(c *testbed.Client, args []string) interface{} {
		if n.Add(1) <= 2 {
			c.Close()
			return testbed.NoReply{}
		}
		return []byte("v")
	})
	c := s.client(s.config())

	res, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().NoError(err)
	s.r().Equal([]byte("v"), res)
	s.r().Equal(3, s.srv.Count("GET"))

	pool, _ := c.Strategy().Pool(s.ctx)
	s.r().Equal(int64(2), pool.Stats().Invalidated)
	s.r().Equal(resilience.StateClosed, c.Operation().Breaker().State())
}

func (s *Suite) TestNonIdempotentNotRetried() {
	s.srv.Handle("INCR", func(c *testbed.Client, args []string) interface{} {
		c.Close()
		return testbed.NoReply{}
	})
	c := s.client(s.config())

	_, err := c.Command(s.ctx, redispool.PriorityNormal, "INCR", "counter")
	s.r().Error(err)
	s.r().True(errorx.HasTrait(err, redis.ErrTraitConnectivity), "%v", err)
	s.r().False(errorx.IsOfType(err, resilience.ErrRetriesExhausted))
	s.r().Equal(1, s.srv.Count("INCR"))
}

func (s *Suite) TestCustomNonIdempotent() {
	s.srv.Handle("GET", func(c *testbed.Client, args []string) interface{} {
		c.Close()
		return testbed.NoReply{}
	})
	loggers := NoopLoggers()
	c, err := New(s.ctx, s.config(),
		WithLoggers(loggers),
		WithMetrics(redismetrics.Noop()),
		WithNonIdempotent(func(cmd string) bool { return true }))
	s.r().NoError(err)
	defer c.Close(s.ctx)

	_, err = c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().Error(err)
	s.r().Equal(1, s.srv.Count("GET"))
}

func (s *Suite) TestBreakerFastFail() {
	cfg := s.config()
	cfg.Resilience.RetryEnabled = false
	c := s.client(cfg)
	s.srv.Stop()

	for i := 0; i < 3; i++ {
		_, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
		s.r().True(errorx.HasTrait(err, redis.ErrTraitConnectivity), "%v", err)
	}
	s.r().Equal(resilience.StateOpen, c.Operation().Breaker().State())

	s.r().NoError(s.srv.Start())
	_, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().True(errorx.IsOfType(err, resilience.ErrCircuitOpen), "%v", err)
	s.r().Equal(0, s.srv.Count("GET"))

	c.Operation().ResetBreaker()
	_, err = c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().NoError(err)
}

func (s *Suite) TestTimeoutInvalidatesConnection() {
	s.srv.Handle("GET", func(c *testbed.Client, args []string) interface{} {
		return testbed.NoReply{}
	})
	cfg := s.config()
	cfg.Resilience.OperationTimeoutMs = 100
	c := s.client(cfg)

	start := time.Now()
	_, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().True(errorx.IsOfType(err, resilience.ErrTimeout), "%v", err)
	s.r().Less(time.Since(start), time.Second)
	s.r().Equal(1, s.srv.Count("GET"), "timeout is not retried")

	pool, _ := c.Strategy().Pool(s.ctx)
	s.r().Eventually(func() bool {
		return pool.Stats().Invalidated == 1 && pool.Stats().Active == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *Suite) TestCallerCancel() {
	s.srv.Handle("GET", func(c *testbed.Client, args []string) interface{} {
		return testbed.NoReply{}
	})
	c := s.client(s.config())

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	_, err := c.Command(ctx, redispool.PriorityNormal, "GET", "k")
	s.r().Error(err)
	s.r().Equal(1, s.srv.Count("GET"))

	pool, _ := c.Strategy().Pool(s.ctx)
	s.r().Eventually(func() bool {
		return pool.Stats().Invalidated == 1
	}, time.Second, 5*time.Millisecond)
}

func (s *Suite) TestSpans() {
	s.srv.Handle("LPUSH", func(c *testbed.Client, args []string) interface{} {
		return testbed.ErrReply("WRONGTYPE wrong kind of value")
	})
	c := s.client(s.config())

	_, err := c.Command(s.ctx, redispool.PriorityNormal, "set", "k", "v")
	s.r().NoError(err)
	_, err = c.Command(s.ctx, redispool.PriorityNormal, "LPUSH", "k", "v")
	s.r().Error(err)
	_, err = c.Batch(s.ctx, redispool.PriorityNormal, []redis.Request{redis.Req("GET", "k"), redis.Req("GET", "j")})
	s.r().NoError(err)

	spans := s.spans.Ended()
	s.r().Len(spans, 3)
	for _, sp := range spans {
		s.r().Equal(SpanName, sp.Name())
	}
	attrs := func(i int) map[attribute.Key]attribute.Value {
		res := make(map[attribute.Key]attribute.Value)
		for _, kv := range spans[i].Attributes() {
			res[kv.Key] = kv.Value
		}
		return res
	}
	s.r().Equal("SET", attrs(0)["db.operation"].AsString())
	s.r().Equal("standalone", attrs(0)["redisguard.mode"].AsString())
	s.r().Equal(codes.Ok, spans[0].Status().Code)

	s.r().Equal("LPUSH", attrs(1)["db.operation"].AsString())
	s.r().Equal(codes.Error, spans[1].Status().Code)
	s.r().Len(spans[1].Events(), 1)

	s.r().Equal("BATCH", attrs(2)["db.operation"].AsString())
	s.r().Equal(int64(2), attrs(2)["redisguard.batch_size"].AsInt64())
}

func (s *Suite) TestNearCacheRoundTrip() {
	cfg := s.config()
	cfg.NearCache.Enabled = true
	c := s.client(cfg)

	s.srv.Pause()
	s.r().NoError(c.Set(s.ctx, "k", []byte("v1"), 100))
	v, err := c.Get(s.ctx, "k")
	s.r().NoError(err)
	s.r().Equal([]byte("v1"), v, "own write is visible before it is persisted")
	_, ok := s.srv.Value("k")
	s.r().False(ok)
	s.r().Equal(0, s.srv.Count("GET"))
	s.srv.Resume()

	s.r().NoError(c.Join(s.ctx))
	stored, ok := s.srv.Value("k")
	s.r().True(ok)
	s.r().Equal([]byte("v1"), stored)
	s.r().Greater(s.srv.TTL("k"), 90*time.Second)
	s.r().Equal(0, c.NearCache().Len())
	s.r().Equal(c.NearCache().Seq(), c.NearCache().Watermark())

	v, err = c.Get(s.ctx, "k")
	s.r().NoError(err)
	s.r().Equal([]byte("v1"), v)
	s.r().Equal(1, s.srv.Count("GET"))
}

func (s *Suite) TestCommandJoinsNearCache() {
	cfg := s.config()
	cfg.NearCache.Enabled = true
	c := s.client(cfg)

	for i := 0; i < 10; i++ {
		s.r().NoError(c.Set(s.ctx, "k", []byte{byte('0' + i)}, 0))
	}
	res, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "k")
	s.r().NoError(err)
	s.r().Equal([]byte("9"), res)
}

func (s *Suite) TestJoinBoundedByContext() {
	cfg := s.config()
	cfg.NearCache.Enabled = true
	c := s.client(cfg)

	s.srv.Pause()
	defer s.srv.Resume()
	s.r().NoError(c.Set(s.ctx, "k", []byte("v"), 0))
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Millisecond)
	defer cancel()
	err := c.Join(ctx)
	s.r().True(errorx.IsOfType(err, ErrJoin), "%v", err)
}

func (s *Suite) TestSetWithoutNearCache() {
	c := s.client(s.config())
	s.r().Nil(c.NearCache())
	s.r().NoError(c.Set(s.ctx, "k", []byte("v"), 0))
	stored, ok := s.srv.Value("k")
	s.r().True(ok)
	s.r().Equal([]byte("v"), stored)
	s.r().Equal(time.Duration(-1), s.srv.TTL("k"))
	s.r().Equal(0, s.srv.Count("EXPIRE"))
	s.r().NoError(c.Join(s.ctx))
}

func (s *Suite) TestCloseFlushesNearCache() {
	cfg := s.config()
	cfg.NearCache.Enabled = true
	c := s.client(cfg)

	s.srv.Pause()
	s.r().NoError(c.Set(s.ctx, "a", []byte("1"), 0))
	s.r().NoError(c.Set(s.ctx, "b", []byte("2"), 0))
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.srv.Resume()
	}()
	s.r().NoError(c.Close(s.ctx))
	_, ok := s.srv.Value("a")
	s.r().True(ok)
	_, ok = s.srv.Value("b")
	s.r().True(ok)

	_, err := c.Command(s.ctx, redispool.PriorityNormal, "GET", "a")
	s.r().True(errorx.IsOfType(err, ErrClientClosed))
	s.r().True(errorx.IsOfType(c.Set(s.ctx, "c", nil, 0), ErrClientClosed))
	s.r().NoError(c.Close(s.ctx))
}

func (s *Suite) TestDatabaseSelected() {
	cfg := s.config()
	cfg.DatabaseIndex = 3
	c := s.client(cfg)
	_, err := c.Command(s.ctx, redispool.PriorityNormal, "SET", "k", "v")
	s.r().NoError(err)
	v, ok := s.srv.ValueDB(3, "k")
	s.r().True(ok)
	s.r().Equal([]byte("v"), v)
}

func (s *Suite) TestBadConfig() {
	cfg := s.config()
	cfg.Mode = "ring"
	_, err := New(s.ctx, cfg)
	s.r().True(errorx.IsOfType(err, redisconfig.ErrConfig))

	_, err = New(nil, s.config())
	s.r().True(errorx.IsOfType(err, redis.ErrContextIsNil))
}

package redisconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joomcode/redisguard/redis"
	. "github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/testbed"
)

type Suite struct {
	suite.Suite
	s *testbed.Server

	ctx       context.Context
	ctxcancel func()
}

func (s *Suite) SetupTest() {
	s.s = testbed.NewServer()
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *Suite) TearDownTest() {
	s.ctxcancel()
	s.s.Stop()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

func (s *Suite) AsError(v interface{}) *errorx.Error {
	s.r().IsType((*errorx.Error)(nil), v)
	return v.(*errorx.Error)
}

var defopts = Opts{
	IOTimeout: 200 * time.Millisecond,
	Logger:    NoopLogger{},
}

func (s *Suite) dial(opts Opts) *Conn {
	conn, err := Dial(s.ctx, s.s.Addr(), opts)
	s.r().NoError(err)
	return conn
}

func TestConn(t *testing.T) {
	suite.Run(t, new(Suite))
}

func (s *Suite) TestConnects() {
	conn := s.dial(defopts)
	defer conn.Close()
	res, err := conn.Do(s.ctx, "PING")
	s.r().NoError(err)
	s.Equal("PONG", res)
	s.False(conn.Closed())
	s.Equal(s.s.Addr(), conn.Addr())
	s.WithinDuration(time.Now(), conn.Created(), time.Second)
}

func (s *Suite) TestDialFailed() {
	addr := s.s.Addr()
	s.s.Stop()
	_, err := Dial(s.ctx, addr, defopts)
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(redis.ErrDial))
	s.True(rerr.HasTrait(redis.ErrTraitConnectivity))
}

func (s *Suite) TestNoAddress() {
	_, err := Dial(s.ctx, "", defopts)
	s.True(s.AsError(err).IsOfType(redis.ErrNoAddressProvided))
}

func (s *Suite) TestAuth() {
	s.s.Password = "secret"

	opts := defopts
	_, err := Dial(s.ctx, s.s.Addr(), opts)
	s.r().Error(err)

	opts.Password = "wrong"
	_, err = Dial(s.ctx, s.s.Addr(), opts)
	s.True(s.AsError(err).IsOfType(redis.ErrAuth))

	opts.Password = "secret"
	conn := s.dial(opts)
	defer conn.Close()
	_, err = conn.Do(s.ctx, "SET", "a", "1")
	s.r().NoError(err)
}

func (s *Suite) TestAuthWithUsername() {
	s.s.Username = "app"
	s.s.Password = "secret"

	opts := defopts
	opts.Password = "secret"
	_, err := Dial(s.ctx, s.s.Addr(), opts)
	s.True(s.AsError(err).IsOfType(redis.ErrAuth))

	opts.Username = "app"
	conn := s.dial(opts)
	defer conn.Close()
	s.NoError(conn.Ping(s.ctx))
}

func (s *Suite) TestSelectDb() {
	opts := defopts
	opts.DB = 2
	conn := s.dial(opts)
	defer conn.Close()

	_, err := conn.Do(s.ctx, "SET", "key", "val")
	s.r().NoError(err)
	v, ok := s.s.ValueDB(2, "key")
	s.True(ok)
	s.Equal([]byte("val"), v)
	_, ok = s.s.Value("key")
	s.False(ok)
	s.Equal(1, s.s.Count("SELECT"))
}

func (s *Suite) TestDefaultDbIsNotSelected() {
	for _, db := range []int{0, -1} {
		opts := defopts
		opts.DB = db
		conn := s.dial(opts)
		conn.Close()
	}
	s.Equal(0, s.s.Count("SELECT"))
}

func (s *Suite) TestSelectFails() {
	opts := defopts
	opts.DB = 100
	_, err := Dial(s.ctx, s.s.Addr(), opts)
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(redis.ErrConnSetup))
	db, _ := rerr.Property(redis.EKDb)
	s.Equal(100, db)
}

func (s *Suite) TestErrorReplyKeepsConnection() {
	conn := s.dial(defopts)
	defer conn.Close()

	_, err := conn.Do(s.ctx, "SET", "k", "notint")
	s.r().NoError(err)
	_, err = conn.Do(s.ctx, "INCR", "k")
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(redis.ErrResult))
	s.False(redis.HardError(err))
	s.False(conn.Closed())

	res, err := conn.Do(s.ctx, "GET", "k")
	s.r().NoError(err)
	s.Equal([]byte("notint"), res)
}

func (s *Suite) TestArgumentErrorKeepsConnection() {
	conn := s.dial(defopts)
	defer conn.Close()

	_, err := conn.Do(s.ctx, "SET", "k", make(chan int))
	s.True(s.AsError(err).IsOfType(redis.ErrArgumentType))
	s.False(conn.Closed())
	s.NoError(conn.Ping(s.ctx))
}

func (s *Suite) TestPipeline() {
	conn := s.dial(defopts)
	defer conn.Close()

	res, err := conn.DoMany(s.ctx,
		redis.Req("SET", "a", "1"),
		redis.Req("SET", "b", "x"),
		redis.Req("INCR", "a"),
		redis.Req("INCR", "b"),
		redis.Req("GET", "a"),
		redis.Req("GET", "missing"),
	)
	s.r().NoError(err)
	s.r().Len(res, 6)
	s.Equal("OK", res[0])
	s.Equal("OK", res[1])
	s.Equal(int64(2), res[2])
	s.True(s.AsError(res[3]).IsOfType(redis.ErrResult))
	s.Equal([]byte("2"), res[4])
	s.Nil(res[5])
	s.Equal(6, s.s.Count("SET")+s.s.Count("INCR")+s.s.Count("GET"))
}

func (s *Suite) TestPipelineQueue() {
	conn := s.dial(defopts)
	defer conn.Close()

	p := conn.Pipeline().
		Queue("SET", "k", "v").
		Queue("EXPIRE", "k", 10).
		Queue("GET", "k")
	s.Equal(3, p.Len())
	res, err := p.Exec(s.ctx)
	s.r().NoError(err)
	s.Equal([]interface{}{"OK", int64(1), []byte("v")}, res)
	s.Equal(0, p.Len())

	res, err = p.Exec(s.ctx)
	s.NoError(err)
	s.Nil(res)
}

func (s *Suite) TestIOTimeout() {
	conn := s.dial(defopts)
	defer conn.Close()

	s.s.Pause()
	defer s.s.Resume()

	start := time.Now()
	_, err := conn.Do(s.ctx, "PING")
	elapsed := time.Since(start)
	rerr := s.AsError(err)
	s.True(rerr.HasTrait(redis.ErrTraitConnectivity))
	s.True(redis.HardError(err))
	s.True(conn.Closed())
	s.True(elapsed >= defopts.IOTimeout*3/4, "elapsed %s", elapsed)
	s.True(elapsed < defopts.IOTimeout*3, "elapsed %s", elapsed)
}

func (s *Suite) TestContextDeadline() {
	opts := defopts
	opts.IOTimeout = 5 * time.Second
	conn := s.dial(opts)
	defer conn.Close()

	s.s.Pause()
	defer s.s.Resume()

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := conn.Do(ctx, "PING")
	s.r().Error(err)
	s.True(conn.Closed())
	s.True(time.Since(start) < time.Second)
}

func (s *Suite) TestContextCancel() {
	opts := defopts
	opts.IOTimeout = 5 * time.Second
	conn := s.dial(opts)
	defer conn.Close()

	s.s.Pause()
	defer s.s.Resume()

	ctx, cancel := context.WithCancel(s.ctx)
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err := conn.Do(ctx, "PING")
	s.r().Error(err)
	s.True(conn.Closed())
	s.True(time.Since(start) < time.Second)
}

func (s *Suite) TestServerDropsConnection() {
	conn := s.dial(defopts)
	defer conn.Close()

	s.s.DropClients()
	time.Sleep(10 * time.Millisecond)
	_, err := conn.Do(s.ctx, "PING")
	s.True(s.AsError(err).HasTrait(redis.ErrTraitConnectivity))
	s.True(conn.Closed())

	_, err = conn.Do(s.ctx, "PING")
	s.True(s.AsError(err).IsOfType(ErrNotConnected))
}

func (s *Suite) TestLastUsed() {
	conn := s.dial(defopts)
	defer conn.Close()

	first := conn.LastUsed()
	time.Sleep(20 * time.Millisecond)
	s.r().NoError(conn.Ping(s.ctx))
	s.True(conn.LastUsed().After(first))
}

func (s *Suite) TestReceive() {
	conn := s.dial(defopts)
	defer conn.Close()

	res, err := conn.Do(s.ctx, "SUBSCRIBE", "chan")
	s.r().NoError(err)
	s.Equal([]interface{}{[]byte("subscribe"), []byte("chan"), int64(1)}, res)

	// longer than IOTimeout: Receive is bounded by context only
	go func() {
		time.Sleep(defopts.IOTimeout * 2)
		s.s.Publish("chan", "hello")
	}()
	msg, err := conn.Receive(s.ctx)
	s.r().NoError(err)
	s.Equal([]interface{}{[]byte("message"), []byte("chan"), []byte("hello")}, msg)
	s.False(conn.Closed())

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	s.Error(err)
	s.True(conn.Closed())
}

func (s *Suite) TestClose() {
	conn := s.dial(defopts)
	s.NoError(conn.Close())
	s.True(conn.Closed())
	s.NoError(conn.Close())
}

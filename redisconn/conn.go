package redisconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redis"
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultIOTimeout   = 2 * time.Second
	defaultKeepAlive   = 300 * time.Second
)

// Opts - options for Conn
type Opts struct {
	// DialTimeout is timeout for net.Dialer and tls handshake.
	// If DialTimeout == 0, then it is set to 2 seconds.
	DialTimeout time.Duration
	// IOTimeout - timeout on read/write to socket.
	// If IOTimeout == 0, then it is set to 2 seconds.
	// If IOTimeout < 0, then timeout is disabled.
	IOTimeout time.Duration
	// TCPKeepAlive - KeepAlive parameter for net.Dialer
	// default is 300 seconds.
	TCPKeepAlive time.Duration
	// DB - database number. SELECT is sent only if DB > 0.
	DB int
	// Username for AUTH. Used only together with Password.
	Username string
	// Password for AUTH
	Password string
	// TLSEnabled controls whether TLS is used.
	TLSEnabled bool
	// TLSConfig is tls configuration. ServerName is filled from address if empty.
	TLSConfig *tls.Config
	// Handle is returned with Conn.Handle()
	Handle interface{}
	// Logger
	Logger Logger
}

// Conn is a single connection to redis.
// It must not be used from several goroutines at once.
type Conn struct {
	addr string
	opts Opts

	c  net.Conn
	dc *deadlineIO
	r  *bufio.Reader
	w  *bufio.Writer

	created  time.Time
	lastUsed int64
	closed   uint32
	buf      []byte
}

// Dial establishes new connection to redis, authenticates and selects database.
func Dial(ctx context.Context, addr string, opts Opts) (*Conn, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.NewWithNoMessage()
	}
	if addr == "" {
		return nil, redis.ErrNoAddressProvided.NewWithNoMessage()
	}
	conn := &Conn{
		addr: addr,
		opts: opts,
	}

	if conn.opts.DialTimeout <= 0 {
		conn.opts.DialTimeout = defaultDialTimeout
	}

	if conn.opts.TCPKeepAlive == 0 {
		conn.opts.TCPKeepAlive = defaultKeepAlive
	} else if conn.opts.TCPKeepAlive < 0 {
		conn.opts.TCPKeepAlive = 0
	}

	if conn.opts.IOTimeout == 0 {
		conn.opts.IOTimeout = defaultIOTimeout
	} else if conn.opts.IOTimeout < 0 {
		conn.opts.IOTimeout = 0
	}

	if conn.opts.Logger == nil {
		conn.opts.Logger = DefaultLogger{}
	}

	conn.report(LogConnecting{})
	if err := conn.dial(ctx); err != nil {
		conn.report(LogConnectFailed{Error: err})
		return nil, err
	}
	conn.report(LogConnected{
		LocalAddr:  conn.c.LocalAddr().String(),
		RemoteAddr: conn.c.RemoteAddr().String(),
	})
	return conn, nil
}

func (c *Conn) dial(ctx context.Context) error {
	network := "tcp"
	address := c.addr
	if address[0] == '.' || address[0] == '/' {
		network = "unix"
	} else if strings.HasPrefix(address, "unix://") {
		network = "unix"
		address = address[7:]
	} else if strings.HasPrefix(address, "tcp://") {
		address = address[6:]
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	dialer := net.Dialer{
		Timeout:   c.opts.DialTimeout,
		KeepAlive: c.opts.TCPKeepAlive,
	}
	connection, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return c.wrapErr(redis.ErrDial, err)
	}

	if c.opts.TLSEnabled {
		cfg := c.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			if host, _, err := net.SplitHostPort(address); err == nil && net.ParseIP(host) == nil {
				cfg = cfg.Clone()
				cfg.ServerName = host
			}
		}
		tlsConn := tls.Client(connection, cfg)
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			connection.Close()
			return c.wrapErr(redis.ErrDial, err)
		}
		connection = tlsConn
	}

	c.c = connection
	c.dc = newDeadlineIO(connection, c.opts.IOTimeout)
	c.r = bufio.NewReaderSize(c.dc, 16*1024)
	c.w = bufio.NewWriterSize(c.dc, 16*1024)
	c.created = time.Now()
	c.touch()

	if err := c.handshake(ctx); err != nil {
		connection.Close()
		atomic.StoreUint32(&c.closed, 1)
		return err
	}
	return nil
}

// handshake sends AUTH (if password is set), SELECT (if DB > 0) and PING pipelined,
// and checks answers.
func (c *Conn) handshake(ctx context.Context) error {
	var reqs []redis.Request
	if c.opts.Password != "" {
		if c.opts.Username != "" {
			reqs = append(reqs, redis.Req("AUTH", c.opts.Username, c.opts.Password))
		} else {
			reqs = append(reqs, redis.Req("AUTH", c.opts.Password))
		}
	}
	if c.opts.DB > 0 {
		reqs = append(reqs, redis.Req("SELECT", c.opts.DB))
	}
	reqs = append(reqs, redis.Req("PING"))

	res, err := c.roundTrip(ctx, reqs, true)
	if err != nil {
		return c.wrapErr(redis.ErrConnSetup, err)
	}

	i := 0
	if c.opts.Password != "" {
		if rerr := redis.AsErrorx(res[i]); rerr != nil {
			return c.wrapErr(redis.ErrAuth, rerr)
		}
		i++
	}
	if c.opts.DB > 0 {
		if rerr := redis.AsErrorx(res[i]); rerr != nil {
			return c.wrapErr(redis.ErrConnSetup, rerr).WithProperty(redis.EKDb, c.opts.DB)
		}
		if str, ok := res[i].(string); !ok || str != "OK" {
			return redis.ErrConnSetup.New("SELECT db response mismatch").
				WithProperty(redis.EKAddress, c.addr).
				WithProperty(redis.EKDb, c.opts.DB).
				WithProperty(redis.EKResponse, res[i])
		}
		i++
	}
	if rerr := redis.AsErrorx(res[i]); rerr != nil {
		return c.wrapErr(redis.ErrConnSetup, rerr)
	}
	if str, ok := res[i].(string); !ok || str != "PONG" {
		return redis.ErrConnSetup.New("ping response mismatch").
			WithProperty(redis.EKAddress, c.addr).
			WithProperty(redis.EKResponse, res[i])
	}
	return nil
}

// Addr returns configured address.
func (c *Conn) Addr() string {
	return c.addr
}

// Handle returns user specified handle from Opts
func (c *Conn) Handle() interface{} {
	return c.opts.Handle
}

// Created returns time when connection were established.
func (c *Conn) Created() time.Time {
	return c.created
}

// LastUsed returns time of last successful exchange.
func (c *Conn) LastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastUsed))
}

// Touch marks connection as used now.
func (c *Conn) Touch() {
	c.touch()
}

func (c *Conn) touch() {
	atomic.StoreInt64(&c.lastUsed, time.Now().UnixNano())
}

// Closed reports whether connection is closed or broken.
func (c *Conn) Closed() bool {
	return c == nil || c.c == nil || atomic.LoadUint32(&c.closed) != 0
}

// Close closes connection.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	c.report(LogClosed{})
	return c.c.Close()
}

// broken closes connection after io or protocol error.
func (c *Conn) broken(err error) {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}
	c.report(LogDisconnected{
		Error:      err,
		LocalAddr:  c.c.LocalAddr().String(),
		RemoteAddr: c.c.RemoteAddr().String(),
	})
	c.c.Close()
}

// Do sends single command and returns its result.
// Redis error reply is returned as ErrResult error, and it doesn't affect connection.
// Any other error means connection is closed.
func (c *Conn) Do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	res, err := c.DoMany(ctx, redis.Req(cmd, args...))
	if err != nil {
		return nil, err
	}
	if rerr := redis.AsErrorx(res[0]); rerr != nil {
		return nil, rerr
	}
	return res[0], nil
}

// DoMany sends several requests with single write, and reads their answers.
// Redis error replies are left in their positions in result slice as *errorx.Error.
// Returned error is either request serialization error (connection is still usable)
// or hard error (connection is closed).
func (c *Conn) DoMany(ctx context.Context, reqs ...redis.Request) ([]interface{}, error) {
	return c.roundTrip(ctx, reqs, true)
}

// Ping sends PING and checks answer.
func (c *Conn) Ping(ctx context.Context) error {
	res, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if str, ok := res.(string); !ok || str != "PONG" {
		err := redis.ErrPing.NewWithNoMessage().
			WithProperty(redis.EKAddress, c.addr).
			WithProperty(redis.EKResponse, res)
		c.broken(err)
		return err
	}
	return nil
}

// Receive waits for a message pushed by server (for example, by SUBSCRIBE).
// It is not bounded by IOTimeout: only ctx could interrupt it.
func (c *Conn) Receive(ctx context.Context) (interface{}, error) {
	if c.Closed() {
		return nil, c.err(ErrNotConnected)
	}
	stop := c.arm(ctx, false)
	defer stop()
	res := redis.ReadResponse(c.r)
	if rerr := redis.AsErrorx(res); rerr != nil {
		if redis.HardError(rerr) {
			return nil, c.hardErr(ctx, rerr)
		}
		return nil, rerr
	}
	c.touch()
	return res, nil
}

func (c *Conn) roundTrip(ctx context.Context, reqs []redis.Request, useTimeout bool) ([]interface{}, error) {
	if c.Closed() {
		return nil, c.err(ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, c.wrapErr(redis.ErrIO, err)
	}

	buf := c.buf[:0]
	for _, req := range reqs {
		var rerr *errorx.Error
		if buf, rerr = redis.AppendRequest(buf, req); rerr != nil {
			return nil, rerr
		}
	}

	stop := c.arm(ctx, useTimeout)
	defer stop()

	if _, err := c.w.Write(buf); err != nil {
		return nil, c.hardErr(ctx, c.wrapErr(redis.ErrIO, err))
	}
	if err := c.w.Flush(); err != nil {
		return nil, c.hardErr(ctx, c.wrapErr(redis.ErrIO, err))
	}
	if cap(buf) <= 64*1024 {
		c.buf = buf[:0]
	}

	res := make([]interface{}, len(reqs))
	for i := range reqs {
		res[i] = redis.ReadResponse(c.r)
		if rerr := redis.AsErrorx(res[i]); rerr != nil && redis.HardError(rerr) {
			return nil, c.hardErr(ctx, rerr.WithProperty(redis.EKRequest, reqs[i]))
		}
	}
	c.touch()
	return res, nil
}

// arm applies context deadline and cancellation to socket io.
// Cancellation of context interrupts blocked read or write.
func (c *Conn) arm(ctx context.Context, useTimeout bool) func() {
	c.dc.arm(ctx, useTimeout)
	stopper := context.AfterFunc(ctx, func() {
		c.c.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stopper()
		c.dc.arm(context.Background(), true)
	}
}

// hardErr breaks connection and decorates error with context error if context is done.
func (c *Conn) hardErr(ctx context.Context, err *errorx.Error) error {
	err = redis.WithAddress(err, c.addr)
	if cerr := ctx.Err(); cerr != nil {
		err = errorx.Decorate(err, "exchange interrupted: %s", cerr.Error())
	}
	c.broken(err)
	return err
}

func (c *Conn) report(event LogEvent) {
	c.opts.Logger.Report(c, event)
}

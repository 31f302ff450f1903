package testbed

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joomcode/redisguard/redis"
)

// ErrReply is written to client as redis error reply.
type ErrReply string

// NoReply is returned by handler that doesn't want to answer (for example, to emulate hang).
type NoReply struct{}

// Handler handles one command. Args don't include command name.
// Returned value is encoded: string as status reply, []byte as bulk string, int/int64 as integer,
// nil as null, ErrReply as error, []interface{} as array.
type Handler func(c *Client, args []string) interface{}

type entry struct {
	val      []byte
	expireAt time.Time
}

// Server is fake redis server.
type Server struct {
	// Port to listen on. If 0, random port is chosen on first Start and kept for restarts.
	Port uint16
	// Username and Password are required with AUTH if Password is not empty.
	Username string
	Password string

	mu       sync.Mutex
	ln       net.Listener
	data     map[string]entry
	handlers map[string]Handler
	counts   map[string]int
	clients  map[*Client]struct{}
	subs     map[string]map[*Client]struct{}
	paused   chan struct{}
	wg       sync.WaitGroup
}

// Client is a server side of a client connection.
type Client struct {
	srv        *Server
	c          net.Conn
	wmu        sync.Mutex
	w          *bufio.Writer
	authed     bool
	asking     bool
	DB         int
	subscribed map[string]struct{}
}

// NewServer creates and starts server on random port.
func NewServer() *Server {
	s := &Server{}
	if err := s.Start(); err != nil {
		panic(err)
	}
	return s
}

// Addr returns address server listens on.
func (s *Server) Addr() string {
	return "127.0.0.1:" + strconv.Itoa(int(s.Port))
}

// Start starts listening. It is noop if server is already started.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(int(s.Port)))
	if err != nil {
		return err
	}
	s.ln = ln
	s.Port = uint16(ln.Addr().(*net.TCPAddr).Port)
	if s.data == nil {
		s.data = make(map[string]entry)
		s.counts = make(map[string]int)
	}
	s.clients = make(map[*Client]struct{})
	s.subs = make(map[string]map[*Client]struct{})
	s.wg.Add(1)
	go s.accept(ln)
	return nil
}

// Stop closes listener and all client connections. Data is kept.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	if s.paused != nil {
		close(s.paused)
		s.paused = nil
	}
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.DropClients()
	s.wg.Wait()
	return err
}

// Pause makes server to stop answering until Resume.
func (s *Server) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		s.paused = make(chan struct{})
	}
}

// Resume resumes answering.
func (s *Server) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused != nil {
		close(s.paused)
		s.paused = nil
	}
}

// Handle registers handler for command, overriding builtin one.
func (s *Server) Handle(cmd string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[string]Handler)
	}
	s.handlers[strings.ToUpper(cmd)] = h
}

// Count returns number of times command were received.
func (s *Server) Count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[strings.ToUpper(cmd)]
}

// Clients returns number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DropClients closes all client connections.
func (s *Server) DropClients() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.c.Close()
	}
}

// Value returns value stored in database 0.
func (s *Server) Value(key string) ([]byte, bool) {
	return s.ValueDB(0, key)
}

// ValueDB returns value stored in database.
func (s *Server) ValueDB(db int, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(db, key)
	return e.val, ok
}

// TTL returns remaining time to live of a key in database 0.
func (s *Server) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(0, key)
	if !ok || e.expireAt.IsZero() {
		return -1
	}
	return time.Until(e.expireAt)
}

// Publish sends message to channel subscribers, and returns their count.
func (s *Server) Publish(channel, msg string) int {
	s.mu.Lock()
	subs := make([]*Client, 0, len(s.subs[channel]))
	for c := range s.subs[channel] {
		subs = append(subs, c)
	}
	s.mu.Unlock()
	for _, c := range subs {
		c.write([]interface{}{[]byte("message"), []byte(channel), []byte(msg)})
	}
	return len(subs)
}

// Subscribers returns number of subscribers of channel.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[channel])
}

// Do sends command to server with fresh connection.
func (s *Server) Do(cmd string, args ...interface{}) interface{} {
	return Do(s.Addr(), cmd, args...)
}

func (s *Server) accept(ln net.Listener) {
	defer s.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		cl := &Client{srv: s, c: c, w: bufio.NewWriter(c)}
		s.mu.Lock()
		if s.ln != ln {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.clients[cl] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go cl.serve()
	}
}

func (c *Client) serve() {
	s := c.srv
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		for ch := range c.subscribed {
			delete(s.subs[ch], c)
		}
		s.mu.Unlock()
		c.c.Close()
	}()
	r := bufio.NewReader(c.c)
	for {
		req := redis.ReadResponse(r)
		arr, ok := req.([]interface{})
		if !ok || len(arr) == 0 {
			return
		}
		args := make([]string, len(arr))
		for i, a := range arr {
			b, ok := a.([]byte)
			if !ok {
				return
			}
			args[i] = string(b)
		}
		cmd := strings.ToUpper(args[0])

		s.mu.Lock()
		s.counts[cmd]++
		h := s.handlers[cmd]
		paused := s.paused
		s.mu.Unlock()
		if paused != nil {
			<-paused
		}

		var res interface{}
		if h == nil {
			h = builtin(cmd)
		}
		if s.Password != "" && !c.authed && cmd != "AUTH" {
			res = ErrReply("NOAUTH Authentication required.")
		} else {
			res = h(c, args[1:])
		}
		if _, ok := res.(NoReply); ok {
			continue
		}
		if err := c.write(res); err != nil {
			return
		}
		if cmd == "QUIT" {
			return
		}
	}
}

// Close closes client connection.
func (c *Client) Close() {
	c.c.Close()
}

// Server returns server client connected to.
func (c *Client) Server() *Server {
	return c.srv
}

func (c *Client) write(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.w.Write(AppendReply(nil, v))
	return c.w.Flush()
}

// AppendReply serializes reply value.
func AppendReply(b []byte, v interface{}) []byte {
	switch r := v.(type) {
	case nil:
		return append(b, "$-1\r\n"...)
	case string:
		b = append(b, '+')
		b = append(b, r...)
		return append(b, '\r', '\n')
	case ErrReply:
		b = append(b, '-')
		b = append(b, r...)
		return append(b, '\r', '\n')
	case []byte:
		b = append(b, '$')
		b = strconv.AppendInt(b, int64(len(r)), 10)
		b = append(b, '\r', '\n')
		b = append(b, r...)
		return append(b, '\r', '\n')
	case int:
		return AppendReply(b, int64(r))
	case int64:
		b = append(b, ':')
		b = strconv.AppendInt(b, r, 10)
		return append(b, '\r', '\n')
	case []interface{}:
		b = append(b, '*')
		b = strconv.AppendInt(b, int64(len(r)), 10)
		b = append(b, '\r', '\n')
		for _, e := range r {
			b = AppendReply(b, e)
		}
		return b
	default:
		panic("testbed: unsupported reply type")
	}
}

func (s *Server) get(db int, key string) (entry, bool) {
	k := strconv.Itoa(db) + ":" + key
	e, ok := s.data[k]
	if ok && !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		delete(s.data, k)
		return entry{}, false
	}
	return e, ok
}

func (s *Server) set(db int, key string, e entry) {
	s.data[strconv.Itoa(db)+":"+key] = e
}

func (s *Server) del(db int, key string) bool {
	_, ok := s.get(db, key)
	delete(s.data, strconv.Itoa(db)+":"+key)
	return ok
}

func wrongArgs(cmd string) ErrReply {
	return ErrReply("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command")
}

func builtin(cmd string) Handler {
	switch cmd {
	case "PING":
		return func(c *Client, args []string) interface{} { return "PONG" }
	case "ECHO":
		return func(c *Client, args []string) interface{} {
			if len(args) != 1 {
				return wrongArgs(cmd)
			}
			return []byte(args[0])
		}
	case "QUIT":
		return func(c *Client, args []string) interface{} { return "OK" }
	case "AUTH":
		return func(c *Client, args []string) interface{} {
			s := c.srv
			if len(args) < 1 || len(args) > 2 {
				return wrongArgs(cmd)
			}
			if s.Password == "" {
				return ErrReply("ERR AUTH <password> called without any password configured for the default user.")
			}
			user, pass := "default", args[0]
			if len(args) == 2 {
				user, pass = args[0], args[1]
			}
			wantUser := s.Username
			if wantUser == "" {
				wantUser = "default"
			}
			if user != wantUser || pass != s.Password {
				return ErrReply("WRONGPASS invalid username-password pair or user is disabled.")
			}
			c.authed = true
			return "OK"
		}
	case "SELECT":
		return func(c *Client, args []string) interface{} {
			if len(args) != 1 {
				return wrongArgs(cmd)
			}
			db, err := strconv.Atoi(args[0])
			if err != nil || db < 0 || db > 15 {
				return ErrReply("ERR DB index is out of range")
			}
			c.DB = db
			return "OK"
		}
	case "GET":
		return func(c *Client, args []string) interface{} {
			if len(args) != 1 {
				return wrongArgs(cmd)
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			if e, ok := s.get(c.DB, args[0]); ok {
				return e.val
			}
			return nil
		}
	case "SET":
		return func(c *Client, args []string) interface{} {
			if len(args) != 2 && len(args) != 4 {
				return ErrReply("ERR syntax error")
			}
			e := entry{val: []byte(args[1])}
			if len(args) == 4 {
				sec, err := strconv.Atoi(args[3])
				if strings.ToUpper(args[2]) != "EX" || err != nil || sec <= 0 {
					return ErrReply("ERR syntax error")
				}
				e.expireAt = time.Now().Add(time.Duration(sec) * time.Second)
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			s.set(c.DB, args[0], e)
			return "OK"
		}
	case "EXPIRE":
		return func(c *Client, args []string) interface{} {
			if len(args) != 2 {
				return wrongArgs(cmd)
			}
			sec, err := strconv.Atoi(args[1])
			if err != nil {
				return ErrReply("ERR value is not an integer or out of range")
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			e, ok := s.get(c.DB, args[0])
			if !ok {
				return 0
			}
			e.expireAt = time.Now().Add(time.Duration(sec) * time.Second)
			s.set(c.DB, args[0], e)
			return 1
		}
	case "TTL":
		return func(c *Client, args []string) interface{} {
			if len(args) != 1 {
				return wrongArgs(cmd)
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			e, ok := s.get(c.DB, args[0])
			if !ok {
				return -2
			}
			if e.expireAt.IsZero() {
				return -1
			}
			return int64(time.Until(e.expireAt).Seconds() + 0.5)
		}
	case "DEL", "EXISTS":
		return func(c *Client, args []string) interface{} {
			if len(args) == 0 {
				return wrongArgs(cmd)
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			n := 0
			for _, k := range args {
				if cmd == "DEL" && s.del(c.DB, k) {
					n++
				} else if _, ok := s.get(c.DB, k); ok && cmd == "EXISTS" {
					n++
				}
			}
			return n
		}
	case "INCR":
		return func(c *Client, args []string) interface{} {
			if len(args) != 1 {
				return wrongArgs(cmd)
			}
			s := c.srv
			s.mu.Lock()
			defer s.mu.Unlock()
			e, _ := s.get(c.DB, args[0])
			v := int64(0)
			if e.val != nil {
				var err error
				if v, err = strconv.ParseInt(string(e.val), 10, 64); err != nil {
					return ErrReply("ERR value is not an integer or out of range")
				}
			}
			v++
			e.val = strconv.AppendInt(nil, v, 10)
			s.set(c.DB, args[0], e)
			return v
		}
	case "SUBSCRIBE":
		return func(c *Client, args []string) interface{} {
			if len(args) == 0 {
				return wrongArgs(cmd)
			}
			s := c.srv
			for _, ch := range args {
				s.mu.Lock()
				if c.subscribed == nil {
					c.subscribed = make(map[string]struct{})
				}
				c.subscribed[ch] = struct{}{}
				if s.subs[ch] == nil {
					s.subs[ch] = make(map[*Client]struct{})
				}
				s.subs[ch][c] = struct{}{}
				n := len(c.subscribed)
				s.mu.Unlock()
				c.write([]interface{}{[]byte("subscribe"), []byte(ch), n})
			}
			return NoReply{}
		}
	case "PUBLISH":
		return func(c *Client, args []string) interface{} {
			if len(args) != 2 {
				return wrongArgs(cmd)
			}
			return c.srv.Publish(args[0], args[1])
		}
	default:
		return func(c *Client, args []string) interface{} {
			return ErrReply("ERR unknown command '" + strings.ToLower(cmd) + "'")
		}
	}
}

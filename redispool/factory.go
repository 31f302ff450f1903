package redispool

import (
	"context"
	"time"

	"github.com/joomcode/redisguard/redisconn"
)

// Factory creates and validates pooled connections.
type Factory interface {
	// Addr is an address connections are made to.
	Addr() string
	// Create establishes new connection.
	Create(ctx context.Context) (*redisconn.Conn, error)
	// Validate reports whether connection could be handed out or kept idle.
	Validate(conn *redisconn.Conn) bool
}

// ConnFactory dials connections with redisconn.Dial.
type ConnFactory struct {
	Address string
	Opts    redisconn.Opts
	// MaxLifetime - connection older than this is not reused. 0 disables check.
	MaxLifetime time.Duration
	// MaxIdleTime - connection unused for longer than this is not reused. 0 disables check.
	MaxIdleTime time.Duration
}

// Addr implements Factory.Addr
func (f *ConnFactory) Addr() string {
	return f.Address
}

// Create implements Factory.Create
func (f *ConnFactory) Create(ctx context.Context) (*redisconn.Conn, error) {
	return redisconn.Dial(ctx, f.Address, f.Opts)
}

// Validate implements Factory.Validate
func (f *ConnFactory) Validate(conn *redisconn.Conn) bool {
	if conn.Closed() {
		return false
	}
	now := time.Now()
	if f.MaxLifetime > 0 && now.Sub(conn.Created()) > f.MaxLifetime {
		return false
	}
	if f.MaxIdleTime > 0 && now.Sub(conn.LastUsed()) > f.MaxIdleTime {
		return false
	}
	return true
}

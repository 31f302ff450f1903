package redisconn

import (
	"context"
	"net"
	"time"
)

// deadlineIO sets deadline before every read and write.
// Deadline is the earliest of "now + timeout" and the deadline of the current exchange context.
type deadlineIO struct {
	to         time.Duration
	useTimeout bool
	c          net.Conn
	ctx        context.Context
}

func newDeadlineIO(c net.Conn, to time.Duration) *deadlineIO {
	return &deadlineIO{c: c, to: to, useTimeout: true, ctx: context.Background()}
}

// arm binds io to the context of an exchange.
// If useTimeout is false, only context deadline is applied.
func (d *deadlineIO) arm(ctx context.Context, useTimeout bool) {
	d.ctx = ctx
	d.useTimeout = useTimeout
}

func (d *deadlineIO) deadline() time.Time {
	var dl time.Time
	if d.useTimeout && d.to > 0 {
		dl = time.Now().Add(d.to)
	}
	if cdl, ok := d.ctx.Deadline(); ok && (dl.IsZero() || cdl.Before(dl)) {
		dl = cdl
	}
	return dl
}

func (d *deadlineIO) Write(b []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	d.c.SetWriteDeadline(d.deadline())
	return d.c.Write(b)
}

func (d *deadlineIO) Read(b []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	d.c.SetReadDeadline(d.deadline())
	return d.c.Read(b)
}

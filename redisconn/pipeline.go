package redisconn

import (
	"context"

	"github.com/joomcode/redisguard/redis"
)

// Pipeline collects commands to be sent with single write.
type Pipeline struct {
	c    *Conn
	reqs []redis.Request
}

// Pipeline starts new pipeline on connection.
func (c *Conn) Pipeline() *Pipeline {
	return &Pipeline{c: c}
}

// Queue adds command to pipeline.
func (p *Pipeline) Queue(cmd string, args ...interface{}) *Pipeline {
	p.reqs = append(p.reqs, redis.Req(cmd, args...))
	return p
}

// Len returns number of queued commands.
func (p *Pipeline) Len() int {
	return len(p.reqs)
}

// Exec sends queued commands and reads their results in order.
// Pipeline is emptied regardless of result.
func (p *Pipeline) Exec(ctx context.Context) ([]interface{}, error) {
	reqs := p.reqs
	p.reqs = nil
	if len(reqs) == 0 {
		return nil, nil
	}
	return p.c.DoMany(ctx, reqs...)
}

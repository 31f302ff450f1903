package internal

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	defaultShards   = 16
	defaultPerShard = 16
	defaultCapa     = 2048
)

// Workers is a fixed set of goroutines fed by sharded channels.
// Workers are never stopped, and they don't prevent process from exiting.
type Workers struct {
	shardn uint32
	chans  []chan func()
}

// NewWorkers starts shards*perShard goroutines, each shard has queue of capa functions.
func NewWorkers(shards, perShard, capa int) *Workers {
	if shards < 2 {
		shards = 2
	}
	if perShard < 1 {
		perShard = 1
	}
	w := &Workers{chans: make([]chan func(), shards)}
	for i := range w.chans {
		ch := make(chan func(), capa)
		w.chans[i] = ch
		for j := 0; j < perShard; j++ {
			go worker(ch)
		}
	}
	return w
}

var defaultWorkers struct {
	once sync.Once
	w    *Workers
}

// DefaultWorkers returns shared worker set, starting it on first call.
func DefaultWorkers() *Workers {
	defaultWorkers.once.Do(func() {
		defaultWorkers.w = NewWorkers(defaultShards, defaultPerShard, defaultCapa)
	})
	return defaultWorkers.w
}

func worker(ch chan func()) {
	for f := range ch {
		f()
	}
}

// Go enqueues f. It tries shard in round-robin order first, then waits on two random shards
// until ctx is done. It returns false if f were not enqueued.
func (w *Workers) Go(ctx context.Context, f func()) bool {
	n := uint32(len(w.chans))
	i := atomic.AddUint32(&w.shardn, 1)
	select {
	case w.chans[i%n] <- f:
		return true
	default:
	}
	m := nextRng(&i, n)
	k := nextRng(&i, n-1)
	select {
	case w.chans[m] <- f:
		return true
	case w.chans[(m+1+k)%n] <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextRng(state *uint32, mod uint32) uint32 {
	v := *state
	*state = v*0x12345 + 1
	return (v ^ v>>16) % mod
}

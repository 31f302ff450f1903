// Package nearcache implements queued write path with read-your-own-write visibility.
//
// Put enqueues an entry and returns immediately. Single drainer goroutine persists entries
// in order, and advances watermark after each of them. Until entry is persisted, Get on
// the same process sees it. DoJoin lets caller wait (boundedly) until its writes are drained.
package nearcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redisguard/redismetrics"
	"github.com/joomcode/redisguard/resilience"
)

const (
	defaultRetryBackoff     = 100 * time.Millisecond
	defaultIdleWakeInterval = 100 * time.Millisecond
	defaultShutdownAttempts = 3
	defaultJoinIterations   = 1000
	defaultJoinInterval     = time.Millisecond
)

// Persister writes entry to the store.
type Persister interface {
	Persist(ctx context.Context, key string, value []byte, expirySeconds int) error
}

// PersisterFunc adapts function to Persister.
type PersisterFunc func(ctx context.Context, key string, value []byte, expirySeconds int) error

// Persist implements Persister
func (f PersisterFunc) Persist(ctx context.Context, key string, value []byte, expirySeconds int) error {
	return f(ctx, key, value, expirySeconds)
}

// Entry is a not yet persisted write.
type Entry struct {
	Key     string
	Value   []byte
	Expiry  int // seconds
	Seq     uint64
	Created time.Time
}

// Opts - options for Buffer.
type Opts struct {
	// RetryBackoff - pause before persisting failed entry again. Default: 100ms
	RetryBackoff time.Duration
	// IdleWakeInterval - how often idle drainer wakes without signal. Default: 100ms
	IdleWakeInterval time.Duration
	// ShutdownAttempts - persist attempts per entry while flushing on Close. Default: 3
	ShutdownAttempts int
	// JoinIterations and JoinInterval bound DoJoin polling. Defaults: 1000 and 1ms
	JoinIterations int
	JoinInterval   time.Duration
	// IsTransient tells if failed entry should be requeued.
	// Default: connectivity errors, timeouts and open circuit.
	IsTransient func(err error) bool
	Logger      Logger
	Metrics     *redismetrics.Metrics
}

// Buffer is a near-cache write buffer.
type Buffer struct {
	opts      Opts
	persister Persister

	mu      sync.Mutex
	entries []*Entry // ordered by Seq
	closed  bool

	seq       atomic.Uint64
	watermark atomic.Uint64

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	flushDropped int
}

// New creates buffer and starts drainer.
func New(persister Persister, opts Opts) *Buffer {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.IdleWakeInterval <= 0 {
		opts.IdleWakeInterval = defaultIdleWakeInterval
	}
	if opts.ShutdownAttempts <= 0 {
		opts.ShutdownAttempts = defaultShutdownAttempts
	}
	if opts.JoinIterations <= 0 {
		opts.JoinIterations = defaultJoinIterations
	}
	if opts.JoinInterval <= 0 {
		opts.JoinInterval = defaultJoinInterval
	}
	if opts.IsTransient == nil {
		opts.IsTransient = IsTransient
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	b := &Buffer{
		opts:      opts,
		persister: persister,
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.drain()
	return b
}

// IsTransient is default classification of persist errors.
func IsTransient(err error) bool {
	return resilience.IsRetryable(err) ||
		errorx.IsOfType(err, resilience.ErrCircuitOpen) ||
		errorx.IsTimeout(err)
}

// Put enqueues write and returns its sequence number.
// After Close it drops the write and returns 0.
func (b *Buffer) Put(key string, value []byte, expirySeconds int) uint64 {
	e := &Entry{
		Key:     key,
		Value:   append([]byte(nil), value...),
		Expiry:  expirySeconds,
		Created: time.Now(),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.report(LogPutAfterClose{Key: key, Error: ErrClosed.New("put of %q after close", key).WithProperty(EKKey, key)})
		return 0
	}
	e.Seq = b.seq.Add(1)
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	b.opts.Metrics.NearCache(context.Background(), "put")
	b.wake()
	return e.Seq
}

// Get returns value of newest pending write of the key.
func (b *Buffer) Get(key string) ([]byte, bool) {
	e := b.GetEntry(key)
	if e == nil {
		b.opts.Metrics.NearCache(context.Background(), "miss")
		return nil, false
	}
	b.opts.Metrics.NearCache(context.Background(), "hit")
	return e.Value, true
}

// GetEntry returns newest pending entry of the key, or nil.
func (b *Buffer) GetEntry(key string) *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Key == key {
			return b.entries[i]
		}
	}
	return nil
}

// DoJoin waits until all writes up to seq are drained, or buffer is empty.
// Waiting is bounded: under sustained load caller may proceed before its write is persisted.
// It returns false in that case.
func (b *Buffer) DoJoin(seq uint64) bool {
	for i := 0; ; i++ {
		if b.watermark.Load() >= seq || b.Len() == 0 {
			return true
		}
		if i >= b.opts.JoinIterations {
			return false
		}
		time.Sleep(b.opts.JoinInterval)
	}
}

// Seq returns last assigned sequence number.
func (b *Buffer) Seq() uint64 {
	return b.seq.Load()
}

// Watermark returns sequence number up to which writes are persisted or given up.
func (b *Buffer) Watermark() uint64 {
	return b.watermark.Load()
}

// Len returns number of pending writes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close stops accepting writes and flushes pending ones.
// If ctx expires before flush is done, in-flight persist is cancelled and rest is dropped.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.stop)

	var err error
	select {
	case <-b.done:
	case <-ctx.Done():
		b.cancel()
		<-b.done
		err = errorx.Decorate(ctx.Err(), "near-cache flush interrupted")
	}
	b.cancel()
	if err == nil && b.flushDropped > 0 {
		err = ErrFlushIncomplete.New("%d entries were not persisted", b.flushDropped).
			WithProperty(EKDropped, b.flushDropped)
	}
	return err
}

func (b *Buffer) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Buffer) front() *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0]
}

// pop removes front entry and advances watermark.
func (b *Buffer) pop(e *Entry) {
	b.mu.Lock()
	b.entries[0] = nil
	b.entries = b.entries[1:]
	b.watermark.Store(e.Seq)
	b.mu.Unlock()
}

func (b *Buffer) stopping() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

func (b *Buffer) drain() {
	defer close(b.done)
	attempt := 0
	for {
		if b.stopping() {
			b.flush()
			return
		}
		e := b.front()
		if e == nil {
			t := time.NewTimer(b.opts.IdleWakeInterval)
			select {
			case <-b.signal:
			case <-b.stop:
			case <-t.C:
			}
			t.Stop()
			continue
		}

		err := b.persister.Persist(b.ctx, e.Key, e.Value, e.Expiry)
		if err == nil {
			attempt = 0
			b.pop(e)
			b.opts.Metrics.NearCache(b.ctx, "persist")
			continue
		}
		if !b.opts.IsTransient(err) {
			attempt = 0
			b.drop(e, err)
			continue
		}
		attempt++
		// entry stays at the front
		b.report(LogRequeued{Key: e.Key, Seq: e.Seq, Attempt: attempt, Error: err})
		b.opts.Metrics.NearCache(b.ctx, "requeue")
		t := time.NewTimer(b.opts.RetryBackoff)
		select {
		case <-b.stop:
		case <-t.C:
		}
		t.Stop()
	}
}

// flush persists remaining entries best effort.
func (b *Buffer) flush() {
	persisted, dropped := 0, 0
	for e := b.front(); e != nil; e = b.front() {
		var err error
		for attempt := 1; attempt <= b.opts.ShutdownAttempts; attempt++ {
			if err = b.persister.Persist(b.ctx, e.Key, e.Value, e.Expiry); err == nil || b.ctx.Err() != nil {
				break
			}
			if !b.opts.IsTransient(err) {
				break
			}
			if attempt < b.opts.ShutdownAttempts {
				t := time.NewTimer(b.opts.RetryBackoff)
				select {
				case <-b.ctx.Done():
				case <-t.C:
				}
				t.Stop()
			}
		}
		if err == nil {
			persisted++
			b.pop(e)
			b.opts.Metrics.NearCache(b.ctx, "persist")
			continue
		}
		dropped++
		b.drop(e, err)
	}
	b.flushDropped = dropped
	b.report(LogFlushed{Persisted: persisted, Dropped: dropped})
}

func (b *Buffer) drop(e *Entry, err error) {
	b.pop(e)
	b.report(LogDropped{Key: e.Key, Seq: e.Seq, Error: err})
	b.opts.Metrics.NearCache(context.Background(), "drop")
}

func (b *Buffer) report(event LogEvent) {
	b.opts.Logger.Report(b, event)
}

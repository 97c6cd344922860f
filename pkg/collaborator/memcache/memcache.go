// Package memcache implements an in-memory lazywriter.Collaborator: every
// stream's dirty content lives in a plain []byte buffer, write_behind
// simulates page I/O with a jittered sleep, and can_i_write is backed by a
// small token-bucket admission gate instead of a real storage backend.
//
// It exists to exercise the lazy writer core end to end without wiring a
// real page cache or block device, in the same spirit as the teacher's
// pkg/cache/memory in-memory content cache.
package memcache

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/marmos91/lazywriter/internal/logger"
	"github.com/marmos91/lazywriter/pkg/lazywriter"
)

const pageSize = 4096

// buffer is one stream's in-memory content plus its dirty span.
type buffer struct {
	mu         sync.Mutex
	data       []byte
	dirtyPages int64
}

// Collaborator is an in-memory lazywriter.Collaborator. It is safe for
// concurrent use by multiple lazy-writer workers.
type Collaborator struct {
	mu      sync.RWMutex
	buffers map[string]*buffer

	// writeDelay is the base per-page simulated I/O latency; the actual
	// sleep is writeDelay*pages jittered by up to 20%.
	writeDelay time.Duration

	// deferred counts pending "deferred write" work posted by callers
	// via PostDeferred; PostDeferredWrites drains it, DeferredWritesEmpty
	// reports whether any remains.
	deferredMu sync.Mutex
	deferred   int

	// tokens implements CanIWrite's admission gate: a fixed-size bucket
	// of write tokens refilled by PostDeferredWrites, standing in for a
	// real memory manager's outstanding-I/O throttle.
	tokens *tokenBucket

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Collaborator at construction time.
type Option func(*Collaborator)

// WithWriteDelay overrides the base per-page simulated write latency.
func WithWriteDelay(d time.Duration) Option {
	return func(c *Collaborator) { c.writeDelay = d }
}

// WithTokenCapacity overrides the CanIWrite admission bucket's capacity.
func WithTokenCapacity(n int) Option {
	return func(c *Collaborator) { c.tokens = newTokenBucket(n) }
}

// New returns an in-memory Collaborator with sensible demo defaults.
func New(opts ...Option) *Collaborator {
	c := &Collaborator{
		buffers:    make(map[string]*buffer),
		writeDelay: 200 * time.Microsecond,
		tokens:     newTokenBucket(64),
		rng:        rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collaborator) getOrCreate(id string) *buffer {
	c.mu.RLock()
	b, ok := c.buffers[id]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok = c.buffers[id]; ok {
		return b
	}
	b = &buffer{}
	c.buffers[id] = b
	return b
}

// Write appends data to a stream's buffer and marks it dirty by the
// corresponding number of pages, for demo callers driving synthetic write
// traffic through the lazy writer.
func (c *Collaborator) Write(id string, data []byte) int64 {
	b := c.getOrCreate(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, data...)
	pages := int64(len(data)+pageSize-1) / pageSize
	if pages == 0 {
		pages = 1
	}
	b.dirtyPages += pages
	return pages
}

// Size returns the current length of a stream's buffer, in bytes.
func (c *Collaborator) Size(id string) int64 {
	b := c.getOrCreate(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data))
}

// PostDeferred registers n units of deferred write work, for demo callers
// simulating a memory manager that occasionally holds writes back.
func (c *Collaborator) PostDeferred(n int) {
	c.deferredMu.Lock()
	c.deferred += n
	c.deferredMu.Unlock()
}

func (c *Collaborator) jitter(base time.Duration) time.Duration {
	c.rngMu.Lock()
	factor := 0.8 + 0.4*c.rng.Float64()
	c.rngMu.Unlock()
	return time.Duration(float64(base) * factor)
}

// WriteBehind implements lazywriter.Collaborator. It simulates flushing up
// to stream.PagesToWrite dirty pages with a jittered sleep proportional to
// the page count, then clears that many pages from the buffer's dirty
// count.
func (c *Collaborator) WriteBehind(ctx context.Context, stream *lazywriter.StreamDescriptor) lazywriter.IOStatus {
	b := c.getOrCreate(stream.ID)

	b.mu.Lock()
	toWrite := stream.PagesToWrite
	if toWrite > b.dirtyPages {
		toWrite = b.dirtyPages
	}
	b.mu.Unlock()

	if toWrite <= 0 {
		return lazywriter.IOStatus{}
	}

	delay := c.jitter(c.writeDelay * time.Duration(toWrite))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return lazywriter.IOStatus{Requeue: true}
	}

	if !c.tokens.take() {
		logger.DebugCtx(ctx, "write_behind requeued: token bucket exhausted", logger.StreamID(stream.ID))
		return lazywriter.IOStatus{Requeue: true}
	}

	b.mu.Lock()
	b.dirtyPages -= toWrite
	if b.dirtyPages < 0 {
		b.dirtyPages = 0
	}
	b.mu.Unlock()

	return lazywriter.IOStatus{PagesWritten: toWrite}
}

// ReadAhead implements lazywriter.Collaborator. target is expected to be a
// stream ID string; anything else is a no-op.
func (c *Collaborator) ReadAhead(ctx context.Context, target any) {
	id, ok := target.(string)
	if !ok {
		return
	}
	b := c.getOrCreate(id)
	b.mu.Lock()
	size := len(b.data)
	b.mu.Unlock()
	logger.DebugCtx(ctx, "read_ahead", logger.StreamID(id), "bytes", size)
}

// PostDeferredWrites implements lazywriter.Collaborator: it drains the
// deferred-work counter and refills the admission token bucket, standing
// in for a memory manager retrying writes it previously held back.
func (c *Collaborator) PostDeferredWrites(ctx context.Context) {
	c.deferredMu.Lock()
	drained := c.deferred
	c.deferred = 0
	c.deferredMu.Unlock()

	if drained > 0 {
		c.tokens.refill(drained)
	}
}

// DeferredWritesEmpty implements lazywriter.Collaborator.
func (c *Collaborator) DeferredWritesEmpty() bool {
	c.deferredMu.Lock()
	defer c.deferredMu.Unlock()
	return c.deferred == 0
}

// CanIWrite implements lazywriter.Collaborator's admission check against
// the token bucket. wait blocks (bounded by ctx) for a token to free up
// instead of answering immediately.
func (c *Collaborator) CanIWrite(ctx context.Context, target any, threshold int, wait bool, retryPriority int) bool {
	if !wait {
		return c.tokens.available() > threshold
	}
	for {
		if c.tokens.available() > threshold {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

// tokenBucket is a small counting semaphore used to stand in for a real
// memory manager's outstanding-I/O admission control.
type tokenBucket struct {
	mu       sync.Mutex
	capacity int
	tokens   int
}

func newTokenBucket(capacity int) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity}
}

func (t *tokenBucket) take() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens <= 0 {
		return false
	}
	t.tokens--
	return true
}

func (t *tokenBucket) refill(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += n
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
}

func (t *tokenBucket) available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

// Package blockstore implements a lazywriter.Collaborator that fans a
// single stream's write-behind out across multiple fixed-size blocks
// concurrently, grounded on the teacher's payload/offloader upload fan-out
// (bounded parallelism via golang.org/x/sync/errgroup instead of a raw
// semaphore channel). It exists to give a stream broad enough to span
// several blocks a WriteBehind path that actually exercises concurrent
// backing-store calls, unlike memcache's single in-process buffer.
package blockstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/lazywriter/internal/logger"
	"github.com/marmos91/lazywriter/pkg/lazywriter"
)

// BlockSize is the fixed unit of work fanned out per WriteBehind call.
const BlockSize = 64 * 1024

// BlockStore is the backing write target for one block. A real
// implementation might wrap an object-storage or database client; see
// DESIGN.md for why this expansion does not wire one of the teacher's own
// storage-backend clients in directly.
type BlockStore interface {
	WriteBlock(ctx context.Context, key string, data []byte) error
}

// MemoryBlockStore is a BlockStore that keeps every block in memory, for
// tests and for lazywriterd demo runs.
type MemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[string][]byte
}

// NewMemoryBlockStore returns an empty MemoryBlockStore.
func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{blocks: make(map[string][]byte)}
}

// WriteBlock implements BlockStore.
func (s *MemoryBlockStore) WriteBlock(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.blocks[key] = cp
	s.mu.Unlock()
	return nil
}

// BlockCount reports how many blocks have been written, for tests.
func (s *MemoryBlockStore) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

type streamBuffer struct {
	mu         sync.Mutex
	data       []byte
	dirtyPages int64
}

const pageSize = 4096

// Collaborator is a lazywriter.Collaborator whose WriteBehind splits a
// stream's dirty span into BlockSize blocks and writes them to a
// BlockStore concurrently, bounded by maxParallel in-flight block writes
// per call.
type Collaborator struct {
	store       BlockStore
	maxParallel int

	mu      sync.RWMutex
	buffers map[string]*streamBuffer
}

// Option configures a Collaborator at construction time.
type Option func(*Collaborator)

// WithMaxParallel bounds how many blocks a single WriteBehind call may
// upload concurrently.
func WithMaxParallel(n int) Option {
	return func(c *Collaborator) { c.maxParallel = n }
}

// New returns a Collaborator backed by store.
func New(store BlockStore, opts ...Option) *Collaborator {
	c := &Collaborator{
		store:       store,
		maxParallel: 4,
		buffers:     make(map[string]*streamBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collaborator) getOrCreate(id string) *streamBuffer {
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
	b = &streamBuffer{}
	c.buffers[id] = b
	return b
}

// Write appends data to a stream's buffer and marks it dirty, for demo
// callers driving synthetic traffic through the lazy writer.
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

// WriteBehind implements lazywriter.Collaborator. It slices the stream's
// dirty span (bounded by stream.PagesToWrite) into BlockSize blocks and
// uploads them concurrently via an errgroup, bounded by maxParallel and
// canceled as a group on the first failure.
func (c *Collaborator) WriteBehind(ctx context.Context, stream *lazywriter.StreamDescriptor) lazywriter.IOStatus {
	b := c.getOrCreate(stream.ID)

	b.mu.Lock()
	toWrite := stream.PagesToWrite
	if toWrite > b.dirtyPages {
		toWrite = b.dirtyPages
	}
	byteLen := toWrite * pageSize
	if byteLen > int64(len(b.data)) {
		byteLen = int64(len(b.data))
	}
	data := b.data[:byteLen]
	b.mu.Unlock()

	if toWrite <= 0 || len(data) == 0 {
		return lazywriter.IOStatus{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	blocks := (len(data) + BlockSize - 1) / BlockSize
	for i := 0; i < blocks; i++ {
		start := i * BlockSize
		end := start + BlockSize
		if end > len(data) {
			end = len(data)
		}
		blockIdx := i
		chunk := data[start:end]
		g.Go(func() error {
			key := fmt.Sprintf("%s/%08d", stream.ID, blockIdx)
			if err := c.store.WriteBlock(gctx, key, chunk); err != nil {
				return fmt.Errorf("write block %s: %w", key, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WarnCtx(ctx, "blockstore write_behind failed", logger.StreamID(stream.ID), logger.Err(err))
		return lazywriter.IOStatus{Requeue: true}
	}

	b.mu.Lock()
	b.data = b.data[byteLen:]
	b.dirtyPages -= toWrite
	if b.dirtyPages < 0 {
		b.dirtyPages = 0
	}
	b.mu.Unlock()

	return lazywriter.IOStatus{PagesWritten: toWrite}
}

// ReadAhead implements lazywriter.Collaborator; blockstore streams have no
// speculative prefetch path, so this is a no-op.
func (c *Collaborator) ReadAhead(ctx context.Context, target any) {}

// PostDeferredWrites implements lazywriter.Collaborator. blockstore never
// defers writes on its own, so there is nothing to post.
func (c *Collaborator) PostDeferredWrites(ctx context.Context) {}

// DeferredWritesEmpty implements lazywriter.Collaborator; always true, per
// PostDeferredWrites.
func (c *Collaborator) DeferredWritesEmpty() bool { return true }

// CanIWrite implements lazywriter.Collaborator and always returns true;
// blockstore has no admission gate, and its only concurrency bound is the
// maxParallel errgroup limit applied inside WriteBehind.
func (c *Collaborator) CanIWrite(ctx context.Context, target any, threshold int, wait bool, retryPriority int) bool {
	return true
}

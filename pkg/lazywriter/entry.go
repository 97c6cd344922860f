package lazywriter

import "sync"

// entryKind tags the payload carried by a work-queue entry, spec.md's
// {ReadAhead, WriteBehind, EventSet, LazyWriteScan}.
type entryKind int

const (
	entryReadAhead entryKind = iota
	entryWriteBehind
	entryEventSet
	entryLazyWriteScan
)

func (k entryKind) String() string {
	switch k {
	case entryReadAhead:
		return "read_ahead"
	case entryWriteBehind:
		return "write_behind"
	case entryEventSet:
		return "event_set"
	case entryLazyWriteScan:
		return "lazy_write_scan"
	default:
		return "unknown"
	}
}

// entry is one work-queue item. A single struct carries every kind's
// payload rather than an interface, mirroring the tagged-union entry design
// spec.md's data model calls for; only the field matching kind is
// meaningful.
type entry struct {
	kind entryKind

	// stream is the WriteBehind payload.
	stream *StreamDescriptor
	// readAheadTarget is the ReadAhead payload; its shape is owned by the
	// collaborator, not by this package.
	readAheadTarget any
	// event is the EventSet payload.
	event *event

	// requeue is set by the worker pool between dispatch and the next
	// iteration of its loop when the collaborator asked for a requeue; it
	// is not part of the entry's payload.
	requeue bool
}

func (e *entry) reset() {
	e.kind = entryLazyWriteScan
	e.stream = nil
	e.readAheadTarget = nil
	e.event = nil
	e.requeue = false
}

// entryPool is a bounded allocator for entries, modeling the fixed
// allocation arena spec.md's [ENTRY] describes. TryGet reports failure once
// capacity semaphore is exhausted instead of growing without bound, so that
// the scan's ErrInsufficientResources path is a real, reachable condition
// rather than dead code.
type entryPool struct {
	sem  chan struct{}
	pool sync.Pool
}

func newEntryPool(capacity int) *entryPool {
	return &entryPool{
		sem: make(chan struct{}, capacity),
		pool: sync.Pool{
			New: func() any { return &entry{} },
		},
	}
}

// TryGet attempts a non-blocking allocation. ok is false when the pool's
// capacity is currently exhausted.
func (p *entryPool) TryGet() (*entry, bool) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, false
	}
	e := p.pool.Get().(*entry)
	e.reset()
	return e, true
}

// Put returns e to the pool, releasing one unit of capacity.
func (p *entryPool) Put(e *entry) {
	e.reset()
	p.pool.Put(e)
	<-p.sem
}

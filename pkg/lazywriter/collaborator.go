package lazywriter

import "context"

// IOStatus is the outcome of a WriteBehind call.
type IOStatus struct {
	// Requeue asks the worker pool to reinsert the job at the tail of the
	// queue it came from, spec.md's CC_REQUEUE, instead of freeing it.
	// Used when the collaborator could not make progress right now (a
	// held lock, a busy backing store) but the stream is still eligible.
	Requeue bool
	// Err is non-nil when the write failed outright. A nil Err with
	// Requeue false is a successful, complete write of PagesWritten
	// pages.
	Err error
	// PagesWritten is how many pages were actually flushed; it may be
	// less than the stream's PagesToWrite on a partial write.
	PagesWritten int64
}

// Success reports whether the write completed without error or requeue.
func (s IOStatus) Success() bool { return s.Err == nil && !s.Requeue }

// Collaborator is the set of external interfaces spec.md's [COLLABORATOR]
// names. The lazy writer performs no I/O of its own; every byte moved and
// every admission decision is delegated here. Implementations must be safe
// for concurrent use by multiple worker goroutines.
type Collaborator interface {
	// WriteBehind flushes stream's dirty pages, up to stream.PagesToWrite,
	// to stable storage.
	WriteBehind(ctx context.Context, stream *StreamDescriptor) IOStatus

	// ReadAhead performs speculative prefetch for target, a value with
	// meaning only to the collaborator (typically a file/offset/length
	// tuple it defines itself).
	ReadAhead(ctx context.Context, target any)

	// PostDeferredWrites asks the collaborator to make progress on any
	// writes it is holding back (e.g. per spec.md §4.6, a memory-manager
	// deferred-write list), independent of any specific stream.
	PostDeferredWrites(ctx context.Context)

	// DeferredWritesEmpty reports whether PostDeferredWrites currently has
	// nothing to do. The scan consults it when total_dirty_pages is zero,
	// to decide whether it can go fully idle, and a worker consults it after
	// a successful write to decide whether to run a tail-of-worker rescan.
	DeferredWritesEmpty() bool

	// CanIWrite asks whether a charged write against target may proceed
	// right now given threshold pages already in flight. wait requests
	// that the collaborator block until an answer is available rather
	// than answering immediately; retryPriority is advisory scheduling
	// information the collaborator may use if it does block.
	CanIWrite(ctx context.Context, target any, threshold int, wait bool, retryPriority int) bool
}

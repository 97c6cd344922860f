package lazywriter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LazyWriter is the background flush engine described by spec.md. Create
// one with [New], call [LazyWriter.Start] once, and [LazyWriter.Stop] to
// drain and shut it down. All exported methods are safe for concurrent use.
type LazyWriter struct {
	collaborator Collaborator
	tunables     Tunables
	metrics      Metrics
	logger       logFunc

	pool    *entryPool
	workers *workerPool

	// mu is the master lock. It guards the inventory, the global scalars
	// below, and post_tick_queue. The one place it is held together with
	// workers.mu (the work-queue lock) is walkAndDispatch, which posts
	// WriteBehind entries while holding it; no path takes workers.mu first
	// and then mu.
	mu               sync.Mutex
	inv              *inventory
	streams          map[string]*StreamDescriptor
	totalDirtyPages  int64
	dirtyPagesLastScan int64
	pagesWrittenLastTime int64
	pagesYetToWrite  int64
	scanActive       bool
	otherWork        bool
	postTickQueue    []*entry

	timer        cancelTimer
	newTimerFunc func(d time.Duration, fn func()) cancelTimer

	closed  bool
	started bool
}

// cancelTimer is the subset of *time.Timer New uses, abstracted so tests
// can substitute a synchronous stand-in without a real clock.
type cancelTimer interface {
	Stop() bool
}

type logFunc func(level string, msg string, args ...any)

// Option configures a LazyWriter constructed by New.
type Option func(*LazyWriter)

// WithMetrics installs a non-default [Metrics] sink.
func WithMetrics(m Metrics) Option {
	return func(lw *LazyWriter) { lw.metrics = m }
}

// WithLogger installs a logging callback invoked as
// logger(level, msg, keyValuePairs...). level is one of "debug", "info",
// "warn", "error". The default logger discards everything.
func WithLogger(fn func(level, msg string, args ...any)) Option {
	return func(lw *LazyWriter) { lw.logger = fn }
}

// New constructs a LazyWriter. It does not start the scheduler or worker
// pool; call Start for that.
func New(collaborator Collaborator, tunables Tunables, opts ...Option) (*LazyWriter, error) {
	if collaborator == nil {
		return nil, fmt.Errorf("lazywriter: collaborator must not be nil")
	}
	if err := tunables.Validate(); err != nil {
		return nil, err
	}
	lw := &LazyWriter{
		collaborator: collaborator,
		tunables:     tunables,
		metrics:      NopMetrics{},
		logger:       func(string, string, ...any) {},
		pool:         newEntryPool(tunables.QueueCapacity),
		inv:          newInventory(),
		streams:      make(map[string]*StreamDescriptor),
	}
	lw.workers = newWorkerPool(lw)
	lw.newTimerFunc = func(d time.Duration, fn func()) cancelTimer {
		return time.AfterFunc(d, fn)
	}
	for _, opt := range opts {
		opt(lw)
	}
	return lw, nil
}

// Start launches the worker pool and arms the first scan. It must be
// called at most once.
func (lw *LazyWriter) Start(ctx context.Context) error {
	lw.mu.Lock()
	if lw.started {
		lw.mu.Unlock()
		return ErrAlreadyStarted
	}
	lw.started = true
	lw.mu.Unlock()

	lw.workers.start(lw.tunables.Workers)
	lw.ScheduleScan(false)
	return nil
}

// Stop stops accepting new work, wakes the worker pool, and waits for
// in-flight dispatches to finish or ctx to be canceled, whichever comes
// first.
func (lw *LazyWriter) Stop(ctx context.Context) error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	if lw.timer != nil {
		lw.timer.Stop()
	}
	lw.mu.Unlock()

	lw.workers.stop()

	done := make(chan struct{})
	go func() {
		lw.workers.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (lw *LazyWriter) logExpected(ee *ExpectedError) {
	lw.logger("warn", "collaborator reported an expected error", "op", ee.Op, "err", ee.Err.Error())
}

// RegisterStream adds a stream to the dirty-stream inventory under the id
// given, creating it with zero dirty pages if it does not already exist.
// It is idempotent for an id already registered.
func (lw *LazyWriter) RegisterStream(id string) *StreamDescriptor {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if s, ok := lw.streams[id]; ok {
		return s
	}
	s := NewStreamDescriptor(id)
	lw.streams[id] = s
	lw.inv.insert(s)
	return s
}

// UnregisterStream removes a stream from the inventory. It is a no-op if
// the id is not registered.
func (lw *LazyWriter) UnregisterStream(id string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	s, ok := lw.streams[id]
	if !ok {
		return
	}
	lw.totalDirtyPages = satSub(lw.totalDirtyPages, s.DirtyPages)
	lw.inv.remove(s)
	delete(lw.streams, id)
}

// MarkDirty increments a stream's dirty page count (registering it first if
// necessary) and total_dirty_pages, and, if the scheduler is currently
// idle, arms the scan (with first_delay, as for any idle->active arm) so the
// new dirty pages are picked up.
func (lw *LazyWriter) MarkDirty(id string, pages int64) {
	lw.mu.Lock()
	s, ok := lw.streams[id]
	if !ok {
		s = NewStreamDescriptor(id)
		lw.streams[id] = s
		lw.inv.insert(s)
	}
	s.DirtyPages += pages
	lw.totalDirtyPages += pages
	lw.otherWork = true
	needArm := !lw.scanActive
	if needArm {
		lw.armScanLocked(false)
	}
	lw.mu.Unlock()

	lw.metrics.DirtyPages(lw.snapshotDirtyPages())
}

func (lw *LazyWriter) snapshotDirtyPages() int64 {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.totalDirtyPages
}

// SetOpenCount updates a stream's open handle count, used by the
// eligibility predicate's lazy-close case.
func (lw *LazyWriter) SetOpenCount(id string, n int64) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if s, ok := lw.streams[id]; ok {
		s.OpenCount = n
	}
}

// SetWaitingForTeardown marks or clears a stream's teardown flag.
func (lw *LazyWriter) SetWaitingForTeardown(id string, waiting bool) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	s, ok := lw.streams[id]
	if !ok {
		return
	}
	if waiting {
		s.Flags |= flagWaitingForTeardown
	} else {
		s.Flags &^= flagWaitingForTeardown
	}
}

// DirtyPages returns the current total_dirty_pages.
func (lw *LazyWriter) DirtyPages() int64 { return lw.snapshotDirtyPages() }

// PostReadAhead enqueues a speculative prefetch job for target, which is
// passed to the collaborator's ReadAhead method verbatim. It returns
// ErrInsufficientResources if the entry pool is exhausted and ErrClosed
// once Stop has completed.
func (lw *LazyWriter) PostReadAhead(target any, express bool) error {
	lw.mu.Lock()
	closed := lw.closed
	lw.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e, ok := lw.pool.TryGet()
	if !ok {
		return ErrInsufficientResources
	}
	e.kind = entryReadAhead
	e.readAheadTarget = target
	if express {
		lw.workers.post(e, lw.workers.express)
	} else {
		lw.workers.post(e, lw.workers.regular)
	}
	return nil
}

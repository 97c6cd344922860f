package lazywriter

import (
	"context"
	"sync"

	"github.com/marmos91/lazywriter/internal/telemetry"
)

// workerPool is spec.md's [WORKERPOOL]: a fixed number of goroutines that
// drain express strictly before regular, requeue on the collaborator's
// request, and throttle to a single active worker while an EventSet entry
// sits at a queue's head so that a barrier only fires once every write
// dispatched before it has actually completed.
//
// mu is the work-queue lock. It is a distinct lock from the LazyWriter's
// master lock (lw.mu). The pool never takes lw.mu while holding mu; the
// scan's walkAndDispatch calls post with lw.mu held, so where both are held
// lw.mu is always taken first.
type workerPool struct {
	lw *LazyWriter

	mu      sync.Mutex
	cond    *sync.Cond
	express *fifoQueue
	regular *fifoQueue

	idleCount     int
	activeCount   int
	queueThrottle bool

	closed bool
	wg     sync.WaitGroup
}

func newWorkerPool(lw *LazyWriter) *workerPool {
	wp := &workerPool{
		lw:      lw,
		express: &fifoQueue{},
		regular: &fifoQueue{},
	}
	wp.cond = sync.NewCond(&wp.mu)
	return wp
}

func (wp *workerPool) start(n int) {
	wp.wg.Add(n)
	for i := 0; i < n; i++ {
		go wp.run()
	}
}

// stop marks the pool closed and wakes every idle worker so it observes
// the drained-and-closed condition and exits. It does not wait for
// in-flight dispatches; callers wanting that use lw.Stop's WaitGroup join.
func (wp *workerPool) stop() {
	wp.mu.Lock()
	wp.closed = true
	wp.mu.Unlock()
	wp.cond.Broadcast()
}

func (wp *workerPool) wait() { wp.wg.Wait() }

// post enqueues e onto q and wakes an idle worker unless the pool is
// currently throttled to a single active worker.
func (wp *workerPool) post(e *entry, q *fifoQueue) {
	wp.mu.Lock()
	q.pushTail(e)
	depth := q.len()
	throttled := wp.queueThrottle
	wp.mu.Unlock()

	name := QueueRegular
	if q == wp.express {
		name = QueueExpress
	}
	wp.lw.metrics.QueueDepth(name, depth)

	if !throttled {
		wp.cond.Signal()
	}
}

// pickLocked selects the next entry to run, express first. It returns
// (nil, nil) if there is nothing runnable right now, either because both
// queues are empty or because the only runnable head is an EventSet that
// must wait for other active workers to drain first. The caller must hold
// wp.mu.
func (wp *workerPool) pickLocked() (*fifoQueue, *entry) {
	for _, q := range [2]*fifoQueue{wp.express, wp.regular} {
		head := q.peekHead()
		if head == nil {
			continue
		}
		if head.kind == entryEventSet && wp.activeCount > 0 {
			wp.queueThrottle = true
			continue
		}
		q.popHead()
		wp.activeCount++
		return q, head
	}
	return nil, nil
}

// next blocks until an entry is runnable or the pool is closed and
// drained, in which case it returns (nil, nil).
func (wp *workerPool) next() (*fifoQueue, *entry) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	for {
		if q, e := wp.pickLocked(); e != nil {
			return q, e
		}
		if wp.closed {
			return nil, nil
		}
		wp.idleCount++
		wp.lw.metrics.WorkerIdle(wp.idleCount)
		wp.cond.Wait()
		wp.idleCount--
	}
}

func (wp *workerPool) run() {
	defer wp.wg.Done()
	for {
		srcQueue, e := wp.next()
		if e == nil {
			return
		}

		rescan := wp.dispatch(e)

		wp.mu.Lock()
		wp.activeCount--
		if wp.queueThrottle && wp.activeCount == 0 {
			wp.queueThrottle = false
		}
		requeue := e.requeue
		if requeue {
			srcQueue.pushTail(e)
		}
		// A rescan only fires when this worker is about to go idle (no
		// more work waiting in either queue), mirroring CcWorkerThread's
		// "No more work" check, not after every qualifying dispatch.
		noMoreWork := wp.express.peekHead() == nil && wp.regular.peekHead() == nil
		wp.lw.metrics.WorkerActive(wp.activeCount)
		wp.cond.Broadcast()
		wp.mu.Unlock()

		if !requeue {
			wp.lw.pool.Put(e)
		}
		if rescan && noMoreWork {
			if se, ok := wp.lw.pool.TryGet(); ok {
				se.kind = entryLazyWriteScan
				wp.dispatch(se)
				wp.lw.pool.Put(se)
			}
		}
	}
}

// dispatch runs one entry to completion, recovering from an *ExpectedError
// panic (logging it and continuing) while letting any other panic value
// propagate and crash the process per spec.md §7's bug-check policy. Every
// path that can raise a panic — including the tail-of-worker rescan, which
// run() drives through a synthetic entryLazyWriteScan entry rather than
// calling runScan directly — goes through this one catch-all filter. It
// reports whether a successful WriteBehind should trigger a synchronous
// rescan before this worker goes idle again.
func (wp *workerPool) dispatch(e *entry) (rescan bool) {
	defer func() {
		if r := recover(); r != nil {
			if ee, ok := expected(r); ok {
				wp.lw.logExpected(ee)
				return
			}
			wp.lw.logger("error", "unexpected panic in lazy-writer worker", "recovered", r)
			panic(r)
		}
	}()

	ctx := context.Background()
	switch e.kind {
	case entryReadAhead:
		ctx, span := telemetry.StartReadAheadSpan(ctx)
		wp.lw.collaborator.ReadAhead(ctx, e.readAheadTarget)
		span.End()
	case entryWriteBehind:
		ctx, span := telemetry.StartWriteBehindSpan(ctx, e.stream.ID)
		status := wp.lw.collaborator.WriteBehind(ctx, e.stream)
		e.requeue = status.Requeue
		rescan = wp.lw.finishWriteBehind(e.stream, status)
		telemetry.SetAttributes(ctx, telemetry.PagesWritten(status.PagesWritten), telemetry.Requeue(status.Requeue))
		if status.Err != nil {
			telemetry.RecordError(ctx, status.Err)
		}
		span.End()
	case entryEventSet:
		e.event.Set()
	case entryLazyWriteScan:
		wp.lw.runScan(ctx)
	}
	return rescan
}

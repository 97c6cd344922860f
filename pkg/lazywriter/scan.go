package lazywriter

import (
	"context"
	"time"

	"github.com/marmos91/lazywriter/internal/telemetry"
)

// finishWriteBehind applies a WriteBehind job's outcome to the stream and
// the master-lock-protected globals, and decides whether the worker that
// just finished should trigger a synchronous rescan before going idle
// again (spec.md §4.3's tail-of-worker rescan) instead of waiting for the
// next scheduled tick.
func (lw *LazyWriter) finishWriteBehind(s *StreamDescriptor, status IOStatus) bool {
	if status.Requeue {
		lw.metrics.WriteBehind(WriteRequeue)
		return false
	}

	lw.mu.Lock()
	s.Flags &^= flagWriteQueued
	success := status.Err == nil
	if success {
		s.DirtyPages = satSub(s.DirtyPages, status.PagesWritten)
		lw.totalDirtyPages = satSub(lw.totalDirtyPages, status.PagesWritten)
	}
	total := lw.totalDirtyPages
	lw.mu.Unlock()

	if success {
		lw.metrics.WriteBehind(WriteSuccess)
		lw.metrics.PagesWritten(status.PagesWritten)
	} else {
		lw.metrics.WriteBehind(WriteError)
		lw.logger("warn", "write_behind failed", "stream", s.ID, "err", status.Err.Error())
	}

	if !success || total < lw.tunables.RescanThresholdPages {
		return false
	}
	return !lw.collaborator.DeferredWritesEmpty()
}

// runScan performs one tick of spec.md's [SCAN]: it decides whether the
// system is quiescent, computes a page budget from the current dirtying
// rate, walks the dirty-stream inventory dispatching WriteBehind jobs for
// every eligible stream up to that budget, moves the cursor to mark where
// the next tick resumes, drains the post-tick barrier queue into regular,
// pokes deferred writes, and reschedules itself.
func (lw *LazyWriter) runScan(ctx context.Context) {
	started := time.Now()
	outcome := ScanDispatched
	ctx, span := telemetry.StartScanSpan(ctx)
	defer func() {
		lw.metrics.ScanDuration(time.Since(started))
		lw.metrics.ScanTick(outcome)
		telemetry.SetAttributes(ctx, telemetry.ScanOutcome(string(outcome)))
		span.End()
	}()

	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return
	}

	if lw.totalDirtyPages == 0 && !lw.otherWork {
		quiet := lw.collaborator.DeferredWritesEmpty()
		if quiet {
			lw.scanActive = false
			lw.mu.Unlock()
			outcome = ScanQuiesced
			return
		}
		lw.mu.Unlock()
		lw.collaborator.PostDeferredWrites(ctx)
		lw.ScheduleScan(false)
		outcome = ScanQuiesced
		return
	}

	pagesToWrite := lw.totalDirtyPages
	if lw.totalDirtyPages > lw.tunables.AgeTarget {
		pagesToWrite = lw.totalDirtyPages / lw.tunables.AgeTarget
	}

	foregroundRate := satSub(lw.totalDirtyPages+lw.pagesWrittenLastTime, lw.dirtyPagesLastScan)
	estimatedNext := satSub(lw.totalDirtyPages, pagesToWrite) + foregroundRate
	if estimatedNext > lw.tunables.DirtyPageTarget {
		pagesToWrite += estimatedNext - lw.tunables.DirtyPageTarget
	}

	lw.dirtyPagesLastScan = lw.totalDirtyPages
	lw.pagesYetToWrite = pagesToWrite
	lw.pagesWrittenLastTime = pagesToWrite
	lw.otherWork = false

	barrierEntries := lw.postTickQueue
	lw.postTickQueue = nil

	lw.metrics.DirtyPages(lw.totalDirtyPages)
	lw.metrics.DirtyPageTarget(lw.tunables.DirtyPageTarget)
	telemetry.SetAttributes(ctx, telemetry.DirtyPages(lw.totalDirtyPages), telemetry.PagesToWrite(pagesToWrite))

	lw.walkAndDispatch(ctx, pagesToWrite, &outcome)

	lw.mu.Unlock()

	if len(barrierEntries) > 0 {
		lw.workers.mu.Lock()
		lw.workers.regular.spliceTail(barrierEntries)
		throttled := lw.workers.queueThrottle
		lw.workers.mu.Unlock()
		if !throttled {
			lw.workers.cond.Signal()
		}
	}

	lw.collaborator.PostDeferredWrites(ctx)
	lw.ScheduleScan(false)
}

// walkAndDispatch is the inventory-walk half of runScan (spec.md §4.2
// steps 1-7). The caller must hold lw.mu on entry; walkAndDispatch may
// release and reacquire it (for lock courtesy and for the alloc-and-post
// dance around a WriteBehind dispatch) but always returns with it held.
func (lw *LazyWriter) walkAndDispatch(ctx context.Context, budget int64, outcome *ScanOutcome) {
	allocFailed := false
	alreadyMoved := false
	skipStreak := 0
	firstVisited := lw.inv.cursor.next
	smallSystem := lw.tunables.smallSystem()

	lw.inv.walk(func(s *StreamDescriptor) bool {
		if allocFailed {
			return false
		}

		if s.Flags.has(flagWriteQueued) {
			// lazyrite.c:338's courtesy release excludes WRITE_QUEUED (and
			// the cursor) even once the skip-streak threshold is hit,
			// since another worker may be flushing this stream right now.
			skipStreak++
			return true
		}

		eligible, teardown := lw.eligible(s, budget, smallSystem)
		if !eligible {
			skipStreak++
			lw.lockCourtesy(&skipStreak, s)
			return true
		}
		skipStreak = 0

		s.PagesToWrite = s.DirtyPages
		if s.Flags.has(flagModifiedWriteDisabled) && s.DirtyPages >= 4*lw.tunables.MaxWriteBehindPages && !smallSystem {
			s.PagesToWrite = s.DirtyPages / lw.tunables.MetadataDivisor
		}

		if !alreadyMoved {
			if s.PagesToWrite >= budget {
				if s.Flags.has(flagModifiedWriteDisabled) ||
					(s == firstVisited && (s.lazyWritePassCount&lw.tunables.PassCountMask) == 0) {
					lw.inv.moveCursorAfter(s)
				} else {
					lw.inv.moveCursorBefore(s)
				}
				budget = 0
				alreadyMoved = true
			} else {
				budget -= s.PagesToWrite
			}
		}

		s.Flags |= flagWriteQueued
		s.DirtyPages++ // pin: keep the stream ineligible for a second concurrent dispatch
		wantExpress := teardown

		lw.mu.Unlock()
		e, ok := lw.pool.TryGet()
		lw.mu.Lock()

		s.DirtyPages-- // unpin

		if !ok {
			s.Flags &^= flagWriteQueued
			allocFailed = true
			*outcome = ScanAllocFailed
			return false
		}

		e.kind = entryWriteBehind
		e.stream = s
		if wantExpress {
			lw.workers.post(e, lw.workers.express)
		} else {
			lw.workers.post(e, lw.workers.regular)
		}
		return true
	})
}

// lockCourtesy releases and immediately reacquires the master lock every
// LockCourtesy consecutive inspections that dispatched nothing, so a long
// scan does not starve another goroutine waiting on the master lock. s is
// pinned across the release so it cannot be freed out from under the walk.
func (lw *LazyWriter) lockCourtesy(streak *int, s *StreamDescriptor) {
	if *streak < lw.tunables.LockCourtesy {
		return
	}
	*streak = 0
	s.DirtyPages++
	lw.mu.Unlock()
	lw.mu.Lock()
	s.DirtyPages--
}

// eligible implements spec.md §4.2 step 2's eligibility predicate exactly
// as stated, preserving the (open==0 && dirty==0) || size==0 reading of the
// zero-size-file clause. It reports both eligibility and whether the
// resulting dispatch should use the express queue.
func (lw *LazyWriter) eligible(s *StreamDescriptor, budget int64, smallSystem bool) (ok, teardown bool) {
	if s.DirtyPages > 0 && s.Flags.has(flagWaitingForTeardown) {
		return true, true
	}

	if s.DirtyPages > 0 && budget > 0 {
		s.lazyWritePassCount++
		passGate := (s.lazyWritePassCount&lw.tunables.PassCountMask) == 0 ||
			!s.Flags.has(flagModifiedWriteDisabled) ||
			smallSystem ||
			s.DirtyPages >= 4*lw.tunables.MaxWriteBehindPages

		tempGate := !s.Flags.has(flagTemporaryFile) ||
			s.OpenCount == 0 ||
			!lw.collaborator.CanIWrite(context.Background(), s.ID, int(lw.tunables.MaxWriteBehindPages), false, 0)

		if passGate && tempGate {
			return true, false
		}
	}

	if s.OpenCount == 0 && s.DirtyPages == 0 {
		return true, false
	}

	if s.FileSize == 0 {
		return true, false
	}

	return false, false
}

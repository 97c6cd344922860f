package lazywriter

// armScanLocked arms the scan timer, marking scan_active before the timer
// is set so that a racing scan cannot observe active=false while a tick is
// already in flight. The caller must hold lw.mu.
//
// fast selects no_delay (used only by the WaitForCurrentActivity barrier;
// the end of a tick re-arms with fast=false); otherwise the timer uses idle_delay, except when this call
// is transitioning the scan from idle to active, which uses first_delay —
// every idle->active transition gets the longer delay, not just the first
// one in the process's lifetime.
func (lw *LazyWriter) armScanLocked(fast bool) {
	if lw.closed {
		return
	}
	wasIdle := !lw.scanActive
	lw.scanActive = true

	delay := lw.tunables.IdleDelay
	switch {
	case fast:
		delay = lw.tunables.NoDelay
	case wasIdle:
		delay = lw.tunables.FirstDelay
	}

	if lw.timer != nil {
		lw.timer.Stop()
	}
	lw.timer = lw.newTimerFunc(delay, lw.scanTimerFires)
}

// ScheduleScan is the externally callable form of spec.md's schedule_scan:
// it acquires the master lock itself before arming, so callers must not
// already hold it.
func (lw *LazyWriter) ScheduleScan(fast bool) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.armScanLocked(fast)
}

// scanTimerFires is spec.md's scan_timer_fires: it allocates a
// LazyWriteScan job and posts it to the regular queue. If the entry pool is
// exhausted it clears scan_active and gives up on this tick entirely — the
// next event that calls ScheduleScan (a dirty-page notification or a
// barrier) will re-arm it.
func (lw *LazyWriter) scanTimerFires() {
	e, ok := lw.pool.TryGet()
	if !ok {
		lw.metrics.ScanTick(ScanAllocFailed)
		lw.mu.Lock()
		lw.scanActive = false
		lw.mu.Unlock()
		return
	}
	e.kind = entryLazyWriteScan
	lw.workers.post(e, lw.workers.regular)
}

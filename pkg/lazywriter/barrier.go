package lazywriter

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/lazywriter/internal/telemetry"
)

// event is a one-shot latch: Set closes the underlying channel exactly
// once, and Wait blocks until it does or ctx is canceled. It backs both
// worker-pool EventSet entries and [LazyWriter.WaitForCurrentActivity].
type event struct {
	ch   chan struct{}
	once sync.Once
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.once.Do(func() { close(e.ch) })
}

func (e *event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForCurrentActivity implements spec.md's [BARRIER]: it posts an
// EventSet entry to post_tick_queue and blocks until a scan tick's worker
// dispatch fires it, guaranteeing every WriteBehind job dispatched before
// this call was observed by a worker before Wait returns. It returns
// ErrInsufficientResources if the entry pool is exhausted, and the ctx
// error if ctx is canceled before the event fires.
func (lw *LazyWriter) WaitForCurrentActivity(ctx context.Context) error {
	ctx, span := telemetry.StartBarrierSpan(ctx)
	defer span.End()

	e, ok := lw.pool.TryGet()
	if !ok {
		telemetry.RecordError(ctx, ErrInsufficientResources)
		return ErrInsufficientResources
	}
	e.kind = entryEventSet
	ev := newEvent()
	e.event = ev

	start := lw.now()

	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		lw.pool.Put(e)
		return ErrClosed
	}
	lw.postTickQueue = append(lw.postTickQueue, e)
	lw.otherWork = true
	if !lw.scanActive {
		lw.armScanLocked(true)
	}
	lw.mu.Unlock()

	err := ev.Wait(ctx)
	lw.metrics.BarrierWait(lw.now().Sub(start))
	return err
}

func (lw *LazyWriter) now() time.Time { return time.Now() }

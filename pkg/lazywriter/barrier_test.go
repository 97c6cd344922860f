package lazywriter

import (
	"context"
	"testing"
	"time"
)

func TestWaitForCurrentActivityFiresAfterScan(t *testing.T) {
	fc := newFakeCollaborator()
	lw := newTestLazyWriter(t, fc, func(tn *Tunables) {
		tn.Workers = 1
		tn.NoDelay = time.Millisecond
		tn.FirstDelay = time.Millisecond
		tn.IdleDelay = time.Millisecond
	})
	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lw.WaitForCurrentActivity(context.Background())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForCurrentActivity returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for the barrier to fire")
	}
}

func TestWaitForCurrentActivityRespectsContextCancellation(t *testing.T) {
	fc := newFakeCollaborator()
	lw := newTestLazyWriter(t, fc, func(tn *Tunables) {
		tn.Workers = 1
		tn.IdleDelay = time.Hour
		tn.FirstDelay = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- lw.WaitForCurrentActivity(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation to unblock the barrier")
	}
}

func TestWaitForCurrentActivityAfterCloseReturnsErrClosed(t *testing.T) {
	fc := newFakeCollaborator()
	lw := newTestLazyWriter(t, fc, nil)
	if err := lw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := lw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := lw.WaitForCurrentActivity(context.Background()); err != ErrClosed {
		t.Fatalf("WaitForCurrentActivity after Stop = %v, want ErrClosed", err)
	}
}

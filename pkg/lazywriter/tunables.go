package lazywriter

import (
	"fmt"
	"time"
)

// Tunables holds every knob spec.md names for the scheduler and scan
// algorithm. Values are validated by [Tunables.Validate] and are normally
// decoded from pkg/config.
type Tunables struct {
	// FirstDelay is the delay used whenever a non-fast arm moves the scan
	// from idle to active (Start, and a MarkDirty after the scan went idle).
	FirstDelay time.Duration
	// IdleDelay is the delay used for a non-fast re-arm while the scan is
	// already active, such as the reschedule at the end of every tick.
	IdleDelay time.Duration
	// NoDelay is the delay used for a fast arm, which only
	// WaitForCurrentActivity requests, so a barrier's scan runs promptly.
	NoDelay time.Duration

	// DirtyPageTarget is the steady-state number of dirty pages the scan
	// tries to keep the system at or below.
	DirtyPageTarget int64
	// MaxWriteBehindPages sets the oversize threshold (4x this value) at
	// which a MODIFIED_WRITE_DISABLED stream passes the pass gate and has
	// its PagesToWrite divided by MetadataDivisor, and is the threshold
	// passed to CanIWrite. It does not cap PagesToWrite for other streams.
	MaxWriteBehindPages int64
	// SmallSystemThreshold: DirtyPageTarget at or below this value is
	// treated as a small system for pass-gate and metadata-divisor
	// purposes (spec.md has no notion of querying installed memory; this
	// substitutes for it).
	SmallSystemThreshold int64

	// PassCountMask gates how often a MODIFIED_WRITE_DISABLED stream is
	// revisited; a stream's lazy_write_pass_count is incremented on each
	// eligibility check that finds dirty pages and budget remaining (and no
	// teardown), and gated with this mask (0xF flushes every 16th pass).
	PassCountMask uint32
	// LockCourtesy is how many consecutive skipped inspections the scan
	// tolerates before releasing and reacquiring the master lock.
	LockCourtesy int
	// AgeTarget divides total_dirty_pages to produce the per-tick budget.
	AgeTarget int64
	// MetadataDivisor divides dirty_pages for oversized
	// MODIFIED_WRITE_DISABLED streams instead of flushing them whole.
	MetadataDivisor int64
	// RescanThresholdPages is the total_dirty_pages floor at or above which
	// a worker that just finished a successful write, while deferred writes
	// are pending and both queues are empty, runs a synchronous rescan
	// before going idle.
	RescanThresholdPages int64

	// Workers is the worker pool's fixed capacity.
	Workers int
	// QueueCapacity bounds the entry pool, modeling the fixed allocation
	// arena spec.md describes; TryGet reports failure once it is
	// exhausted rather than growing without bound.
	QueueCapacity int
}

// DefaultTunables returns the values spec.md gives as illustrative defaults.
func DefaultTunables() Tunables {
	return Tunables{
		FirstDelay:           4 * time.Second,
		IdleDelay:            1 * time.Second,
		NoDelay:              0,
		DirtyPageTarget:      1000,
		MaxWriteBehindPages:  32,
		SmallSystemThreshold: 256,
		PassCountMask:        0xF,
		LockCourtesy:         20,
		AgeTarget:            8,
		MetadataDivisor:      8,
		RescanThresholdPages: 20,
		Workers:              4,
		QueueCapacity:        4096,
	}
}

// Validate returns an error describing the first tunable found outside its
// legal range.
func (t Tunables) Validate() error {
	switch {
	case t.DirtyPageTarget <= 0:
		return fmt.Errorf("lazywriter: DirtyPageTarget must be positive, got %d", t.DirtyPageTarget)
	case t.MaxWriteBehindPages <= 0:
		return fmt.Errorf("lazywriter: MaxWriteBehindPages must be positive, got %d", t.MaxWriteBehindPages)
	case t.AgeTarget <= 0:
		return fmt.Errorf("lazywriter: AgeTarget must be positive, got %d", t.AgeTarget)
	case t.MetadataDivisor <= 0:
		return fmt.Errorf("lazywriter: MetadataDivisor must be positive, got %d", t.MetadataDivisor)
	case t.LockCourtesy <= 0:
		return fmt.Errorf("lazywriter: LockCourtesy must be positive, got %d", t.LockCourtesy)
	case t.Workers <= 0:
		return fmt.Errorf("lazywriter: Workers must be positive, got %d", t.Workers)
	case t.QueueCapacity <= 0:
		return fmt.Errorf("lazywriter: QueueCapacity must be positive, got %d", t.QueueCapacity)
	case t.FirstDelay < 0 || t.IdleDelay < 0 || t.NoDelay < 0:
		return fmt.Errorf("lazywriter: delays must not be negative")
	}
	return nil
}

// smallSystem reports whether the configured target puts this instance in
// the small-system regime spec.md's eligibility predicate refers to.
func (t Tunables) smallSystem() bool {
	return t.DirtyPageTarget <= t.SmallSystemThreshold
}

// satSub is subtraction saturating at zero, closing the unsigned-underflow
// Open Question in spec.md's budget math (a - b can be negative in the
// original pseudocode's signed intent but must never wrap when ported to an
// unsigned page count).
func satSub(a, b int64) int64 {
	if b > a {
		return 0
	}
	return a - b
}

package lazywriter

import "time"

// ScanOutcome classifies how one scan tick ended, for the
// lazywriter_scan_ticks_total counter.
type ScanOutcome string

const (
	ScanDispatched  ScanOutcome = "dispatched"
	ScanQuiesced    ScanOutcome = "quiesced"
	ScanAllocFailed ScanOutcome = "alloc_failed"
)

// WriteResult classifies a worker's WriteBehind dispatch outcome, for the
// lazywriter_writebehind_total counter.
type WriteResult string

const (
	WriteSuccess WriteResult = "success"
	WriteRequeue WriteResult = "requeue"
	WriteError   WriteResult = "error"
)

// QueueName identifies one of the three work queues for per-queue metrics.
type QueueName string

const (
	QueueExpress  QueueName = "express"
	QueueRegular  QueueName = "regular"
	QueuePostTick QueueName = "post_tick"
)

// Metrics is the telemetry sink a [LazyWriter] reports to. Every method is
// called unconditionally from the hot path, without a nil check. New
// installs [NopMetrics] unless [WithMetrics] supplies another sink, and
// pkg/metrics.New returns NopMetrics when metrics collection is disabled.
// A nil Metrics value is not replaced by the default, and calling through
// it panics.
type Metrics interface {
	DirtyPages(n int64)
	DirtyPageTarget(n int64)
	ScanDuration(d time.Duration)
	ScanTick(outcome ScanOutcome)
	PagesWritten(n int64)
	QueueDepth(name QueueName, depth int)
	WorkerIdle(n int)
	WorkerActive(n int)
	BarrierWait(d time.Duration)
	WriteBehind(result WriteResult)
}

// NopMetrics is a [Metrics] implementation whose methods do nothing. It is
// the default used by New when no metrics sink is supplied.
type NopMetrics struct{}

func (NopMetrics) DirtyPages(int64)             {}
func (NopMetrics) DirtyPageTarget(int64)        {}
func (NopMetrics) ScanDuration(time.Duration)   {}
func (NopMetrics) ScanTick(ScanOutcome)         {}
func (NopMetrics) PagesWritten(int64)           {}
func (NopMetrics) QueueDepth(QueueName, int)    {}
func (NopMetrics) WorkerIdle(int)               {}
func (NopMetrics) WorkerActive(int)             {}
func (NopMetrics) BarrierWait(time.Duration)    {}
func (NopMetrics) WriteBehind(WriteResult)      {}

package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so fields line up across the daemon's log
// stream regardless of which component emitted them.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyOperation  = "operation"   // Sub-operation type for complex operations

	// ========================================================================
	// Lazy Writer
	// ========================================================================
	KeyStreamID       = "stream_id"        // Stream descriptor identifier
	KeyDirtyPages     = "dirty_pages"      // total_dirty_pages or a stream's dirty_pages
	KeyPagesToWrite   = "pages_to_write"   // computed per-tick budget or per-stream target
	KeyPagesWritten   = "pages_written"    // pages actually flushed by a WriteBehind call
	KeyQueueName      = "queue"            // express, regular, or post_tick
	KeyQueueDepth     = "queue_depth"      // entries currently queued
	KeyWorkerState    = "worker_state"     // idle or active
	KeyScanOutcome    = "scan_outcome"     // dispatched, quiesced, or alloc_failed
	KeyBarrierWaitMs  = "barrier_wait_ms"  // time from wait_for_current_activity to fire
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// StreamID returns a slog.Attr for a stream descriptor identifier
func StreamID(id string) slog.Attr {
	return slog.String(KeyStreamID, id)
}

// DirtyPages returns a slog.Attr for a dirty page count
func DirtyPages(n int64) slog.Attr {
	return slog.Int64(KeyDirtyPages, n)
}

// PagesToWrite returns a slog.Attr for a per-tick or per-stream page budget
func PagesToWrite(n int64) slog.Attr {
	return slog.Int64(KeyPagesToWrite, n)
}

// PagesWritten returns a slog.Attr for pages actually flushed
func PagesWritten(n int64) slog.Attr {
	return slog.Int64(KeyPagesWritten, n)
}

// QueueName returns a slog.Attr identifying which work queue is meant
func QueueName(name string) slog.Attr {
	return slog.String(KeyQueueName, name)
}

// QueueDepth returns a slog.Attr for the number of entries queued
func QueueDepth(n int) slog.Attr {
	return slog.Int(KeyQueueDepth, n)
}

// WorkerState returns a slog.Attr for a worker pool occupancy state
func WorkerState(state string) slog.Attr {
	return slog.String(KeyWorkerState, state)
}

// ScanOutcome returns a slog.Attr for how a scan tick ended
func ScanOutcome(outcome string) slog.Attr {
	return slog.String(KeyScanOutcome, outcome)
}

// BarrierWaitMs returns a slog.Attr for barrier wait latency in milliseconds
func BarrierWaitMs(ms float64) slog.Attr {
	return slog.Float64(KeyBarrierWaitMs, ms)
}

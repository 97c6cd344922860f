package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for lazy writer spans. These follow OpenTelemetry semantic
// convention style (dotted, lowercase) scoped under the "lazywriter." prefix.
const (
	AttrOperation = "lazywriter.operation" // scan, write_behind, wait_for_current_activity, ...

	AttrStreamID     = "lazywriter.stream_id"
	AttrDirtyPages   = "lazywriter.dirty_pages"
	AttrPagesToWrite = "lazywriter.pages_to_write"
	AttrPagesWritten = "lazywriter.pages_written"
	AttrQueueName    = "lazywriter.queue"
	AttrQueueDepth   = "lazywriter.queue_depth"
	AttrScanOutcome  = "lazywriter.scan_outcome"
	AttrRequeue      = "lazywriter.requeue"
)

// Span names for lazy writer operations.
const (
	SpanScan                   = "lazywriter.scan"
	SpanWriteBehind            = "lazywriter.write_behind"
	SpanReadAhead              = "lazywriter.read_ahead"
	SpanWaitForCurrentActivity = "lazywriter.wait_for_current_activity"
)

// Operation returns an attribute naming the lazy writer operation a span covers.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// StreamID returns an attribute for a stream descriptor identifier.
func StreamID(id string) attribute.KeyValue {
	return attribute.String(AttrStreamID, id)
}

// DirtyPages returns an attribute for a dirty page count.
func DirtyPages(n int64) attribute.KeyValue {
	return attribute.Int64(AttrDirtyPages, n)
}

// PagesToWrite returns an attribute for a computed per-tick or per-stream page budget.
func PagesToWrite(n int64) attribute.KeyValue {
	return attribute.Int64(AttrPagesToWrite, n)
}

// PagesWritten returns an attribute for pages actually flushed by a write-behind call.
func PagesWritten(n int64) attribute.KeyValue {
	return attribute.Int64(AttrPagesWritten, n)
}

// QueueName returns an attribute identifying which work queue a span concerns.
func QueueName(name string) attribute.KeyValue {
	return attribute.String(AttrQueueName, name)
}

// QueueDepth returns an attribute for the number of entries queued.
func QueueDepth(n int) attribute.KeyValue {
	return attribute.Int(AttrQueueDepth, n)
}

// ScanOutcome returns an attribute for how a scan tick ended.
func ScanOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrScanOutcome, outcome)
}

// Requeue returns an attribute for whether a write-behind result requested requeueing.
func Requeue(requeue bool) attribute.KeyValue {
	return attribute.Bool(AttrRequeue, requeue)
}

// StartScanSpan starts a span for a lazy writer scan tick.
func StartScanSpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation("scan")}, attrs...)
	return StartSpan(ctx, SpanScan, trace.WithAttributes(allAttrs...))
}

// StartWriteBehindSpan starts a span for a single stream's write-behind dispatch.
func StartWriteBehindSpan(ctx context.Context, streamID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation("write_behind"), StreamID(streamID)}, attrs...)
	return StartSpan(ctx, SpanWriteBehind, trace.WithAttributes(allAttrs...))
}

// StartReadAheadSpan starts a span for a read-ahead dispatch.
func StartReadAheadSpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation("read_ahead")}, attrs...)
	return StartSpan(ctx, SpanReadAhead, trace.WithAttributes(allAttrs...))
}

// StartBarrierSpan starts a span covering a WaitForCurrentActivity call.
func StartBarrierSpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation("wait_for_current_activity")}, attrs...)
	return StartSpan(ctx, SpanWaitForCurrentActivity, trace.WithAttributes(allAttrs...))
}

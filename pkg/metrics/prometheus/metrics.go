// Package prometheus implements lazywriter.Metrics with promauto-registered
// collectors, grounded on the teacher's pkg/metrics/prometheus package.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/lazywriter/pkg/lazywriter"
	"github.com/marmos91/lazywriter/pkg/metrics"
)

func init() {
	metrics.RegisterMetricsConstructor(newMetrics)
}

// lazyWriterMetrics is the Prometheus implementation of lazywriter.Metrics.
type lazyWriterMetrics struct {
	dirtyPages       prometheus.Gauge
	dirtyPageTarget  prometheus.Gauge
	scanDuration     prometheus.Histogram
	scanTicksTotal   *prometheus.CounterVec
	pagesWrittenTot  prometheus.Counter
	queueDepth       *prometheus.GaugeVec
	workerOccupancy  *prometheus.GaugeVec
	barrierWait      prometheus.Histogram
	writeBehindTotal *prometheus.CounterVec
}

// newMetrics builds a lazyWriterMetrics registered against the active
// registry. It must only be called when metrics.IsEnabled() is true.
func newMetrics() lazywriter.Metrics {
	reg := metrics.GetRegistry()

	return &lazyWriterMetrics{
		dirtyPages: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lazywriter_dirty_pages",
			Help: "Current total number of dirty pages tracked across all streams.",
		}),
		dirtyPageTarget: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "lazywriter_dirty_page_target",
			Help: "Configured steady-state dirty page target.",
		}),
		scanDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "lazywriter_scan_duration_milliseconds",
			Help: "Duration of a single scan tick, in milliseconds.",
			Buckets: []float64{
				0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000,
			},
		}),
		scanTicksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lazywriter_scan_ticks_total",
			Help: "Total number of scan ticks by outcome.",
		}, []string{"outcome"}),
		pagesWrittenTot: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "lazywriter_pages_written_total",
			Help: "Total number of pages successfully flushed by write-behind workers.",
		}),
		queueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "lazywriter_queue_depth",
			Help: "Current depth of a lazy writer work queue.",
		}, []string{"queue"}),
		workerOccupancy: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "lazywriter_worker_occupancy",
			Help: "Number of workers currently in a given state.",
		}, []string{"state"}),
		barrierWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "lazywriter_barrier_wait_milliseconds",
			Help: "Time WaitForCurrentActivity callers spent blocked, in milliseconds.",
			Buckets: []float64{
				0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000,
			},
		}),
		writeBehindTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "lazywriter_writebehind_total",
			Help: "Total number of write-behind dispatches by result.",
		}, []string{"result"}),
	}
}

func (m *lazyWriterMetrics) DirtyPages(n int64)      { m.dirtyPages.Set(float64(n)) }
func (m *lazyWriterMetrics) DirtyPageTarget(n int64) { m.dirtyPageTarget.Set(float64(n)) }

func (m *lazyWriterMetrics) ScanDuration(d time.Duration) {
	m.scanDuration.Observe(float64(d.Microseconds()) / 1000)
}

func (m *lazyWriterMetrics) ScanTick(outcome lazywriter.ScanOutcome) {
	m.scanTicksTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *lazyWriterMetrics) PagesWritten(n int64) {
	m.pagesWrittenTot.Add(float64(n))
}

func (m *lazyWriterMetrics) QueueDepth(name lazywriter.QueueName, depth int) {
	m.queueDepth.WithLabelValues(string(name)).Set(float64(depth))
}

func (m *lazyWriterMetrics) WorkerIdle(n int) {
	m.workerOccupancy.WithLabelValues("idle").Set(float64(n))
}

func (m *lazyWriterMetrics) WorkerActive(n int) {
	m.workerOccupancy.WithLabelValues("active").Set(float64(n))
}

func (m *lazyWriterMetrics) BarrierWait(d time.Duration) {
	m.barrierWait.Observe(float64(d.Microseconds()) / 1000)
}

func (m *lazyWriterMetrics) WriteBehind(result lazywriter.WriteResult) {
	m.writeBehindTotal.WithLabelValues(string(result)).Inc()
}

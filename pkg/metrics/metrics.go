// Package metrics owns the Prometheus registry lazywriterd exports on and
// the indirection that lets pkg/lazywriter stay ignorant of Prometheus: the
// concrete implementation lives in pkg/metrics/prometheus and registers
// itself here via RegisterMetricsConstructor, breaking what would otherwise
// be an import cycle between this package and its own prometheus
// subpackage.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/lazywriter/pkg/lazywriter"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry lazywriterd's HTTP handler serves. Calling it more than once
// replaces the registry, which only matters in tests.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// New returns a Prometheus-backed lazywriter.Metrics, or lazywriter.NopMetrics
// if metrics are not enabled. Callers never need to nil-check the result.
func New() lazywriter.Metrics {
	if !IsEnabled() {
		return lazywriter.NopMetrics{}
	}
	if newPrometheusMetrics == nil {
		return lazywriter.NopMetrics{}
	}
	return newPrometheusMetrics()
}

// newPrometheusMetrics is implemented in pkg/metrics/prometheus/metrics.go.
// The indirection avoids an import cycle while keeping New's signature
// independent of the concrete metrics backend.
var newPrometheusMetrics func() lazywriter.Metrics

// RegisterMetricsConstructor registers the Prometheus metrics constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterMetricsConstructor(constructor func() lazywriter.Metrics) {
	newPrometheusMetrics = constructor
}

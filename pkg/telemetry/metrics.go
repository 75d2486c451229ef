// Package telemetry exposes Prometheus collectors for fits and scratch memory.
//
// Collectors are created unregistered; call Register with the registerer of
// the hosting service. Recording on an unregistered Metrics is harmless.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qnglm"

// Fit outcomes used as the "status" label.
const (
	StatusConverged    = "converged"
	StatusMaxIter      = "max_iter"
	StatusFailed       = "failed"
	StatusPrecondition = "precondition"
)

// Metrics groups the collectors updated by glm and core/device.
type Metrics struct {
	fits          *prometheus.CounterVec
	iterations    *prometheus.HistogramVec
	fitDuration   *prometheus.HistogramVec
	predictions   *prometheus.CounterVec
	scratchInUse  prometheus.Gauge
	scratchAllocs prometheus.Counter
}

// NewMetrics creates a fresh set of collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fits_total",
				Help:      "Number of quasi-Newton fits by loss and outcome",
			},
			[]string{"loss", "status"},
		),
		iterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_iterations",
				Help:      "Outer solver iterations per fit",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
			[]string{"loss"},
		),
		fitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Wall time of a fit measured on the stream",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"loss"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predicted_samples_total",
				Help:      "Number of samples passed through the prediction path",
			},
			[]string{"loss"},
		),
		scratchInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scratch_bytes_in_use",
				Help:      "Bytes of scratch buffers currently handed out by the allocator",
			},
		),
		scratchAllocs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scratch_allocations_total",
				Help:      "Number of scratch buffer allocations",
			},
		),
	}
}

// Collectors returns every collector, for registration or tests.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.fits, m.iterations, m.fitDuration, m.predictions, m.scratchInUse, m.scratchAllocs,
	}
}

// Register registers all collectors on r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordFit records the outcome of one fit.
func (m *Metrics) RecordFit(loss, status string, iterations int, d time.Duration) {
	if m == nil {
		return
	}
	m.fits.WithLabelValues(loss, status).Inc()
	if status == StatusPrecondition {
		return
	}
	m.iterations.WithLabelValues(loss).Observe(float64(iterations))
	m.fitDuration.WithLabelValues(loss).Observe(d.Seconds())
}

// RecordPredict counts predicted samples.
func (m *Metrics) RecordPredict(loss string, samples int) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(loss).Add(float64(samples))
}

// ScratchAllocated tracks a buffer handed out by the allocator.
func (m *Metrics) ScratchAllocated(bytes int64) {
	if m == nil {
		return
	}
	m.scratchAllocs.Inc()
	m.scratchInUse.Add(float64(bytes))
}

// ScratchReleased tracks a buffer returned to the allocator.
func (m *Metrics) ScratchReleased(bytes int64) {
	if m == nil {
		return
	}
	m.scratchInUse.Sub(float64(bytes))
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics, registered on
// prometheus.DefaultRegisterer on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
		_ = defaultMetrics.Register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

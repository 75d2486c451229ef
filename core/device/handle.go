// Package device models the execution context used by glm: a scratch
// allocator and an ordered execution stream. Numeric work queued on a stream
// runs on the CPU through gonum and core/parallel.
package device

import (
	"runtime"

	"github.com/YuminosukeSato/qnglm/pkg/log"
	"github.com/YuminosukeSato/qnglm/pkg/telemetry"
)

// Handle is the execution context passed to every fit and predict call.
type Handle struct {
	allocator Allocator
	stream    *Stream
	workers   int
	metrics   *telemetry.Metrics
	logger    log.Logger

	memoryLimit int64
}

// Option configures a Handle.
type Option func(*Handle)

// WithAllocator replaces the default pooled allocator.
func WithAllocator(a Allocator) Option {
	return func(h *Handle) {
		h.allocator = a
	}
}

// WithMemoryLimit caps the scratch bytes of the default allocator.
func WithMemoryLimit(bytes int64) Option {
	return func(h *Handle) {
		h.memoryLimit = bytes
	}
}

// WithWorkers sets the number of goroutines used by numeric kernels.
func WithWorkers(n int) Option {
	return func(h *Handle) {
		h.workers = n
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handle) {
		h.metrics = m
	}
}

// WithLogger sets the logger used by calls issued through the handle.
func WithLogger(l log.Logger) Option {
	return func(h *Handle) {
		h.logger = l
	}
}

// NewHandle creates a handle with its own default stream.
func NewHandle(opts ...Option) *Handle {
	h := &Handle{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(h)
	}
	if h.workers <= 0 {
		h.workers = runtime.NumCPU()
	}
	if h.allocator == nil {
		h.allocator = NewPoolAllocator(h.memoryLimit, h.metrics)
	}
	if h.logger == nil {
		h.logger = log.GetLoggerWithName("qnglm")
	}
	h.stream = NewStream("default", 0)
	return h
}

// Allocator returns the scratch allocator.
func (h *Handle) Allocator() Allocator { return h.allocator }

// Stream returns the handle's default stream.
func (h *Handle) Stream() *Stream { return h.stream }

// Workers returns the kernel parallelism.
func (h *Handle) Workers() int { return h.workers }

// Metrics returns the attached collectors, possibly nil.
func (h *Handle) Metrics() *telemetry.Metrics { return h.metrics }

// Logger returns the handle logger.
func (h *Handle) Logger() log.Logger { return h.logger }

// StreamOrDefault returns s, or the default stream when s is nil.
func (h *Handle) StreamOrDefault(s *Stream) *Stream {
	if s == nil {
		return h.stream
	}
	return s
}

// Close synchronizes and stops the default stream.
func (h *Handle) Close() error {
	return h.stream.Close()
}

package device

import (
	"sync"
	"sync/atomic"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/telemetry"
)

// ErrOutOfMemory is returned when an allocation would exceed the memory limit.
var ErrOutOfMemory = errors.New("device: out of memory")

const bytesPerElement = 8

// Buffer is a scratch float64 buffer handed out by an Allocator.
type Buffer struct {
	data     []float64
	capacity int
	released atomic.Bool
}

// Data returns the buffer contents.
func (b *Buffer) Data() []float64 {
	return b.data
}

// Len returns the number of elements.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the size of the backing allocation.
func (b *Buffer) Bytes() int64 {
	return int64(b.capacity) * bytesPerElement
}

// Allocator hands out scratch buffers.
//
// Deallocate is stream ordered: the buffer becomes reusable only after all
// work launched on s before the call has completed. A nil stream releases
// immediately.
type Allocator interface {
	Allocate(n int, s *Stream) (*Buffer, error)
	Deallocate(b *Buffer, s *Stream)
}

// PoolStats describes allocator activity.
type PoolStats struct {
	Allocations int64
	Reused      int64
	InUseBytes  int64
	PeakBytes   int64
	LimitBytes  int64
}

// PoolAllocator caches released buffers in power-of-two size classes and
// optionally enforces a limit on the bytes handed out at once.
type PoolAllocator struct {
	mu      sync.Mutex
	classes map[int][][]float64
	perSize int

	limit  int64
	inUse  int64
	peak   int64
	allocs int64
	reused int64

	metrics *telemetry.Metrics
}

// NewPoolAllocator creates an allocator. limitBytes <= 0 disables the limit.
func NewPoolAllocator(limitBytes int64, metrics *telemetry.Metrics) *PoolAllocator {
	return &PoolAllocator{
		classes: make(map[int][][]float64),
		perSize: 8,
		limit:   limitBytes,
		metrics: metrics,
	}
}

func sizeClass(n int) int {
	c := 256
	for c < n {
		c <<= 1
	}
	return c
}

// Allocate returns a zeroed buffer of n elements.
func (p *PoolAllocator) Allocate(n int, _ *Stream) (*Buffer, error) {
	if n < 0 {
		return nil, errors.NewValueError("device.Allocate", "negative size")
	}
	class := sizeClass(n)
	bytes := int64(class) * bytesPerElement

	p.mu.Lock()
	if p.limit > 0 && p.inUse+bytes > p.limit {
		inUse := p.inUse
		p.mu.Unlock()
		return nil, errors.Wrapf(ErrOutOfMemory, "requested %d bytes with %d of %d in use", bytes, inUse, p.limit)
	}
	p.inUse += bytes
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	p.allocs++

	var data []float64
	if free := p.classes[class]; len(free) > 0 {
		data = free[len(free)-1]
		p.classes[class] = free[:len(free)-1]
		p.reused++
	}
	p.mu.Unlock()

	if data == nil {
		data = make([]float64, class)
	} else {
		clear(data)
	}
	p.metrics.ScratchAllocated(bytes)

	return &Buffer{data: data[:n], capacity: class}, nil
}

// Deallocate returns b to the pool once the work queued on s has run.
// Releasing a buffer twice is a no-op.
func (p *PoolAllocator) Deallocate(b *Buffer, s *Stream) {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	if s != nil {
		if err := s.Launch("deallocate", func() error { p.release(b); return nil }); err == nil {
			return
		}
	}
	p.release(b)
}

func (p *PoolAllocator) release(b *Buffer) {
	bytes := b.Bytes()

	p.mu.Lock()
	p.inUse -= bytes
	if free := p.classes[b.capacity]; len(free) < p.perSize {
		p.classes[b.capacity] = append(free, b.data[:b.capacity])
	}
	p.mu.Unlock()

	p.metrics.ScratchReleased(bytes)
}

// Stats returns a snapshot of allocator counters.
func (p *PoolAllocator) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Allocations: p.allocs,
		Reused:      p.reused,
		InUseBytes:  p.inUse,
		PeakBytes:   p.peak,
		LimitBytes:  p.limit,
	}
}

package glm

import (
	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/core/parallel"
)

// SquaredLoss is 0.5 * mean((z - y)^2) for a single linear score.
type SquaredLoss struct {
	base
}

// NewSquaredLoss creates the least-squares loss over d features.
func NewSquaredLoss(h *device.Handle, d int, fitIntercept bool) *SquaredLoss {
	return &SquaredLoss{base: newBase(h, Dims{C: 1, D: d, FitIntercept: fitIntercept})}
}

func (l *SquaredLoss) evaluate(w []float64, b *batch, grad []float64) float64 {
	n := b.n()
	linalg.Forward(b.x, w, 1, l.dims.FitIntercept, l.workers, b.z)

	sum := parallel.SumWithThreshold(n, kernelThreshold, l.workers, func(start, end int) float64 {
		var s float64
		for i := start; i < end; i++ {
			r := b.z[i] - b.y[i]
			s += r * r
			b.z[i] = r
		}
		return s
	})

	l.backward(b, grad)
	return 0.5 * sum / float64(n)
}

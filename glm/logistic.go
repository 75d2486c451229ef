package glm

import (
	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/core/parallel"
)

// LogisticLoss is the mean binary cross-entropy of sigmoid(z) against
// targets in {0, 1}:
//
//	mean(log(1 + exp(z)) - y*z)
type LogisticLoss struct {
	base
}

// NewLogisticLoss creates the binary logistic loss over d features.
func NewLogisticLoss(h *device.Handle, d int, fitIntercept bool) *LogisticLoss {
	return &LogisticLoss{base: newBase(h, Dims{C: 1, D: d, FitIntercept: fitIntercept})}
}

func (l *LogisticLoss) evaluate(w []float64, b *batch, grad []float64) float64 {
	n := b.n()
	linalg.Forward(b.x, w, 1, l.dims.FitIntercept, l.workers, b.z)

	sum := parallel.SumWithThreshold(n, kernelThreshold, l.workers, func(start, end int) float64 {
		var s float64
		for i := start; i < end; i++ {
			z, y := b.z[i], b.y[i]
			s += linalg.Softplus(z) - y*z
			b.z[i] = linalg.Sigmoid(z) - y
		}
		return s
	})

	l.backward(b, grad)
	return sum / float64(n)
}

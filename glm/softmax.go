package glm

import (
	"math"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/core/parallel"
)

// SoftmaxLoss is the mean multinomial cross-entropy over C classes. Targets
// are class indices in [0, C).
type SoftmaxLoss struct {
	base
}

// NewSoftmaxLoss creates the multinomial loss over d features and c classes.
func NewSoftmaxLoss(h *device.Handle, d, c int, fitIntercept bool) *SoftmaxLoss {
	return &SoftmaxLoss{base: newBase(h, Dims{C: c, D: d, FitIntercept: fitIntercept})}
}

func (l *SoftmaxLoss) evaluate(w []float64, b *batch, grad []float64) float64 {
	n, k := b.n(), l.dims.C
	linalg.Forward(b.x, w, k, l.dims.FitIntercept, l.workers, b.z)

	sum := parallel.SumWithThreshold(n, kernelThreshold/k, l.workers, func(start, end int) float64 {
		var s float64
		for i := start; i < end; i++ {
			row := b.z[i*k : i*k+k]
			label := int(b.y[i])
			zl := row[label]

			zmax := row[0]
			for _, v := range row[1:] {
				if v > zmax {
					zmax = v
				}
			}
			var denom float64
			for c, v := range row {
				e := math.Exp(v - zmax)
				row[c] = e
				denom += e
			}
			s += math.Log(denom) - (zl - zmax)
			for c := range row {
				row[c] /= denom
			}
			row[label] -= 1
		}
		return s
	})

	l.backward(b, grad)
	return sum / float64(n)
}

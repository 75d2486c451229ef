package glm

import (
	"gonum.org/v1/gonum/floats"
)

// Tikhonov is the L2 penalty 0.5 * L2 * ||w||^2 over the non-intercept
// weights.
type Tikhonov struct {
	L2 float64
}

// Apply adds the penalty on w[:nWeights] to f and its gradient to grad, and
// returns the new value. Intercept entries are left alone.
func (t Tikhonov) Apply(w []float64, nWeights int, f float64, grad []float64) float64 {
	weights := w[:nWeights]
	floats.AddScaled(grad[:nWeights], t.L2, weights)
	return f + 0.5*t.L2*floats.Dot(weights, weights)
}

package glm

import (
	"github.com/YuminosukeSato/qnglm/core/linalg"
)

// RegularizedObjective evaluates a loss and then adds a Tikhonov penalty.
type RegularizedObjective[O Objective] struct {
	Loss O
	Reg  Tikhonov
}

// NewRegularizedObjective composes loss with an L2 penalty.
func NewRegularizedObjective[O Objective](loss O, l2 float64) *RegularizedObjective[O] {
	return &RegularizedObjective[O]{Loss: loss, Reg: Tikhonov{L2: l2}}
}

// Dims returns the loss dims.
func (r *RegularizedObjective[O]) Dims() Dims { return r.Loss.Dims() }

// NParams returns the loss parameter count.
func (r *RegularizedObjective[O]) NParams() int { return r.Loss.NParams() }

func (r *RegularizedObjective[O]) evaluate(w []float64, b *batch, grad []float64) float64 {
	f := r.Loss.evaluate(w, b, grad)
	return r.Reg.Apply(w, r.Loss.Dims().NWeights(), f, grad)
}

// DataBound is an objective bound to a design matrix, targets and a scratch
// buffer. It implements solver.Objective.
type DataBound[O Objective] struct {
	obj O
	b   batch
}

// Bind binds obj to x (N x D), y (N) and z (C*N scratch). The storage is
// referenced, not copied.
func Bind[O Objective](obj O, x linalg.Matrix, y, z []float64) *DataBound[O] {
	return &DataBound[O]{obj: obj, b: batch{x: x, y: y, z: z}}
}

// Evaluate returns the objective at w and writes its gradient to grad.
func (d *DataBound[O]) Evaluate(w, grad []float64) float64 {
	return d.obj.evaluate(w, &d.b, grad)
}

// Objective returns the bound objective.
func (d *DataBound[O]) Objective() O { return d.obj }

// Regularized reports whether an L2 penalty is part of the objective.
func (d *DataBound[O]) Regularized() bool {
	_, ok := any(d.obj).(interface{ regularized() })
	return ok
}

func (r *RegularizedObjective[O]) regularized() {}

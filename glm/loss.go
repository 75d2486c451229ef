package glm

import (
	"fmt"
	"strings"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// LossType selects the loss of a fit. The numeric values are part of the
// public contract.
type LossType int

const (
	Logistic LossType = 0
	Squared  LossType = 1
	Softmax  LossType = 2
)

func (t LossType) String() string {
	switch t {
	case Logistic:
		return "logistic"
	case Squared:
		return "squared"
	case Softmax:
		return "softmax"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known losses.
func (t LossType) Valid() bool {
	return t == Logistic || t == Squared || t == Softmax
}

// ParseLossType accepts the canonical names and their common aliases.
func ParseLossType(s string) (LossType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "logistic", "sigmoid", "0":
		return Logistic, nil
	case "squared", "l2", "normal", "linear", "1":
		return Squared, nil
	case "softmax", "multinomial", "2":
		return Softmax, nil
	}
	return 0, errors.Wrapf(errors.ErrUnknownLoss, "%q", s)
}

// checkClasses enforces C == 1 for logistic and squared loss and C > 1 for
// softmax.
func (t LossType) checkClasses(op string, c int) error {
	switch t {
	case Logistic, Squared:
		if c != 1 {
			return errors.NewPreconditionError(op, fmt.Sprintf("%s loss requires C == 1, got %d", t, c))
		}
	case Softmax:
		if c <= 1 {
			return errors.NewPreconditionError(op, fmt.Sprintf("softmax loss requires C > 1, got %d", c))
		}
	default:
		return errors.WrapPrecondition(op, fmt.Sprintf("loss type %d", int(t)), errors.ErrUnknownLoss)
	}
	return nil
}

// batch is the data an objective is evaluated on. z is C x N column-major
// scratch: the scores of sample i are z[i*C : i*C+C].
type batch struct {
	x linalg.Matrix
	y []float64
	z []float64
}

func (b *batch) n() int { return b.x.Rows }

// Objective is a loss, possibly regularized, over a fixed parameter shape.
// The set of implementations is closed.
type Objective interface {
	Dims() Dims
	NParams() int

	// evaluate returns the objective at w, writes its gradient to grad and
	// leaves the score derivatives in b.z.
	evaluate(w []float64, b *batch, grad []float64) float64
}

// kernelThreshold is the sample count below which loss kernels run serially.
const kernelThreshold = 4096

// base carries what every loss shares.
type base struct {
	dims    Dims
	workers int
}

func newBase(h *device.Handle, dims Dims) base {
	workers := 1
	if h != nil {
		workers = h.Workers()
	}
	return base{dims: dims, workers: workers}
}

// Dims returns the parameter shape.
func (l *base) Dims() Dims { return l.dims }

// NParams returns the length of the parameter vector.
func (l *base) NParams() int { return l.dims.NParams() }

// backward turns the score derivatives left in b.z into the mean gradient.
func (l *base) backward(b *batch, grad []float64) {
	linalg.Backward(b.x, b.z, l.dims.C, l.dims.FitIntercept, 1/float64(b.n()), grad)
}

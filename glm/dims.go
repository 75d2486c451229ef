// Package glm fits and evaluates generalized linear models with
// quasi-Newton methods.
//
// A fit composes one of three losses (logistic, squared, softmax) with an
// optional L2 penalty, binds it to a design matrix and targets, and hands the
// result to the minimizer in glm/solver. All numeric work is queued on a
// device.Stream; results are valid once the stream is synchronized.
//
// Parameters are a C x (D+1) matrix stored column-major when an intercept is
// fitted, so the C intercepts are the final C entries:
//
//	w[j*C + c]  weight of feature j for class c
//	w[D*C + c]  intercept of class c
package glm

import "fmt"

// Dims describes the parameter shape of a linear model.
type Dims struct {
	// C is the number of score rows: 1 for logistic and squared loss, the
	// number of classes for softmax.
	C int
	// D is the number of features.
	D int
	// FitIntercept adds one bias per score row.
	FitIntercept bool
}

// Cols is the number of parameters per score row.
func (d Dims) Cols() int {
	if d.FitIntercept {
		return d.D + 1
	}
	return d.D
}

// NParams is the length of the parameter vector.
func (d Dims) NParams() int {
	return d.C * d.Cols()
}

// NWeights is the number of non-intercept parameters. They come first.
func (d Dims) NWeights() int {
	return d.C * d.D
}

func (d Dims) String() string {
	return fmt.Sprintf("C=%d D=%d intercept=%t", d.C, d.D, d.FitIntercept)
}

// Coef returns a copy of the weights as a C x D row-major slice.
func (d Dims) Coef(w []float64) []float64 {
	out := make([]float64, d.C*d.D)
	for j := 0; j < d.D; j++ {
		for c := 0; c < d.C; c++ {
			out[c*d.D+j] = w[j*d.C+c]
		}
	}
	return out
}

// Intercept returns a copy of the C intercepts, zero when none are fitted.
func (d Dims) Intercept(w []float64) []float64 {
	out := make([]float64, d.C)
	if d.FitIntercept {
		copy(out, w[d.NWeights():d.NParams()])
	}
	return out
}

// Pack is the inverse of Coef and Intercept.
func (d Dims) Pack(coef, intercept []float64) []float64 {
	w := make([]float64, d.NParams())
	for j := 0; j < d.D; j++ {
		for c := 0; c < d.C; c++ {
			w[j*d.C+c] = coef[c*d.D+j]
		}
	}
	if d.FitIntercept {
		copy(w[d.NWeights():], intercept)
	}
	return w
}

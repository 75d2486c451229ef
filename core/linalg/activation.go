package linalg

import "math"

// Softplus computes log(1 + exp(z)) without overflowing for large |z|.
func Softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// Sigmoid computes 1 / (1 + exp(-z)), choosing the branch that keeps exp
// bounded.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Package linalg wraps raw float64 storage with a shape and a storage order
// and provides the few dense kernels the GLM code needs on top of gonum BLAS.
package linalg

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/parallel"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// Order is the storage order of a Matrix.
type Order int

const (
	// RowMajor stores element (i, j) at i*Cols + j.
	RowMajor Order = iota
	// ColMajor stores element (i, j) at j*Rows + i.
	ColMajor
)

func (o Order) String() string {
	switch o {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	default:
		return "unknown"
	}
}

// elementwiseThreshold is the size below which element kernels run serially.
const elementwiseThreshold = 1 << 14

// Matrix is a dense view over caller-owned storage. It never copies Data.
type Matrix struct {
	Data  []float64
	Rows  int
	Cols  int
	Order Order
}

// NewMatrix checks that data holds exactly rows*cols elements.
func NewMatrix(data []float64, rows, cols int, order Order) (Matrix, error) {
	if rows < 0 || cols < 0 {
		return Matrix{}, errors.NewValueError("linalg.NewMatrix", "negative dimension")
	}
	if order != RowMajor && order != ColMajor {
		return Matrix{}, errors.NewValidationError("order", "must be RowMajor or ColMajor", order)
	}
	if len(data) != rows*cols {
		return Matrix{}, errors.NewDimensionError("linalg.NewMatrix", rows*cols, len(data), 0)
	}
	return Matrix{Data: data, Rows: rows, Cols: cols, Order: order}, nil
}

// At returns element (i, j).
func (m Matrix) At(i, j int) float64 {
	if m.Order == ColMajor {
		return m.Data[j*m.Rows+i]
	}
	return m.Data[i*m.Cols+j]
}

// general returns the BLAS view of the storage together with the transpose
// flag that turns it back into the logical Rows x Cols matrix.
func (m Matrix) general() (blas64.General, blas.Transpose) {
	if m.Order == ColMajor {
		return blas64.General{Rows: m.Cols, Cols: m.Rows, Stride: max(m.Rows, 1), Data: m.Data}, blas.Trans
	}
	return blas64.General{Rows: m.Rows, Cols: m.Cols, Stride: max(m.Cols, 1), Data: m.Data}, blas.NoTrans
}

// Dense returns a gonum view of m sharing its storage.
func (m Matrix) Dense() mat.Matrix {
	if m.Rows == 0 || m.Cols == 0 {
		return &mat.Dense{}
	}
	if m.Order == ColMajor {
		return mat.NewDense(m.Cols, m.Rows, m.Data).T()
	}
	return mat.NewDense(m.Rows, m.Cols, m.Data)
}

// FromDense copies a gonum matrix into new row-major storage.
func FromDense(a mat.Matrix) Matrix {
	r, c := a.Dims()
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = a.At(i, j)
		}
	}
	return Matrix{Data: data, Rows: r, Cols: c, Order: RowMajor}
}

// Forward computes the affine scores of every row of x:
//
//	Z[i, k] = sum_j x[i, j] * W[j, k] + b[k]
//
// W is d x k row-major in w[:d*k] and b is w[d*k:] when intercept is set. Z is
// x.Rows x k row-major, which is the same memory as a k x Rows column-major
// matrix. The intercept pass uses up to workers goroutines.
func Forward(x Matrix, w []float64, k int, intercept bool, workers int, z []float64) {
	n, d := x.Rows, x.Cols
	if n == 0 || k == 0 {
		return
	}
	zg := blas64.General{Rows: n, Cols: k, Stride: k, Data: z[:n*k]}
	if d > 0 {
		xg, tx := x.general()
		wg := blas64.General{Rows: d, Cols: k, Stride: k, Data: w[:d*k]}
		blas64.Gemm(tx, blas.NoTrans, 1, xg, wg, 0, zg)
	} else {
		clear(zg.Data)
	}
	if !intercept {
		return
	}
	b := w[d*k : d*k+k]
	parallel.ParallelizeNWithThreshold(n, elementwiseThreshold/max(k, 1), workers, func(start, end int) {
		for i := start; i < end; i++ {
			row := z[i*k : i*k+k]
			for c := range row {
				row[c] += b[c]
			}
		}
	})
}

// Backward computes the parameter gradient of an affine map from the score
// derivatives r (x.Rows x k row-major):
//
//	grad[j*k + c] = alpha * sum_i x[i, j] * r[i, c]
//	grad[d*k + c] = alpha * sum_i r[i, c]     (intercept)
//
// grad is overwritten.
func Backward(x Matrix, r []float64, k int, intercept bool, alpha float64, grad []float64) {
	n, d := x.Rows, x.Cols
	if k == 0 {
		return
	}
	if n == 0 {
		clear(grad)
		return
	}
	rg := blas64.General{Rows: n, Cols: k, Stride: k, Data: r[:n*k]}
	if d > 0 {
		xg, tx := x.general()
		// x^T r: transpose whatever flag makes xg the logical x.
		tt := blas.Trans
		if tx == blas.Trans {
			tt = blas.NoTrans
		}
		gg := blas64.General{Rows: d, Cols: k, Stride: k, Data: grad[:d*k]}
		blas64.Gemm(tt, blas.NoTrans, alpha, xg, rg, 0, gg)
	}
	if !intercept {
		return
	}
	b := grad[d*k : d*k+k]
	clear(b)
	for i := 0; i < n; i++ {
		row := r[i*k : i*k+k]
		for c := range b {
			b[c] += row[c]
		}
	}
	for c := range b {
		b[c] *= alpha
	}
}

// AssignUnary sets dst[i] = fn(src[i]) on up to workers goroutines. dst and
// src may alias.
func AssignUnary(dst, src []float64, workers int, fn func(float64) float64) {
	if len(dst) != len(src) {
		panic(mat.ErrShape)
	}
	parallel.ParallelizeNWithThreshold(len(src), elementwiseThreshold, workers, func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = fn(src[i])
		}
	})
}

// Copy copies src into dst and returns the number of elements copied.
func Copy(dst, src []float64) int {
	if len(dst) != len(src) {
		panic(mat.ErrShape)
	}
	return copy(dst, src)
}

// ArgmaxRows writes, for every row of the n x k row-major block z, the index
// of its largest entry. The first maximum wins on ties.
func ArgmaxRows(z []float64, n, k, workers int, out []float64) {
	parallel.ParallelizeNWithThreshold(n, elementwiseThreshold/max(k, 1), workers, func(start, end int) {
		for i := start; i < end; i++ {
			row := z[i*k : i*k+k]
			best := 0
			for c := 1; c < k; c++ {
				if row[c] > row[best] {
					best = c
				}
			}
			out[i] = float64(best)
		}
	})
}

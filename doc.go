// Package qnglm fits generalized linear models with quasi-Newton methods,
// designed for backend services that train and apply linear models in Go.
//
// qnglm minimizes the mean logistic, softmax or squared loss with an optional
// L2 penalty using L-BFGS, and switches to OWL-QN when an L1 penalty is set.
// Numeric work is queued on ordered streams with pooled scratch memory, so a
// fit can run alongside other work and be awaited later.
//
// # Installation
//
//	go get github.com/YuminosukeSato/qnglm
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/qnglm/sklearn/linear_model"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
//	    y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
//
//	    model := linear_model.NewQN(
//	        linear_model.WithLoss("logistic"),
//	        linear_model.WithL2(0.01),
//	    )
//	    if err := model.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    pred, err := model.Predict(mat.NewDense(1, 1, []float64{3}))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Prediction:", pred.At(0, 0))
//	}
//
// # Packages
//
//   - glm: losses, the L2 regularizer, Fit, Predict and friends on raw slices
//   - glm/solver: L-BFGS (gonum/optimize) and OWL-QN minimizers
//   - core/device: handles, ordered streams and the pooled scratch allocator
//   - core/linalg: storage-order aware matrices and BLAS-backed products
//   - sklearn/linear_model: QN and LogisticRegression estimators on gonum matrices
//   - preprocessing: feature standardization
//   - metrics: accuracy, log loss, MSE and R²
//   - core/model: estimator interfaces and JSON weight persistence
//   - pkg/errors, pkg/log, pkg/telemetry, pkg/viz: errors, logging,
//     Prometheus metrics and convergence plots
//
// The qnglm command (cmd/qnglm) fits and applies models stored as JSON.
//
// # Low-level API
//
// glm works on raw column-major or row-major slices and launches its work on
// a stream:
//
//	h := device.NewHandle()
//	defer h.Close()
//	dims := glm.Dims{C: 1, D: x.Cols, FitIntercept: true}
//	w := make([]float64, dims.NParams())
//	res, err := glm.Fit(h, nil, x, y, dims, glm.Logistic, glm.DefaultFitParams(), w)
//	if err != nil {
//	    return err // precondition violation or out of memory
//	}
//	if err := h.Stream().Synchronize(); err != nil {
//	    return err
//	}
//	fmt.Println(res.Iterations, res.Converged)
//
// # License
//
// qnglm is released under the MIT License.
package qnglm

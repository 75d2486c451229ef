package glm

import (
	"fmt"
	"math"
	"time"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/glm/solver"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
	"github.com/YuminosukeSato/qnglm/pkg/telemetry"
)

// FitParams are the solver settings of one fit.
type FitParams struct {
	L1                float64
	L2                float64
	MaxIter           int
	GradTol           float64
	LinesearchMaxIter int
	LBFGSMemory       int
	Verbosity         int

	// Trace, when set, is called from the stream worker after every solver
	// iteration.
	Trace func(solver.Iteration)
}

// DefaultFitParams returns unregularized settings with the solver defaults.
func DefaultFitParams() FitParams {
	cfg := solver.DefaultConfig()
	return FitParams{
		MaxIter:           cfg.MaxIter,
		GradTol:           cfg.GradTol,
		LinesearchMaxIter: cfg.MaxLinesearch,
		LBFGSMemory:       cfg.Memory,
	}
}

// FitResult is filled in by the fit job. Read it only after the stream the
// fit was launched on has been synchronized without error.
type FitResult struct {
	// F is the final objective value, penalties included.
	F float64
	// Iterations is the number of solver iterations taken.
	Iterations int
	// Converged is false when MaxIter was reached or the line search stalled.
	Converged bool
	Status    solver.Status
	Duration  time.Duration
}

func (p FitParams) solverConfig(dims Dims, logger log.Logger) solver.Config {
	return solver.Config{
		GradTol:       p.GradTol,
		MaxIter:       p.MaxIter,
		Memory:        p.LBFGSMemory,
		MaxLinesearch: p.LinesearchMaxIter,
		L1Start:       0,
		L1End:         dims.NWeights(),
		Verbosity:     p.Verbosity,
		Logger:        logger,
		Trace:         p.Trace,
	}
}

// Fit minimizes the selected loss over the parameters w, which hold the
// initial guess and receive the solution in place.
//
// x is N x D, y holds N targets: {0, 1} for logistic loss, class indices in
// [0, C) for softmax. Arguments that break the contract between loss type,
// dims and data fail with an error matching errors.ErrPrecondition before any
// memory is allocated. Allocation failures are returned unchanged.
//
// The minimization itself runs on s (the handle's stream when nil); neither w
// nor the returned FitResult may be touched until s is synchronized. A fit
// that does not converge within MaxIter is not an error.
func Fit(h *device.Handle, s *device.Stream, x linalg.Matrix, y []float64, dims Dims, lossType LossType, params FitParams, w []float64) (*FitResult, error) {
	const op = "glm.Fit"
	if h == nil {
		return nil, errors.NewPreconditionError(op, "nil handle")
	}
	if err := lossType.checkClasses(op, dims.C); err != nil {
		h.Metrics().RecordFit(lossType.String(), telemetry.StatusPrecondition, 0, 0)
		return nil, err
	}
	if err := validateFit(x, y, dims, lossType, params, w); err != nil {
		h.Metrics().RecordFit(lossType.String(), telemetry.StatusPrecondition, 0, 0)
		return nil, errors.WrapPrecondition(op, "invalid arguments", err)
	}

	s = h.StreamOrDefault(s)
	n := x.Rows
	z, err := h.Allocator().Allocate(dims.C*n, s)
	if err != nil {
		return nil, err
	}
	defer h.Allocator().Deallocate(z, s)

	logger := h.Logger().With(log.ComponentKey, "glm", log.LossKey, lossType.String())
	obj := newBoundObjective(h, dims, lossType, params.L2, x, y, z.Data())

	l1 := params.L1
	if dims.NWeights() == 0 {
		l1 = 0
	}
	cfg := params.solverConfig(dims, logger)

	result := &FitResult{}
	err = s.Launch(op, func() error {
		logger.Info("fit started",
			log.OperationKey, log.OperationFit,
			log.SamplesKey, n,
			log.FeaturesKey, dims.D,
			log.ClassesKey, dims.C,
			log.OrderKey, x.Order.String(),
			log.L1Key, l1,
			log.L2Key, params.L2,
		)
		start := time.Now()
		res, err := solver.Minimize(obj, w, l1, cfg)
		elapsed := time.Since(start)
		if err != nil {
			h.Metrics().RecordFit(lossType.String(), telemetry.StatusFailed, res.Iterations, elapsed)
			logger.Error("fit failed", err, log.OperationKey, log.OperationFit)
			return err
		}

		*result = FitResult{
			F:          res.F,
			Iterations: res.Iterations,
			Converged:  res.Converged(),
			Status:     res.Status,
			Duration:   elapsed,
		}

		status := telemetry.StatusConverged
		if !res.Converged() {
			status = telemetry.StatusMaxIter
			errors.Warn(errors.NewConvergenceWarning("qn", res.Iterations,
				fmt.Sprintf("%s: gradient tolerance %g not reached", res.Status, params.GradTol)))
		}
		h.Metrics().RecordFit(lossType.String(), status, res.Iterations, elapsed)
		logger.Info("fit finished",
			log.OperationKey, log.OperationFit,
			log.IterationKey, res.Iterations,
			log.LossValueKey, res.F,
			log.ConvergedKey, res.Converged(),
			log.DurationMsKey, elapsed.Milliseconds(),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// newBoundObjective picks the loss once; everything below it is
// monomorphic.
func newBoundObjective(h *device.Handle, dims Dims, lossType LossType, l2 float64, x linalg.Matrix, y, z []float64) solver.Objective {
	switch lossType {
	case Logistic:
		return bind(NewLogisticLoss(h, dims.D, dims.FitIntercept), l2, x, y, z)
	case Squared:
		return bind(NewSquaredLoss(h, dims.D, dims.FitIntercept), l2, x, y, z)
	case Softmax:
		return bind(NewSoftmaxLoss(h, dims.D, dims.C, dims.FitIntercept), l2, x, y, z)
	}
	panic("glm: unreachable loss type " + lossType.String())
}

// bind composes the L2 penalty only when l2 != 0.
func bind[O Objective](loss O, l2 float64, x linalg.Matrix, y, z []float64) solver.Objective {
	if l2 != 0 {
		return Bind(NewRegularizedObjective(loss, l2), x, y, z)
	}
	return Bind(loss, x, y, z)
}

func validateMatrix(op string, x linalg.Matrix, dims Dims) error {
	if len(x.Data) != x.Rows*x.Cols {
		return errors.NewDimensionError(op, x.Rows*x.Cols, len(x.Data), 0)
	}
	if x.Cols != dims.D {
		return errors.NewDimensionError(op, dims.D, x.Cols, 1)
	}
	if x.Order != linalg.RowMajor && x.Order != linalg.ColMajor {
		return errors.NewValidationError("order", "unknown storage order", int(x.Order))
	}
	return nil
}

func validateFit(x linalg.Matrix, y []float64, dims Dims, lossType LossType, params FitParams, w []float64) error {
	const op = "glm.Fit"
	if x.Rows == 0 {
		return errors.ErrEmptyData
	}
	if err := validateMatrix(op, x, dims); err != nil {
		return err
	}
	if len(y) != x.Rows {
		return errors.NewDimensionError(op, x.Rows, len(y), 0)
	}
	if len(w) != dims.NParams() {
		return errors.NewDimensionError(op, dims.NParams(), len(w), 1)
	}
	if params.L2 < 0 || math.IsNaN(params.L2) {
		return errors.NewValidationError("l2", "must be non-negative", params.L2)
	}
	if err := params.solverConfig(dims, nil).Validate(len(w), params.L1); err != nil {
		return err
	}
	for i, v := range y {
		switch lossType {
		case Logistic:
			if !(v >= 0 && v <= 1) {
				return errors.NewValidationError("y", fmt.Sprintf("logistic target at %d must be in [0, 1]", i), v)
			}
		case Softmax:
			if v != math.Trunc(v) || v < 0 || int(v) >= dims.C {
				return errors.NewValidationError("y", fmt.Sprintf("softmax label at %d must be an integer in [0, %d)", i, dims.C), v)
			}
		default:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewValidationError("y", fmt.Sprintf("target at %d is not finite", i), v)
			}
		}
	}
	return nil
}

// Predict writes one prediction per row of x into preds: the thresholded
// score for logistic loss (z > 0), the score itself for squared loss, and the
// index of the largest class score for softmax (first maximum on ties).
// params are only read. The work runs on s.
func Predict(h *device.Handle, s *device.Stream, x linalg.Matrix, dims Dims, lossType LossType, params, preds []float64) error {
	const op = "glm.Predict"
	if h == nil {
		return errors.NewPreconditionError(op, "nil handle")
	}
	if err := lossType.checkClasses(op, dims.C); err != nil {
		return err
	}
	if err := validatePredict(op, x, dims, params, preds, x.Rows); err != nil {
		return errors.WrapPrecondition(op, "invalid arguments", err)
	}

	s = h.StreamOrDefault(s)
	n, workers := x.Rows, h.Workers()
	z, err := h.Allocator().Allocate(dims.C*n, s)
	if err != nil {
		return err
	}
	defer h.Allocator().Deallocate(z, s)

	return s.Launch(op, func() error {
		scores := z.Data()
		linalg.Forward(x, params, dims.C, dims.FitIntercept, workers, scores)
		switch lossType {
		case Logistic:
			linalg.AssignUnary(preds, scores, workers, func(v float64) float64 {
				if v > 0 {
					return 1
				}
				return 0
			})
		case Squared:
			linalg.Copy(preds, scores)
		case Softmax:
			linalg.ArgmaxRows(scores, n, dims.C, workers, preds)
		}
		h.Metrics().RecordPredict(lossType.String(), n)
		return nil
	})
}

// DecisionFunction writes the raw scores of every row of x into scores,
// which is C x N column-major (the C scores of row i are contiguous).
func DecisionFunction(h *device.Handle, s *device.Stream, x linalg.Matrix, dims Dims, params, scores []float64) error {
	const op = "glm.DecisionFunction"
	if h == nil {
		return errors.NewPreconditionError(op, "nil handle")
	}
	if dims.C < 1 {
		return errors.NewPreconditionError(op, "C must be positive")
	}
	if err := validatePredict(op, x, dims, params, scores, dims.C*x.Rows); err != nil {
		return errors.WrapPrecondition(op, "invalid arguments", err)
	}
	return h.StreamOrDefault(s).Launch(op, func() error {
		linalg.Forward(x, params, dims.C, dims.FitIntercept, h.Workers(), scores)
		return nil
	})
}

// PredictProba writes class probabilities: sigmoid of the score for
// logistic loss (N values, the probability of class 1) and the softmax of
// the class scores for softmax (C x N column-major). Squared loss has no
// probabilities.
func PredictProba(h *device.Handle, s *device.Stream, x linalg.Matrix, dims Dims, lossType LossType, params, proba []float64) error {
	const op = "glm.PredictProba"
	if h == nil {
		return errors.NewPreconditionError(op, "nil handle")
	}
	if err := lossType.checkClasses(op, dims.C); err != nil {
		return err
	}
	if lossType == Squared {
		return errors.NewPreconditionError(op, "squared loss has no probabilities")
	}
	if err := validatePredict(op, x, dims, params, proba, dims.C*x.Rows); err != nil {
		return errors.WrapPrecondition(op, "invalid arguments", err)
	}

	n, k, workers := x.Rows, dims.C, h.Workers()
	return h.StreamOrDefault(s).Launch(op, func() error {
		linalg.Forward(x, params, k, dims.FitIntercept, workers, proba)
		if lossType == Logistic {
			linalg.AssignUnary(proba, proba, workers, linalg.Sigmoid)
			return nil
		}
		for i := 0; i < n; i++ {
			row := proba[i*k : i*k+k]
			lse := errors.LogSumExp(row)
			for c := range row {
				row[c] = math.Exp(row[c] - lse)
			}
		}
		return nil
	})
}

func validatePredict(op string, x linalg.Matrix, dims Dims, params, out []float64, outLen int) error {
	if err := validateMatrix(op, x, dims); err != nil {
		return err
	}
	if len(params) != dims.NParams() {
		return errors.NewDimensionError(op, dims.NParams(), len(params), 1)
	}
	if len(out) != outLen {
		return errors.NewDimensionError(op, outLen, len(out), 0)
	}
	return nil
}

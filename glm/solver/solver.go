// Package solver minimizes smooth objectives, optionally plus an L1 penalty,
// with limited-memory quasi-Newton methods.
//
// Without an L1 term the problem is handed to gonum's L-BFGS. With one, the
// orthant-wise variant (OWL-QN) in this package is used; the L1 term is then
// part of the reported objective value but never of the gradient the
// objective computes.
package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
)

// Objective evaluates a differentiable function. Evaluate writes the gradient
// at x into grad and returns the value.
type Objective interface {
	Evaluate(x, grad []float64) float64
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(x, grad []float64) float64

// Evaluate calls f.
func (f ObjectiveFunc) Evaluate(x, grad []float64) float64 {
	return f(x, grad)
}

// Iteration is reported to Config.Trace after every accepted step.
type Iteration struct {
	Iter     int
	F        float64
	GradNorm float64
	Step     float64
}

// Config controls a single minimization.
type Config struct {
	// GradTol stops when ||g|| <= GradTol * max(1, ||x||).
	GradTol float64
	// MaxIter caps the number of accepted steps.
	MaxIter int
	// Memory is the number of correction pairs kept.
	Memory int
	// MaxLinesearch caps the function evaluations of one line search.
	MaxLinesearch int

	// L1Start is the first index of x subject to the L1 penalty. Entries
	// from L1End onwards are excluded as well; zero means len(x).
	L1Start int
	L1End   int

	Verbosity int
	Logger    log.Logger
	Trace     func(Iteration)
}

// DefaultConfig returns the settings used when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		GradTol:       1e-4,
		MaxIter:       1000,
		Memory:        5,
		MaxLinesearch: 50,
	}
}

// Status says how a minimization ended.
type Status int

const (
	// Converged means the gradient tolerance was met.
	Converged Status = iota
	// MaxIterReached means MaxIter steps were taken without converging.
	MaxIterReached
	// Stalled means no further decrease could be found; x holds the best
	// point seen.
	Stalled
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterReached:
		return "max_iter"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Result of a minimization. x itself is updated in place.
type Result struct {
	F          float64
	Iterations int
	Status     Status
}

// Converged reports whether the gradient tolerance was met.
func (r Result) Converged() bool {
	return r.Status == Converged
}

// ErrLinesearch is returned, wrapped, when a line search exhausts its budget.
var ErrLinesearch = errors.New("solver: line search failed")

// Validate checks c for a parameter vector of length n and penalty l1.
func (c Config) Validate(n int, l1 float64) error {
	switch {
	case c.MaxIter < 0:
		return errors.NewValidationError("max_iter", "must be non-negative", c.MaxIter)
	case c.Memory <= 0:
		return errors.NewValidationError("lbfgs_memory", "must be positive", c.Memory)
	case c.MaxLinesearch <= 0:
		return errors.NewValidationError("linesearch_max_iter", "must be positive", c.MaxLinesearch)
	case c.GradTol < 0 || math.IsNaN(c.GradTol):
		return errors.NewValidationError("grad_tol", "must be non-negative", c.GradTol)
	case l1 < 0 || math.IsNaN(l1):
		return errors.NewValidationError("l1", "must be non-negative", l1)
	case c.L1Start < 0 || c.L1Start > n || c.L1End < 0 || c.L1End > n:
		return errors.NewValidationError("l1_range", "outside parameter vector", [2]int{c.L1Start, c.L1End})
	}
	return nil
}

// Minimize minimizes f(x) + l1*||x[L1Start:L1End]||_1 starting from x and
// leaves the solution in x. Failing to converge within MaxIter is not an
// error; it is reported through Result.Status.
func Minimize(obj Objective, x []float64, l1 float64, cfg Config) (Result, error) {
	if err := cfg.Validate(len(x), l1); err != nil {
		return Result{}, err
	}
	if cfg.L1End == 0 {
		cfg.L1End = len(x)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.GetLoggerWithName("solver")
	}
	if l1 == 0 || cfg.L1Start >= cfg.L1End {
		return minimizeLBFGS(obj, x, cfg)
	}
	return minimizeOWLQN(obj, x, l1, cfg)
}

// converged is the relative gradient test shared by both methods.
func converged(g, x []float64, tol float64) bool {
	return floats.Norm(g, 2) <= tol*math.Max(1, floats.Norm(x, 2))
}

func (c Config) report(it Iteration) {
	if c.Trace != nil {
		c.Trace(it)
	}
	if c.Verbosity > 0 {
		c.Logger.Debug("quasi-Newton iteration",
			log.IterationKey, it.Iter,
			log.LossValueKey, it.F,
			log.GradNormKey, it.GradNorm,
			log.StepKey, it.Step,
		)
	}
}

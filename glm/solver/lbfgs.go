package solver

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
)

// cachedObjective lets gonum's separate Func and Grad callbacks share one
// evaluation of the combined objective.
type cachedObjective struct {
	obj   Objective
	x     []float64
	f     float64
	grad  []float64
	valid bool
	evals int
	err   error
}

func newCachedObjective(obj Objective, n int) *cachedObjective {
	return &cachedObjective{
		obj:  obj,
		x:    make([]float64, n),
		grad: make([]float64, n),
	}
}

func (c *cachedObjective) eval(x []float64) {
	if c.valid && floats.Equal(c.x, x) {
		return
	}
	copy(c.x, x)
	c.f = c.obj.Evaluate(c.x, c.grad)
	c.evals++
	c.valid = true
	if c.err == nil {
		c.err = errors.CheckScalar("objective", c.f, c.evals)
	}
}

func (c *cachedObjective) problem() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			c.eval(x)
			return c.f
		},
		Grad: func(grad, x []float64) {
			c.eval(x)
			copy(grad, c.grad)
		},
		Status: func() (optimize.Status, error) {
			if c.err != nil {
				return optimize.Failure, c.err
			}
			return optimize.NotTerminated, nil
		},
	}
}

// relativeGradient stops once ||g|| <= tol * max(1, ||x||).
type relativeGradient struct {
	tol float64
}

func (relativeGradient) Init(int) {}

func (r relativeGradient) Converged(loc *optimize.Location) optimize.Status {
	if loc.Gradient != nil && converged(loc.Gradient, loc.X, r.tol) {
		return optimize.GradientThreshold
	}
	return optimize.NotTerminated
}

// boundedLinesearch fails a line search after max trial steps.
type boundedLinesearch struct {
	optimize.Linesearcher
	max   int
	iters int
}

func (b *boundedLinesearch) Init(value, derivative, step float64) optimize.Operation {
	b.iters = 0
	return b.Linesearcher.Init(value, derivative, step)
}

func (b *boundedLinesearch) Iterate(value, derivative float64) (optimize.Operation, float64, error) {
	b.iters++
	if b.iters >= b.max {
		return optimize.NoOperation, 0, errors.Wrapf(ErrLinesearch, "no acceptable step after %d trials", b.iters)
	}
	return b.Linesearcher.Iterate(value, derivative)
}

// traceRecorder forwards accepted iterations to Config.report.
type traceRecorder struct {
	cfg Config
}

func (traceRecorder) Init() error { return nil }

func (t traceRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	t.cfg.report(Iteration{
		Iter:     stats.MajorIterations,
		F:        loc.F,
		GradNorm: floats.Norm(loc.Gradient, 2),
	})
	return nil
}

func minimizeLBFGS(obj Objective, x []float64, cfg Config) (Result, error) {
	cached := newCachedObjective(obj, len(x))

	// gonum treats a zero iteration limit as unlimited.
	if cfg.MaxIter == 0 {
		cached.eval(x)
		if cached.err != nil {
			return Result{}, cached.err
		}
		status := MaxIterReached
		if converged(cached.grad, x, cfg.GradTol) {
			status = Converged
		}
		return Result{F: cached.f, Status: status}, nil
	}

	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIter,
		Converger:       relativeGradient{tol: cfg.GradTol},
	}
	if cfg.Trace != nil || cfg.Verbosity > 0 {
		settings.Recorder = traceRecorder{cfg: cfg}
	}
	method := &optimize.LBFGS{
		Store: cfg.Memory,
		Linesearcher: &boundedLinesearch{
			Linesearcher: &optimize.MoreThuente{},
			max:          cfg.MaxLinesearch,
		},
	}

	res, err := optimize.Minimize(cached.problem(), x, settings, method)
	if cached.err != nil {
		return Result{}, cached.err
	}
	if res == nil {
		return Result{}, errors.Wrap(err, "lbfgs")
	}
	copy(x, res.X)

	out := Result{F: res.F, Iterations: res.Stats.MajorIterations}
	switch {
	case res.Status == optimize.GradientThreshold || res.Status == optimize.MethodConverge:
		out.Status = Converged
	case res.Status == optimize.IterationLimit:
		out.Status = MaxIterReached
	case res.Gradient != nil && converged(res.Gradient, res.X, cfg.GradTol):
		out.Status = Converged
	default:
		out.Status = Stalled
		cfg.Logger.Debug("lbfgs stopped without converging",
			log.SolverKey, "lbfgs",
			log.IterationKey, out.Iterations,
			"status", res.Status.String(),
			"reason", errString(err),
		)
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

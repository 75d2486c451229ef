package solver

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
)

// armijo is the sufficient decrease constant of the backtracking search.
const armijo = 1e-4

// history holds the last m correction pairs in a ring.
type history struct {
	s, y   [][]float64
	ts, ty []float64 // candidate pair, swapped into the ring once accepted
	rho    []float64
	alpha  []float64
	oldest int
	count  int
}

func newHistory(m, n int) *history {
	h := &history{
		s:     make([][]float64, m),
		y:     make([][]float64, m),
		rho:   make([]float64, m),
		alpha: make([]float64, m),
		ts:    make([]float64, n),
		ty:    make([]float64, n),
	}
	for i := 0; i < m; i++ {
		h.s[i] = make([]float64, n)
		h.y[i] = make([]float64, n)
	}
	return h
}

func (h *history) reset() {
	h.oldest = 0
	h.count = 0
}

// push stores s = x1 - x0 and y = g1 - g0 unless the pair has non-positive
// curvature. A rejected pair leaves the ring untouched.
func (h *history) push(x1, x0, g1, g0 []float64) bool {
	floats.SubTo(h.ts, x1, x0)
	floats.SubTo(h.ty, g1, g0)
	sy := floats.Dot(h.ts, h.ty)
	if sy <= 1e-12*floats.Norm(h.ty, 2)*floats.Norm(h.ts, 2) {
		return false
	}
	m := len(h.s)
	idx := (h.oldest + h.count) % m
	h.s[idx], h.ts = h.ts, h.s[idx]
	h.y[idx], h.ty = h.ty, h.y[idx]
	h.rho[idx] = 1 / sy
	if h.count < m {
		h.count++
	} else {
		h.oldest = (h.oldest + 1) % m
	}
	return true
}

// direction writes -H*g into dir using the two-loop recursion.
func (h *history) direction(g, dir []float64) {
	copy(dir, g)
	m := len(h.s)
	for i := h.count - 1; i >= 0; i-- {
		idx := (h.oldest + i) % m
		h.alpha[idx] = h.rho[idx] * floats.Dot(h.s[idx], dir)
		floats.AddScaled(dir, -h.alpha[idx], h.y[idx])
	}
	if h.count > 0 {
		newest := (h.oldest + h.count - 1) % m
		y := h.y[newest]
		floats.Scale(1/(h.rho[newest]*floats.Dot(y, y)), dir)
	}
	for i := 0; i < h.count; i++ {
		idx := (h.oldest + i) % m
		beta := h.rho[idx] * floats.Dot(h.y[idx], dir)
		floats.AddScaled(dir, h.alpha[idx]-beta, h.s[idx])
	}
	floats.Scale(-1, dir)
}

type owlqn struct {
	obj    Objective
	cfg    Config
	l1     float64
	lo, hi int
	evals  int
}

func (o *owlqn) l1Norm(x []float64) float64 {
	var s float64
	for _, v := range x[o.lo:o.hi] {
		s += math.Abs(v)
	}
	return s
}

// eval returns the full objective, smooth part plus penalty.
func (o *owlqn) eval(x, grad []float64) (float64, error) {
	f := o.obj.Evaluate(x, grad)
	o.evals++
	if err := errors.CheckScalar("objective", f, o.evals); err != nil {
		return 0, err
	}
	return f + o.l1*o.l1Norm(x), nil
}

// pseudoGradient is the minimum-norm subgradient of the penalized objective.
func (o *owlqn) pseudoGradient(pg, x, g []float64) {
	copy(pg, g)
	for i := o.lo; i < o.hi; i++ {
		switch {
		case x[i] < 0:
			pg[i] = g[i] - o.l1
		case x[i] > 0:
			pg[i] = g[i] + o.l1
		case g[i]+o.l1 < 0:
			pg[i] = g[i] + o.l1
		case g[i]-o.l1 > 0:
			pg[i] = g[i] - o.l1
		default:
			pg[i] = 0
		}
	}
}

// project zeroes every penalized coordinate of x that left the orthant.
func (o *owlqn) project(x, orthant []float64) {
	for i := o.lo; i < o.hi; i++ {
		if x[i]*orthant[i] <= 0 {
			x[i] = 0
		}
	}
}

// search backtracks from step along dir until the Armijo condition holds in
// the chosen orthant. On success xNew, gNew and the returned value describe
// the accepted point.
func (o *owlqn) search(x, pg, dir, orthant, xNew, gNew []float64, f, step float64) (float64, float64, error) {
	for trial := 0; trial < o.cfg.MaxLinesearch; trial++ {
		copy(xNew, x)
		floats.AddScaled(xNew, step, dir)
		o.project(xNew, orthant)

		fNew, err := o.eval(xNew, gNew)
		if err != nil {
			return 0, 0, err
		}
		// pg . (xNew - x)
		var decrease float64
		for i := range x {
			decrease += pg[i] * (xNew[i] - x[i])
		}
		if fNew <= f+armijo*decrease {
			return fNew, step, nil
		}
		step *= 0.5
	}
	return 0, 0, errors.Wrapf(ErrLinesearch, "no sufficient decrease after %d trials", o.cfg.MaxLinesearch)
}

func minimizeOWLQN(obj Objective, x []float64, l1 float64, cfg Config) (Result, error) {
	n := len(x)
	o := &owlqn{obj: obj, cfg: cfg, l1: l1, lo: cfg.L1Start, hi: cfg.L1End}
	hist := newHistory(cfg.Memory, n)

	g := make([]float64, n)
	pg := make([]float64, n)
	dir := make([]float64, n)
	orthant := make([]float64, n)
	xNew := make([]float64, n)
	gNew := make([]float64, n)

	f, err := o.eval(x, g)
	if err != nil {
		return Result{}, err
	}

	res := Result{F: f, Status: MaxIterReached}
	for {
		o.pseudoGradient(pg, x, g)
		if converged(pg, x, cfg.GradTol) {
			res.Status = Converged
			break
		}
		if res.Iterations >= cfg.MaxIter {
			break
		}

		hist.direction(pg, dir)
		// keep the direction inside the orthant picked by the pseudo-gradient
		for i := o.lo; i < o.hi; i++ {
			if dir[i]*pg[i] >= 0 {
				dir[i] = 0
			}
		}
		if floats.Dot(dir, pg) >= 0 {
			hist.reset()
			copy(dir, pg)
			floats.Scale(-1, dir)
		}

		for i := range x {
			switch {
			case i < o.lo || i >= o.hi:
				orthant[i] = 0
			case x[i] != 0:
				orthant[i] = math.Copysign(1, x[i])
			default:
				orthant[i] = math.Copysign(1, -pg[i])
			}
		}

		step := 1.0
		if hist.count == 0 {
			step = 1 / floats.Norm(dir, 2)
		}
		fNew, step, err := o.search(x, pg, dir, orthant, xNew, gNew, f, step)
		if errors.Is(err, ErrLinesearch) && hist.count > 0 {
			// retry once along the steepest descent direction
			hist.reset()
			copy(dir, pg)
			floats.Scale(-1, dir)
			fNew, step, err = o.search(x, pg, dir, orthant, xNew, gNew, f, 1/floats.Norm(dir, 2))
		}
		if errors.Is(err, ErrLinesearch) {
			res.Status = Stalled
			cfg.Logger.Debug("owl-qn stopped without converging",
				log.SolverKey, "owlqn",
				log.IterationKey, res.Iterations,
				"reason", err.Error(),
			)
			break
		}
		if err != nil {
			return Result{}, err
		}

		hist.push(xNew, x, gNew, g)
		copy(x, xNew)
		copy(g, gNew)
		f = fNew
		res.Iterations++
		res.F = f

		if cfg.Trace != nil || cfg.Verbosity > 0 {
			o.pseudoGradient(pg, x, g)
			cfg.report(Iteration{Iter: res.Iterations, F: f, GradNorm: floats.Norm(pg, 2), Step: step})
		}
	}
	res.F = f
	return res, nil
}

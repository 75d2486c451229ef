// Package viz renders solver convergence traces with gonum/plot.
package viz

import (
	"math"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/qnglm/glm/solver"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// Recorder collects solver iterations. Its Record method can be used as
// glm.FitParams.Trace.
type Recorder struct {
	mu    sync.Mutex
	trace []solver.Iteration
}

// Record appends one iteration.
func (r *Recorder) Record(it solver.Iteration) {
	r.mu.Lock()
	r.trace = append(r.trace, it)
	r.mu.Unlock()
}

// Trace returns a copy of the recorded iterations.
func (r *Recorder) Trace() []solver.Iteration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]solver.Iteration(nil), r.trace...)
}

// ConvergencePlot plots the objective and the gradient norm against the
// iteration number. The y axis is logarithmic when every value is positive.
func ConvergencePlot(title string, trace []solver.Iteration) (*plot.Plot, error) {
	if len(trace) == 0 {
		return nil, errors.NewValueError("viz.ConvergencePlot", "empty trace")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "value"

	objective := make(plotter.XYs, len(trace))
	gradNorm := make(plotter.XYs, len(trace))
	positive := true
	for i, it := range trace {
		objective[i] = plotter.XY{X: float64(it.Iter), Y: it.F}
		gradNorm[i] = plotter.XY{X: float64(it.Iter), Y: it.GradNorm}
		if !(it.F > 0 && it.GradNorm > 0) || math.IsInf(it.F, 0) {
			positive = false
		}
	}
	if positive {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{}
	}

	fLine, err := plotter.NewLine(objective)
	if err != nil {
		return nil, errors.Wrap(err, "objective line")
	}
	gLine, err := plotter.NewLine(gradNorm)
	if err != nil {
		return nil, errors.Wrap(err, "gradient line")
	}
	gLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(fLine, gLine, plotter.NewGrid())
	p.Legend.Add("objective", fLine)
	p.Legend.Add("||grad||", gLine)
	p.Legend.Top = true
	return p, nil
}

// SaveConvergencePlot writes the plot to path; the format follows the file
// extension (png, svg, pdf, ...).
func SaveConvergencePlot(path, title string, trace []solver.Iteration) error {
	p, err := ConvergencePlot(title, trace)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

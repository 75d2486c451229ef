package viz

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot"

	"github.com/YuminosukeSato/qnglm/glm/solver"
)

func TestRecorderIsSafeForConcurrentUse(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record(solver.Iteration{Iter: i})
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Trace(), 8)
}

func TestConvergencePlot(t *testing.T) {
	trace := []solver.Iteration{
		{Iter: 1, F: 0.7, GradNorm: 0.3},
		{Iter: 2, F: 0.2, GradNorm: 0.05},
		{Iter: 3, F: 0.05, GradNorm: 0.001},
	}
	p, err := ConvergencePlot("logistic", trace)
	require.NoError(t, err)
	assert.IsType(t, plot.LogScale{}, p.Y.Scale)

	trace[2].F = 0
	p, err = ConvergencePlot("squared", trace)
	require.NoError(t, err)
	assert.IsType(t, plot.LinearScale{}, p.Y.Scale, "zero objective falls back to a linear axis")

	_, err = ConvergencePlot("empty", nil)
	assert.Error(t, err)
}

func TestSaveConvergencePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.svg")
	var r Recorder
	r.Record(solver.Iteration{Iter: 1, F: 1, GradNorm: 1})
	r.Record(solver.Iteration{Iter: 2, F: 0.5, GradNorm: 0.1})

	require.NoError(t, SaveConvergencePlot(path, "fit", r.Trace()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

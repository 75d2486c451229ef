package glm

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
)

func newTestHandle(t *testing.T, opts ...device.Option) *device.Handle {
	t.Helper()
	h := device.NewHandle(opts...)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func fitSync(t *testing.T, h *device.Handle, x linalg.Matrix, y []float64, dims Dims, lossType LossType, params FitParams, w []float64) *FitResult {
	t.Helper()
	res, err := Fit(h, nil, x, y, dims, lossType, params, w)
	require.NoError(t, err)
	require.NoError(t, h.Stream().Synchronize())
	return res
}

func toyLogistic() (linalg.Matrix, []float64) {
	return linalg.Matrix{Data: []float64{-2, -1, 1, 2}, Rows: 4, Cols: 1, Order: linalg.RowMajor},
		[]float64{0, 0, 1, 1}
}

// threeBlobs is a 3-class problem separable by the sign pattern of two
// features.
func threeBlobs() (linalg.Matrix, []float64) {
	centers := [][2]float64{{4, 0}, {-4, 4}, {-4, -4}}
	offsets := [][2]float64{{0.3, 0.2}, {-0.2, 0.1}, {0.1, -0.3}, {-0.1, -0.1}}
	var data, y []float64
	for c, ctr := range centers {
		for _, o := range offsets {
			data = append(data, ctr[0]+o[0], ctr[1]+o[1])
			y = append(y, float64(c))
		}
	}
	return linalg.Matrix{Data: data, Rows: len(y), Cols: 2, Order: linalg.RowMajor}, y
}

func TestFitSeparableConverges(t *testing.T) {
	h := newTestHandle(t)
	params := DefaultFitParams()
	params.GradTol = 1e-6

	t.Run("logistic", func(t *testing.T) {
		x, y := toyLogistic()
		dims := Dims{C: 1, D: 1, FitIntercept: true}
		w := make([]float64, dims.NParams())
		res := fitSync(t, h, x, y, dims, Logistic, params, w)
		assert.Less(t, res.F, 0.01)
		assert.Positive(t, res.Iterations)
	})

	t.Run("squared", func(t *testing.T) {
		x := linalg.Matrix{Data: []float64{0, 1, 2, 3, 4}, Rows: 5, Cols: 1, Order: linalg.ColMajor}
		y := []float64{1, 3, 5, 7, 9}
		dims := Dims{C: 1, D: 1, FitIntercept: true}
		w := make([]float64, dims.NParams())
		res := fitSync(t, h, x, y, dims, Squared, params, w)
		assert.Less(t, res.F, 1e-8)
		assert.True(t, res.Converged)
		assert.InDeltaSlice(t, []float64{2, 1}, w, 1e-4)
	})

	t.Run("softmax", func(t *testing.T) {
		x, y := threeBlobs()
		dims := Dims{C: 3, D: 2, FitIntercept: true}
		w := make([]float64, dims.NParams())
		res := fitSync(t, h, x, y, dims, Softmax, params, w)
		assert.Less(t, res.F, 0.05)
	})
}

func TestPredictReproducesToyLabels(t *testing.T) {
	h := newTestHandle(t)
	x, y := toyLogistic()
	dims := Dims{C: 1, D: 1, FitIntercept: true}
	w := make([]float64, dims.NParams())
	fitSync(t, h, x, y, dims, Logistic, DefaultFitParams(), w)

	preds := make([]float64, 4)
	require.NoError(t, Predict(h, nil, x, dims, Logistic, w, preds))
	require.NoError(t, h.Stream().Synchronize())
	assert.Equal(t, y, preds)

	again := make([]float64, 4)
	params := append([]float64(nil), w...)
	require.NoError(t, Predict(h, nil, x, dims, Logistic, w, again))
	require.NoError(t, h.Stream().Synchronize())
	assert.Equal(t, preds, again, "predict is idempotent")
	assert.Equal(t, params, w, "predict does not touch params")

	proba := make([]float64, 4)
	require.NoError(t, PredictProba(h, nil, x, dims, Logistic, w, proba))
	require.NoError(t, h.Stream().Synchronize())
	for i, p := range proba {
		assert.Equal(t, y[i], math.Round(p))
	}
}

func TestSoftmaxPredictIsArgmaxOfScores(t *testing.T) {
	h := newTestHandle(t)
	x, y := threeBlobs()
	dims := Dims{C: 3, D: 2, FitIntercept: true}
	w := make([]float64, dims.NParams())
	fitSync(t, h, x, y, dims, Softmax, DefaultFitParams(), w)

	probe := linalg.Matrix{Data: []float64{-5, 5}, Rows: 1, Cols: 2, Order: linalg.RowMajor}
	scores := make([]float64, 3)
	preds := make([]float64, 1)
	proba := make([]float64, 3)
	require.NoError(t, DecisionFunction(h, nil, probe, dims, w, scores))
	require.NoError(t, Predict(h, nil, probe, dims, Softmax, w, preds))
	require.NoError(t, PredictProba(h, nil, probe, dims, Softmax, w, proba))
	require.NoError(t, h.Stream().Synchronize())

	assert.Equal(t, float64(floats.MaxIdx(scores)), preds[0])
	assert.Equal(t, 1.0, preds[0])
	assert.InDelta(t, 1, floats.Sum(proba), 1e-12)
	assert.Equal(t, floats.MaxIdx(scores), floats.MaxIdx(proba))

	all := make([]float64, len(y))
	require.NoError(t, Predict(h, nil, x, dims, Softmax, w, all))
	require.NoError(t, h.Stream().Synchronize())
	assert.Equal(t, y, all)
}

func TestPreconditionFailures(t *testing.T) {
	pool := device.NewPoolAllocator(0, nil)
	h := newTestHandle(t, device.WithAllocator(pool))
	x, y := toyLogistic()

	cases := []struct {
		name     string
		dims     Dims
		lossType LossType
		w        []float64
	}{
		{"logistic with C=2", Dims{C: 2, D: 1, FitIntercept: true}, Logistic, make([]float64, 4)},
		{"squared with C=2", Dims{C: 2, D: 1}, Squared, make([]float64, 2)},
		{"softmax with C=1", Dims{C: 1, D: 1}, Softmax, make([]float64, 1)},
		{"unknown loss", Dims{C: 1, D: 1}, LossType(7), make([]float64, 1)},
		{"wrong feature count", Dims{C: 1, D: 2}, Logistic, make([]float64, 2)},
		{"wrong params length", Dims{C: 1, D: 1, FitIntercept: true}, Logistic, make([]float64, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Fit(h, nil, x, y, tc.dims, tc.lossType, DefaultFitParams(), tc.w)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrPrecondition), "%v", err)

			err = Predict(h, nil, x, tc.dims, tc.lossType, tc.w, make([]float64, 4))
			assert.True(t, errors.Is(err, errors.ErrPrecondition), "%v", err)
		})
	}

	_, err := Fit(h, nil, x, y, Dims{C: 1, D: 1}, LossType(7), DefaultFitParams(), make([]float64, 1))
	assert.True(t, errors.Is(err, errors.ErrUnknownLoss))

	_, err = Fit(h, nil, x, []float64{0, 1, 2, 1}, Dims{C: 1, D: 1}, Logistic, DefaultFitParams(), make([]float64, 1))
	assert.True(t, errors.Is(err, errors.ErrPrecondition), "logistic targets outside [0, 1]")

	_, err = Fit(nil, nil, x, y, Dims{C: 1, D: 1}, Logistic, DefaultFitParams(), make([]float64, 1))
	assert.True(t, errors.Is(err, errors.ErrPrecondition))

	require.NoError(t, h.Stream().Synchronize())
	assert.Zero(t, pool.Stats().Allocations, "no scratch is taken before validation passes")
}

func TestAllocationFailurePropagates(t *testing.T) {
	h := newTestHandle(t, device.WithMemoryLimit(64))
	big := linalg.Matrix{Data: make([]float64, 1000), Rows: 1000, Cols: 1, Order: linalg.RowMajor}
	bigY := make([]float64, 1000)
	_, err := Fit(h, nil, big, bigY, Dims{C: 1, D: 1}, Squared, DefaultFitParams(), make([]float64, 1))
	assert.True(t, errors.Is(err, device.ErrOutOfMemory))
	assert.False(t, errors.Is(err, errors.ErrPrecondition))
}

func TestScratchReleasedAfterFit(t *testing.T) {
	pool := device.NewPoolAllocator(0, nil)
	h := newTestHandle(t, device.WithAllocator(pool))
	x, y := toyLogistic()
	dims := Dims{C: 1, D: 1, FitIntercept: true}

	fitSync(t, h, x, y, dims, Logistic, DefaultFitParams(), make([]float64, 2))
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Allocations)
	assert.Zero(t, stats.InUseBytes)
}

func TestL2ShrinksWeights(t *testing.T) {
	h := newTestHandle(t)
	x, y := toyLogistic()
	dims := Dims{C: 1, D: 1}

	prev := math.Inf(1)
	for _, l2 := range []float64{0.01, 0.1, 1, 10} {
		params := DefaultFitParams()
		params.L2 = l2
		params.GradTol = 1e-8
		w := make([]float64, dims.NParams())
		fitSync(t, h, x, y, dims, Logistic, params, w)

		norm := floats.Norm(w, 2)
		assert.LessOrEqual(t, norm, prev+1e-9, "l2=%v", l2)
		prev = norm
	}
}

func TestL1ProducesSparseWeights(t *testing.T) {
	h := newTestHandle(t)
	// second feature is pure noise
	x := linalg.Matrix{
		Data: []float64{
			-2, 0.1,
			-1, -0.2,
			1, 0.3,
			2, -0.1,
			-3, 0.2,
			3, -0.3,
		},
		Rows: 6, Cols: 2, Order: linalg.RowMajor,
	}
	y := []float64{-4, -2, 2, 4, -6, 6}
	dims := Dims{C: 1, D: 2, FitIntercept: true}

	params := DefaultFitParams()
	params.L1 = 0.5
	w := make([]float64, dims.NParams())
	res := fitSync(t, h, x, y, dims, Squared, params, w)

	assert.True(t, res.Converged)
	assert.Equal(t, 0.0, w[1], "noise feature is dropped")
	assert.Greater(t, w[0], 1.5)
}

func TestNonConvergenceIsNotAnError(t *testing.T) {
	provider, captured := log.NewTestLoggerProvider(log.LevelWarn)
	log.SetProvider(provider)
	t.Cleanup(func() { log.SetProvider(log.NewZerologProvider(os.Stderr, log.LevelWarn)) })

	logger, _ := log.NewTestLogger(log.LevelInfo)
	h := newTestHandle(t, device.WithLogger(logger))
	x, y := threeBlobs()
	dims := Dims{C: 3, D: 2, FitIntercept: true}

	params := DefaultFitParams()
	params.MaxIter = 1
	params.GradTol = 1e-12
	res := fitSync(t, h, x, y, dims, Softmax, params, make([]float64, dims.NParams()))

	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, captured.ContainsMessage("failed to converge"))
	assert.True(t, logger.ContainsMessage("fit finished"))
	assert.True(t, logger.ContainsField(log.ConvergedKey, false))
}

func TestFitOnExplicitStream(t *testing.T) {
	h := newTestHandle(t)
	s := device.NewStream("fit", 0)
	defer s.Close()

	x, y := toyLogistic()
	dims := Dims{C: 1, D: 1, FitIntercept: true}
	w1 := make([]float64, dims.NParams())
	w2 := make([]float64, dims.NParams())

	r1, err := Fit(h, s, x, y, dims, Logistic, DefaultFitParams(), w1)
	require.NoError(t, err)
	r2, err := Fit(h, s, x, y, dims, Logistic, DefaultFitParams(), w2)
	require.NoError(t, err)
	require.NoError(t, s.Synchronize())

	assert.Equal(t, w1, w2, "fits are deterministic")
	assert.Equal(t, r1.F, r2.F)
}

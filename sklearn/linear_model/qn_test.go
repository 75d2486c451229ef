package linear_model

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/glm"
	"github.com/YuminosukeSato/qnglm/glm/solver"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

func linearData() (*mat.Dense, *mat.Dense) {
	n := 10
	x := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		y.Set(i, 0, 2*float64(i)+1)
	}
	return x, y
}

func blobs() (*mat.Dense, *mat.Dense) {
	x := mat.NewDense(9, 2, []float64{
		4, 0, 4.2, 0.3, 3.8, -0.2,
		-4, 4, -4.3, 3.9, -3.9, 4.2,
		-4, -4, -4.1, -3.8, -3.7, -4.2,
	})
	y := mat.NewDense(9, 1, []float64{10, 10, 10, 20, 20, 20, 30, 30, 30})
	return x, y
}

func TestQNSquaredRecoversLine(t *testing.T) {
	x, y := linearData()
	q := NewQN(WithLoss("normal"), WithTol(1e-8))
	require.NoError(t, q.Fit(x, y))

	assert.InDelta(t, 2, q.Coef().At(0, 0), 1e-2)
	assert.InDelta(t, 1, q.Intercept()[0], 1e-2)
	assert.Nil(t, q.Classes())
	assert.Equal(t, glm.Squared, q.Loss())
	assert.Positive(t, q.NIter())

	score, err := q.Score(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 1, score, 1e-4)

	_, err = q.PredictProba(x)
	assert.True(t, errors.Is(err, errors.ErrPrecondition))
}

func TestQNBinaryLogistic(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
	y := mat.NewDense(4, 1, []float64{3, 3, 5, 5})
	q := NewQN()
	require.NoError(t, q.Fit(x, y))

	assert.Equal(t, []float64{3, 5}, q.Classes())
	pred, err := q.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 5, 5}, mat.Col(nil, 0, pred))

	proba, err := q.PredictProba(x)
	require.NoError(t, err)
	r, c := proba.Dims()
	require.Equal(t, []int{4, 2}, []int{r, c})
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1, proba.At(i, 0)+proba.At(i, 1), 1e-12)
	}
	assert.Greater(t, proba.At(3, 1), proba.At(0, 1))

	scores, err := q.DecisionFunction(x)
	require.NoError(t, err)
	r, c = scores.Dims()
	assert.Equal(t, []int{4, 1}, []int{r, c})
	assert.Less(t, scores.At(0, 0), 0.0)
	assert.Greater(t, scores.At(3, 0), 0.0)
}

func TestQNSigmoidPromotedToSoftmax(t *testing.T) {
	x, y := blobs()
	q := NewQN(WithLoss("sigmoid"), WithL2(1e-3))
	require.NoError(t, q.Fit(x, y))

	assert.Equal(t, glm.Softmax, q.Loss())
	r, c := q.Coef().Dims()
	assert.Equal(t, []int{3, 2}, []int{r, c})
	assert.Len(t, q.Intercept(), 3)

	acc, err := q.Score(x, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	proba, err := q.PredictProba(x)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		assert.InDelta(t, 1, mat.Sum(proba.(*mat.Dense).RowView(i)), 1e-9)
	}
}

func TestQNL1ZeroesIrrelevantFeature(t *testing.T) {
	// The second feature is orthogonal to the first and to the intercept.
	x := mat.NewDense(8, 2, []float64{
		-2, 1, -1, -1, 1, -1, 2, 1,
		-2, 1, -1, -1, 1, -1, 2, 1,
	})
	y := mat.NewDense(8, 1, nil)
	for i := 0; i < 8; i++ {
		y.Set(i, 0, 3*x.At(i, 0)+1)
	}

	q := NewQN(WithLoss("squared"), WithL1(0.1), WithTol(1e-8))
	require.NoError(t, q.Fit(x, y))
	coef := q.Coef()
	assert.Equal(t, 0.0, coef.At(0, 1))
	assert.InDelta(t, 3, coef.At(0, 0), 0.1)
	// The intercept is never penalized.
	assert.InDelta(t, 1, q.Intercept()[0], 1e-3)
}

func TestQNErrors(t *testing.T) {
	x, y := linearData()

	t.Run("not fitted", func(t *testing.T) {
		q := NewQN()
		_, err := q.Predict(x)
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))
		assert.Nil(t, q.Coef())
		_, err = q.ExportWeights()
		assert.Error(t, err)
	})

	t.Run("unknown loss", func(t *testing.T) {
		err := NewQN(WithLoss("hinge")).Fit(x, y)
		assert.True(t, errors.Is(err, errors.ErrUnknownLoss))
	})

	t.Run("single class", func(t *testing.T) {
		ones := mat.NewDense(10, 1, nil)
		assert.Error(t, NewQN().Fit(x, ones))
	})

	t.Run("y shape", func(t *testing.T) {
		assert.Error(t, NewQN(WithLoss("squared")).Fit(x, mat.NewDense(9, 1, nil)))
		assert.Error(t, NewQN(WithLoss("squared")).Fit(x, mat.NewDense(10, 2, nil)))
	})

	t.Run("feature mismatch", func(t *testing.T) {
		q := NewQN(WithLoss("squared"))
		require.NoError(t, q.Fit(x, y))
		_, err := q.Predict(mat.NewDense(2, 3, nil))
		assert.Error(t, err)
	})

	t.Run("negative l2", func(t *testing.T) {
		err := NewQN(WithLoss("squared"), WithL2(-1)).Fit(x, y)
		assert.True(t, errors.Is(err, errors.ErrPrecondition))
	})

	t.Run("out of memory", func(t *testing.T) {
		h := device.NewHandle(device.WithMemoryLimit(8))
		t.Cleanup(func() { _ = h.Close() })
		q := NewQN(WithLoss("squared"), WithHandle(h))
		err := q.Fit(x, y)
		assert.True(t, errors.Is(err, device.ErrOutOfMemory))
		assert.False(t, q.IsFitted())
	})
}

func TestQNWeightsRoundTrip(t *testing.T) {
	x, y := blobs()
	q := NewQN(WithLoss("softmax"), WithL2(0.01), WithMaxIter(200))
	require.NoError(t, q.Fit(x, y))

	var buf bytes.Buffer
	require.NoError(t, model.WriteWeights(q, &buf))

	restored := NewQN()
	require.NoError(t, model.ReadWeights(restored, &buf))

	assert.Equal(t, q.GetParams(), restored.GetParams())
	assert.Equal(t, q.Classes(), restored.Classes())
	assert.Equal(t, q.NIter(), restored.NIter())

	want, err := q.DecisionFunction(x)
	require.NoError(t, err)
	got, err := restored.DecisionFunction(x)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))

	pred, err := restored.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, mat.Col(nil, 0, y), mat.Col(nil, 0, pred))
}

func TestQNImportRejectsInconsistentWeights(t *testing.T) {
	w := &model.ModelWeights{
		ModelType:    "QN",
		Version:      model.WeightsVersion,
		Loss:         "logistic",
		NFeatures:    1,
		Coefficients: []float64{1, 2},
		Intercepts:   []float64{0, 0},
		Classes:      []float64{0, 1},
		IsFitted:     true,
	}
	assert.Error(t, NewQN().ImportWeights(w), "logistic has one score row")

	w.Loss = "softmax"
	w.Classes = []float64{0, 1, 2}
	assert.Error(t, NewQN().ImportWeights(w), "class count must match score rows")
}

func TestQNParams(t *testing.T) {
	q := NewQN()
	require.NoError(t, q.SetParams(map[string]interface{}{
		"loss":          "softmax",
		"l1":            0.5,
		"l2":            1,
		"max_iter":      float64(30),
		"lbfgs_memory":  7,
		"fit_intercept": false,
	}))
	params := q.GetParams()
	assert.Equal(t, "softmax", params["loss"])
	assert.Equal(t, 0.5, params["l1"])
	assert.Equal(t, 1.0, params["l2"])
	assert.Equal(t, 30, params["max_iter"])
	assert.Equal(t, 7, params["lbfgs_memory"])
	assert.Equal(t, false, params["fit_intercept"])

	assert.Error(t, q.SetParams(map[string]interface{}{"loss": "hinge"}))
	assert.Error(t, q.SetParams(map[string]interface{}{"max_iter": 1.5}))
	assert.Error(t, q.SetParams(map[string]interface{}{"alpha": 1}))
}

func TestQNTraceAndConvergence(t *testing.T) {
	x, y := linearData()
	var trace []solver.Iteration
	q := NewQN(WithLoss("squared"), WithTrace(func(it solver.Iteration) {
		trace = append(trace, it)
	}))
	require.NoError(t, q.Fit(x, y))
	assert.True(t, q.Converged())
	require.NotEmpty(t, trace)
	assert.LessOrEqual(t, trace[len(trace)-1].F, trace[0].F)
	assert.False(t, math.IsNaN(trace[len(trace)-1].GradNorm))
	assert.Contains(t, q.String(), "fitted=true")
	assert.NotEmpty(t, q.ID())
}

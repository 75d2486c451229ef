package linear_model

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/linalg"
	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/glm"
	"github.com/YuminosukeSato/qnglm/glm/solver"
	"github.com/YuminosukeSato/qnglm/metrics"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
)

var (
	defaultHandleOnce sync.Once
	defaultHandle     *device.Handle
)

// sharedHandle is used by estimators created without WithHandle.
func sharedHandle() *device.Handle {
	defaultHandleOnce.Do(func() {
		defaultHandle = device.NewHandle()
	})
	return defaultHandle
}

// QN is a generalized linear model fitted with L-BFGS, or OWL-QN when an L1
// penalty is set. The loss selects the model: "logistic" (alias "sigmoid"),
// "softmax" or "squared" (aliases "l2", "normal").
//
// For classification losses y may hold arbitrary labels; they are mapped to
// [0, C) in sorted order. A logistic fit on more than two classes switches
// to softmax.
type QN struct {
	state *model.StateManager
	id    string

	// Hyperparameters
	loss              string
	l1                float64
	l2                float64
	maxIter           int
	tol               float64
	linesearchMaxIter int
	lbfgsMemory       int
	fitIntercept      bool
	verbose           int
	handle            *device.Handle
	trace             func(solver.Iteration)

	// Learned parameters
	lossType glm.LossType
	dims     glm.Dims
	params   []float64
	classes  []float64
	result   glm.FitResult
}

// QNOption configures a QN estimator.
type QNOption func(*QN)

// NewQN creates a logistic QN estimator without penalties.
func NewQN(opts ...QNOption) *QN {
	defaults := glm.DefaultFitParams()
	q := &QN{
		state:             model.NewStateManager(),
		id:                uuid.NewString(),
		loss:              glm.Logistic.String(),
		maxIter:           defaults.MaxIter,
		tol:               defaults.GradTol,
		linesearchMaxIter: defaults.LinesearchMaxIter,
		lbfgsMemory:       defaults.LBFGSMemory,
		fitIntercept:      true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// WithLoss sets the loss by name.
func WithLoss(loss string) QNOption {
	return func(q *QN) {
		q.loss = loss
	}
}

// WithL1 sets the L1 penalty strength.
func WithL1(l1 float64) QNOption {
	return func(q *QN) {
		q.l1 = l1
	}
}

// WithL2 sets the L2 penalty strength.
func WithL2(l2 float64) QNOption {
	return func(q *QN) {
		q.l2 = l2
	}
}

// WithMaxIter sets the iteration cap.
func WithMaxIter(n int) QNOption {
	return func(q *QN) {
		q.maxIter = n
	}
}

// WithTol sets the relative gradient tolerance.
func WithTol(tol float64) QNOption {
	return func(q *QN) {
		q.tol = tol
	}
}

// WithLinesearchMaxIter bounds function evaluations per line search.
func WithLinesearchMaxIter(n int) QNOption {
	return func(q *QN) {
		q.linesearchMaxIter = n
	}
}

// WithLBFGSMemory sets the number of correction pairs kept.
func WithLBFGSMemory(m int) QNOption {
	return func(q *QN) {
		q.lbfgsMemory = m
	}
}

// WithFitIntercept sets whether to fit one bias per score row.
func WithFitIntercept(fit bool) QNOption {
	return func(q *QN) {
		q.fitIntercept = fit
	}
}

// WithVerbose logs every solver iteration at debug level when v > 0.
func WithVerbose(v int) QNOption {
	return func(q *QN) {
		q.verbose = v
	}
}

// WithHandle runs fits and predictions on h instead of the shared handle.
func WithHandle(h *device.Handle) QNOption {
	return func(q *QN) {
		q.handle = h
	}
}

// WithTrace calls fn after every solver iteration.
func WithTrace(fn func(solver.Iteration)) QNOption {
	return func(q *QN) {
		q.trace = fn
	}
}

func (q *QN) deviceHandle() *device.Handle {
	if q.handle != nil {
		return q.handle
	}
	return sharedHandle()
}

func (q *QN) logger() log.Logger {
	return q.deviceHandle().Logger().With(
		log.ModelNameKey, "QN",
		log.EstimatorIDKey, q.id,
	)
}

// ID identifies this estimator in logs.
func (q *QN) ID() string {
	return q.id
}

func (q *QN) fitParams() glm.FitParams {
	return glm.FitParams{
		L1:                q.l1,
		L2:                q.l2,
		MaxIter:           q.maxIter,
		GradTol:           q.tol,
		LinesearchMaxIter: q.linesearchMaxIter,
		LBFGSMemory:       q.lbfgsMemory,
		Verbosity:         q.verbose,
		Trace:             q.trace,
	}
}

// Fit trains the model. Parameters start from zero on every call.
func (q *QN) Fit(X, y mat.Matrix) error {
	const op = "QN.Fit"
	lossType, err := glm.ParseLossType(q.loss)
	if err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.Wrap(errors.ErrEmptyData, op)
	}
	targets, err := columnOf(op, y, nSamples)
	if err != nil {
		return err
	}

	var classes []float64
	c := 1
	if lossType != glm.Squared {
		for i, v := range targets {
			if math.IsNaN(v) {
				return errors.NewValidationError("y", fmt.Sprintf("label at %d is NaN", i), v)
			}
		}
		classes, targets = encodeLabels(targets)
		if len(classes) < 2 {
			return errors.NewValueError(op, fmt.Sprintf("need at least two classes, got %d", len(classes)))
		}
		if lossType == glm.Logistic && len(classes) > 2 {
			lossType = glm.Softmax
		}
		if lossType == glm.Softmax {
			c = len(classes)
		}
	}

	dims := glm.Dims{C: c, D: nFeatures, FitIntercept: q.fitIntercept}
	x := linalg.FromDense(X)
	w := make([]float64, dims.NParams())

	res, err := q.run(op, func(h *device.Handle, s *device.Stream) (*glm.FitResult, error) {
		return glm.Fit(h, s, x, targets, dims, lossType, q.fitParams(), w)
	})
	if err != nil {
		q.state.Reset()
		return err
	}

	q.lossType = lossType
	q.dims = dims
	q.params = w
	q.classes = classes
	q.result = *res
	q.state.SetFitted(nFeatures, nSamples)

	q.logger().Debug("estimator fitted",
		log.OperationKey, log.OperationFit,
		log.LossKey, lossType.String(),
		log.ParamCountKey, dims.NParams(),
		log.IterationKey, res.Iterations,
		log.ConvergedKey, res.Converged,
	)
	return nil
}

// run executes one glm call on a private stream and waits for it.
func (q *QN) run(op string, fn func(*device.Handle, *device.Stream) (*glm.FitResult, error)) (*glm.FitResult, error) {
	h := q.deviceHandle()
	s := device.NewStream(q.id, 1)
	res, err := fn(h, s)
	if cerr := s.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, op)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *QN) checkPredict(method string, X mat.Matrix) (linalg.Matrix, error) {
	if err := q.state.RequireFitted("QN", method); err != nil {
		return linalg.Matrix{}, err
	}
	_, cols := X.Dims()
	if err := q.state.RequireFeatures("QN."+method, cols); err != nil {
		return linalg.Matrix{}, err
	}
	return linalg.FromDense(X), nil
}

// Predict returns an N x 1 matrix of predictions: class labels for the
// classification losses and fitted values for squared loss.
func (q *QN) Predict(X mat.Matrix) (mat.Matrix, error) {
	x, err := q.checkPredict("Predict", X)
	if err != nil {
		return nil, err
	}
	preds := make([]float64, x.Rows)
	_, err = q.run("QN.Predict", func(h *device.Handle, s *device.Stream) (*glm.FitResult, error) {
		return nil, glm.Predict(h, s, x, q.dims, q.lossType, q.params, preds)
	})
	if err != nil {
		return nil, err
	}
	if q.classes != nil {
		for i, p := range preds {
			preds[i] = q.classes[int(p)]
		}
	}
	return mat.NewDense(x.Rows, 1, preds), nil
}

// DecisionFunction returns the N x C matrix of linear scores.
func (q *QN) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	x, err := q.checkPredict("DecisionFunction", X)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, q.dims.C*x.Rows)
	_, err = q.run("QN.DecisionFunction", func(h *device.Handle, s *device.Stream) (*glm.FitResult, error) {
		return nil, glm.DecisionFunction(h, s, x, q.dims, q.params, scores)
	})
	if err != nil {
		return nil, err
	}
	// C x N column-major is N x C row-major.
	return mat.NewDense(x.Rows, q.dims.C, scores), nil
}

// PredictProba returns an N x K matrix of class probabilities, K being the
// number of classes. It fails for squared loss.
func (q *QN) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	x, err := q.checkPredict("PredictProba", X)
	if err != nil {
		return nil, err
	}
	proba := make([]float64, q.dims.C*x.Rows)
	_, err = q.run("QN.PredictProba", func(h *device.Handle, s *device.Stream) (*glm.FitResult, error) {
		return nil, glm.PredictProba(h, s, x, q.dims, q.lossType, q.params, proba)
	})
	if err != nil {
		return nil, err
	}
	if q.lossType == glm.Logistic {
		out := mat.NewDense(x.Rows, 2, nil)
		for i, p := range proba {
			out.Set(i, 0, 1-p)
			out.Set(i, 1, p)
		}
		return out, nil
	}
	return mat.NewDense(x.Rows, q.dims.C, proba), nil
}

// Score returns the accuracy for classification losses and R² for squared
// loss.
func (q *QN) Score(X, y mat.Matrix) (float64, error) {
	pred, err := q.Predict(X)
	if err != nil {
		return 0, err
	}
	n, _ := X.Dims()
	target, err := columnOf("QN.Score", y, n)
	if err != nil {
		return 0, err
	}
	yTrue := mat.NewVecDense(n, target)
	yPred := mat.NewVecDense(n, mat.Col(nil, 0, pred))

	var score float64
	if q.lossType == glm.Squared {
		score, err = metrics.R2Score(yTrue, yPred)
	} else {
		score, err = metrics.Accuracy(yTrue, yPred)
	}
	if err != nil {
		return 0, err
	}
	key := log.AccuracyKey
	if q.lossType == glm.Squared {
		key = log.R2ScoreKey
	}
	q.logger().Debug("scored", log.OperationKey, log.OperationScore, key, score)
	return score, nil
}

// Coef returns the C x D weight matrix, or nil before fitting.
func (q *QN) Coef() *mat.Dense {
	if !q.state.IsFitted() {
		return nil
	}
	return mat.NewDense(q.dims.C, q.dims.D, q.dims.Coef(q.params))
}

// Intercept returns the C intercepts (zeros without an intercept), or nil
// before fitting.
func (q *QN) Intercept() []float64 {
	if !q.state.IsFitted() {
		return nil
	}
	return q.dims.Intercept(q.params)
}

// NIter returns the number of solver iterations of the last fit.
func (q *QN) NIter() int {
	return q.result.Iterations
}

// Converged reports whether the last fit met the gradient tolerance.
func (q *QN) Converged() bool {
	return q.result.Converged
}

// Classes returns the labels seen during fitting; nil for squared loss.
func (q *QN) Classes() []float64 {
	return append([]float64(nil), q.classes...)
}

// Loss returns the loss used by the last fit. It can differ from the
// configured one when logistic was promoted to softmax.
func (q *QN) Loss() glm.LossType {
	return q.lossType
}

// IsFitted returns whether the model has been fitted.
func (q *QN) IsFitted() bool {
	return q.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (q *QN) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"loss":                q.loss,
		"l1":                  q.l1,
		"l2":                  q.l2,
		"max_iter":            q.maxIter,
		"tol":                 q.tol,
		"linesearch_max_iter": q.linesearchMaxIter,
		"lbfgs_memory":        q.lbfgsMemory,
		"fit_intercept":       q.fitIntercept,
		"verbose":             q.verbose,
	}
}

// SetParams sets hyperparameters by name. Numbers may be given as int or
// float64 so that params decoded from JSON round-trip.
func (q *QN) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "loss":
			s, ok := v.(string)
			if !ok {
				err = errors.NewValidationError(k, "must be a string", v)
				break
			}
			if _, err = glm.ParseLossType(s); err == nil {
				q.loss = s
			}
		case "l1":
			q.l1, err = toFloat(k, v)
		case "l2":
			q.l2, err = toFloat(k, v)
		case "tol":
			q.tol, err = toFloat(k, v)
		case "max_iter":
			q.maxIter, err = toInt(k, v)
		case "linesearch_max_iter":
			q.linesearchMaxIter, err = toInt(k, v)
		case "lbfgs_memory":
			q.lbfgsMemory, err = toInt(k, v)
		case "verbose":
			q.verbose, err = toInt(k, v)
		case "fit_intercept":
			b, ok := v.(bool)
			if !ok {
				err = errors.NewValidationError(k, "must be a bool", v)
				break
			}
			q.fitIntercept = b
		default:
			err = errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportWeights returns the fitted parameters.
func (q *QN) ExportWeights() (*model.ModelWeights, error) {
	if err := q.state.RequireFitted("QN", "ExportWeights"); err != nil {
		return nil, err
	}
	return &model.ModelWeights{
		ModelType:       "QN",
		Version:         model.WeightsVersion,
		Loss:            q.lossType.String(),
		NFeatures:       q.dims.D,
		Coefficients:    q.dims.Coef(q.params),
		Intercepts:      q.dims.Intercept(q.params),
		Classes:         q.Classes(),
		Hyperparameters: q.GetParams(),
		Metadata: map[string]interface{}{
			"n_iter":    q.result.Iterations,
			"converged": q.result.Converged,
			"objective": q.result.F,
		},
		IsFitted: true,
	}, nil
}

// ImportWeights restores a model exported by ExportWeights.
func (q *QN) ImportWeights(w *model.ModelWeights) error {
	if w == nil {
		return errors.NewValueError("QN.ImportWeights", "nil weights")
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if !w.IsFitted {
		q.state.Reset()
		return nil
	}
	lossType, err := glm.ParseLossType(w.Loss)
	if err != nil {
		return err
	}
	if err := q.SetParams(w.Hyperparameters); err != nil {
		return err
	}

	dims := glm.Dims{C: w.NScores(), D: w.NFeatures, FitIntercept: q.fitIntercept}
	if lossType != glm.Softmax && dims.C != 1 {
		return errors.NewDimensionError("QN.ImportWeights", 1, dims.C, 0)
	}
	if lossType != glm.Squared {
		want := dims.C
		if lossType == glm.Logistic {
			want = 2
		}
		if len(w.Classes) != want {
			return errors.NewDimensionError("QN.ImportWeights", want, len(w.Classes), 0)
		}
	}

	q.lossType = lossType
	q.dims = dims
	q.params = dims.Pack(w.Coefficients, w.Intercepts)
	q.classes = nil
	if lossType != glm.Squared {
		q.classes = append([]float64(nil), w.Classes...)
	}
	q.result = glm.FitResult{}
	if v, ok := w.Metadata["n_iter"].(float64); ok {
		q.result.Iterations = int(v)
	}
	if v, ok := w.Metadata["converged"].(bool); ok {
		q.result.Converged = v
	}
	q.state.SetFitted(dims.D, 0)
	return nil
}

// String returns the string representation of the model.
func (q *QN) String() string {
	if !q.state.IsFitted() {
		return fmt.Sprintf("QN(loss=%s, l1=%g, l2=%g, max_iter=%d, tol=%g)",
			q.loss, q.l1, q.l2, q.maxIter, q.tol)
	}
	return fmt.Sprintf("QN(loss=%s, %s, n_iter=%d, fitted=true)",
		q.lossType, q.dims, q.result.Iterations)
}

// columnOf extracts an n x 1 matrix as a slice.
func columnOf(op string, y mat.Matrix, n int) ([]float64, error) {
	rows, cols := y.Dims()
	if rows != n {
		return nil, errors.NewDimensionError(op, n, rows, 0)
	}
	if cols != 1 {
		return nil, errors.NewDimensionError(op, 1, cols, 1)
	}
	return mat.Col(nil, 0, y), nil
}

// encodeLabels returns the sorted distinct labels and y mapped to their
// indices.
func encodeLabels(y []float64) (classes, encoded []float64) {
	seen := make(map[float64]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	classes = make([]float64, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Float64s(classes)

	index := make(map[float64]int, len(classes))
	for i, v := range classes {
		index[v] = i
	}
	encoded = make([]float64, len(y))
	for i, v := range y {
		encoded[i] = float64(index[v])
	}
	return classes, encoded
}

func toFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}

func toInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

var (
	_ model.Classifier     = (*QN)(nil)
	_ model.WeightExporter = (*QN)(nil)
)

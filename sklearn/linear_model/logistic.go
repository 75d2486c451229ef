package linear_model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
//
// The penalty is scaled to the mean loss minimized by QN: the
// scikit-learn objective sum(loss) + 1/(2C)||w||² equals N times
// mean(loss) + l2/2 ||w||² with l2 = 1/(C*N), and likewise for L1.
// More than two classes are fitted jointly with softmax.
type LogisticRegression struct {
	qn *QN

	// Hyperparameters
	penalty      string  // Regularization: "l2", "l1", "elasticnet", "none"
	C            float64 // Inverse regularization strength
	fitIntercept bool
	maxIter      int
	tol          float64
	l1Ratio      float64 // Share of L1 in the elastic net penalty
	verbose      int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		qn:           NewQN(WithLoss("logistic")),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		tol:          1e-4,
		l1Ratio:      0.5,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLRL1Ratio sets the L1 share of the elastic net penalty
func WithLRL1Ratio(r float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.l1Ratio = r
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRVerbose logs solver iterations when v > 0
func WithLRVerbose(v int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.verbose = v
	}
}

// WithLRHandle runs the solver on h
func WithLRHandle(h *device.Handle) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.qn.handle = h
	}
}

// strengths converts penalty and C into per-sample L1 and L2 strengths.
func (lr *LogisticRegression) strengths(nSamples int) (l1, l2 float64, err error) {
	if lr.penalty == "none" {
		return 0, 0, nil
	}
	if !(lr.C > 0) {
		return 0, 0, errors.NewValidationError("C", "must be positive", lr.C)
	}
	s := 1 / (lr.C * float64(nSamples))
	switch lr.penalty {
	case "l2":
		return 0, s, nil
	case "l1":
		return s, 0, nil
	case "elasticnet":
		if lr.l1Ratio < 0 || lr.l1Ratio > 1 {
			return 0, 0, errors.NewValidationError("l1_ratio", "must be in [0, 1]", lr.l1Ratio)
		}
		return lr.l1Ratio * s, (1 - lr.l1Ratio) * s, nil
	}
	return 0, 0, errors.NewValidationError("penalty", "must be l2, l1, elasticnet or none", lr.penalty)
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, _ := X.Dims()
	if nSamples == 0 {
		return errors.Wrap(errors.ErrEmptyData, "LogisticRegression.Fit")
	}
	l1, l2, err := lr.strengths(nSamples)
	if err != nil {
		return err
	}

	q := lr.qn
	q.loss = "logistic"
	q.l1 = l1
	q.l2 = l2
	q.fitIntercept = lr.fitIntercept
	q.maxIter = lr.maxIter
	q.tol = lr.tol
	q.verbose = lr.verbose
	return q.Fit(X, y)
}

// Predict returns the predicted class labels
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	return lr.qn.Predict(X)
}

// PredictProba returns class probabilities, one column per class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return lr.qn.PredictProba(X)
}

// DecisionFunction returns the linear scores
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	return lr.qn.DecisionFunction(X)
}

// Score returns the mean accuracy on the given test data
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	return lr.qn.Score(X, y)
}

// Coef returns the coefficient matrix (1 x D for binary, C x D otherwise)
func (lr *LogisticRegression) Coef() *mat.Dense {
	return lr.qn.Coef()
}

// Intercept returns the intercept terms
func (lr *LogisticRegression) Intercept() []float64 {
	return lr.qn.Intercept()
}

// Classes returns the class labels
func (lr *LogisticRegression) Classes() []float64 {
	return lr.qn.Classes()
}

// NIter returns the number of solver iterations
func (lr *LogisticRegression) NIter() int {
	return lr.qn.NIter()
}

// IsFitted returns whether the model has been fitted
func (lr *LogisticRegression) IsFitted() bool {
	return lr.qn.IsFitted()
}

// GetParams returns the model parameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
		"l1_ratio":      lr.l1Ratio,
		"verbose":       lr.verbose,
	}
}

// SetParams sets the model parameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "penalty":
			s, ok := v.(string)
			if !ok {
				err = errors.NewValidationError(k, "must be a string", v)
				break
			}
			lr.penalty = s
		case "C":
			lr.C, err = toFloat(k, v)
		case "tol":
			lr.tol, err = toFloat(k, v)
		case "l1_ratio":
			lr.l1Ratio, err = toFloat(k, v)
		case "max_iter":
			lr.maxIter, err = toInt(k, v)
		case "verbose":
			lr.verbose, err = toInt(k, v)
		case "fit_intercept":
			b, ok := v.(bool)
			if !ok {
				err = errors.NewValidationError(k, "must be a bool", v)
				break
			}
			lr.fitIntercept = b
		default:
			err = errors.NewValidationError(k, "unknown parameter", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportWeights returns the fitted parameters
func (lr *LogisticRegression) ExportWeights() (*model.ModelWeights, error) {
	w, err := lr.qn.ExportWeights()
	if err != nil {
		return nil, err
	}
	w.ModelType = "LogisticRegression"
	w.Hyperparameters = lr.GetParams()
	return w, nil
}

// ImportWeights restores a model exported by ExportWeights
func (lr *LogisticRegression) ImportWeights(w *model.ModelWeights) error {
	if w == nil {
		return errors.NewValueError("LogisticRegression.ImportWeights", "nil weights")
	}
	if w.ModelType != "LogisticRegression" {
		return errors.NewValidationError("model_type", "expected LogisticRegression", w.ModelType)
	}
	if err := lr.SetParams(w.Hyperparameters); err != nil {
		return err
	}
	inner := w.Clone()
	inner.Hyperparameters = map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
	}
	return lr.qn.ImportWeights(inner)
}

// String returns the string representation of the model
func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(penalty=%s, C=%g, max_iter=%d, fitted=%t)",
		lr.penalty, lr.C, lr.maxIter, lr.IsFitted())
}

var (
	_ model.Classifier     = (*LogisticRegression)(nil)
	_ model.WeightExporter = (*LogisticRegression)(nil)
)

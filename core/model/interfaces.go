package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer computes accuracy for classifiers and R² for regressors.
type Scorer interface {
	Score(X, y mat.Matrix) (float64, error)
}

// Estimator is a fittable predictor.
type Estimator interface {
	Fitter
	Predictor
	Scorer
}

// Classifier adds class probabilities and raw scores.
type Classifier interface {
	Estimator

	// PredictProba returns an N x C matrix of class probabilities.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// DecisionFunction returns the N x C matrix of linear scores (N x 1 for
	// binary problems).
	DecisionFunction(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the labels seen during fitting, in index order.
	Classes() []float64
}

// ParameterGetter exposes hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter allows hyperparameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// WeightExporter converts a fitted model to and from ModelWeights.
type WeightExporter interface {
	ExportWeights() (*ModelWeights, error)
	ImportWeights(w *ModelWeights) error
}

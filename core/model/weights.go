package model

import (
	"encoding/json"
	"fmt"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// WeightsVersion is written into every exported ModelWeights.
const WeightsVersion = "1"

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
type ModelWeights struct {
	// ModelType はモデルの種類（QN, LogisticRegression）
	ModelType string `json:"model_type"`

	// Version はモデルのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Loss は学習に用いた損失関数
	Loss string `json:"loss"`

	// NFeatures is D.
	NFeatures int `json:"n_features"`

	// Coefficients は C x D の重み係数（行優先）
	Coefficients []float64 `json:"coefficients"`

	// Intercepts は C 個の切片
	Intercepts []float64 `json:"intercepts"`

	// Classes maps class index to the original label; empty for regression.
	Classes []float64 `json:"classes,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mw, "", "  ")
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, mw); err != nil {
		return errors.Wrap(err, "decode model weights")
	}
	return nil
}

// NScores returns C, the number of score rows.
func (mw *ModelWeights) NScores() int {
	return len(mw.Intercepts)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	}
	if mw.Version != WeightsVersion {
		return errors.NewValidationError("version", fmt.Sprintf("unsupported, want %s", WeightsVersion), mw.Version)
	}
	if !mw.IsFitted {
		if len(mw.Coefficients) > 0 {
			return errors.NewValidationError("coefficients", "unfitted model should not have coefficients", len(mw.Coefficients))
		}
		return nil
	}
	c := mw.NScores()
	if c == 0 {
		return errors.NewValidationError("intercepts", "fitted model must have at least one score row", 0)
	}
	if len(mw.Coefficients) != c*mw.NFeatures {
		return errors.NewDimensionError("ModelWeights.Validate", c*mw.NFeatures, len(mw.Coefficients), 1)
	}
	return nil
}

// Clone はModelWeightsのディープコピーを作成
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := &ModelWeights{
		ModelType:       mw.ModelType,
		Version:         mw.Version,
		Loss:            mw.Loss,
		NFeatures:       mw.NFeatures,
		IsFitted:        mw.IsFitted,
		Coefficients:    append([]float64(nil), mw.Coefficients...),
		Intercepts:      append([]float64(nil), mw.Intercepts...),
		Classes:         append([]float64(nil), mw.Classes...),
		Hyperparameters: make(map[string]interface{}, len(mw.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(mw.Metadata)),
	}
	for k, v := range mw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

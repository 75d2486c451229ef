package cmd

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/preprocessing"
	"github.com/YuminosukeSato/qnglm/sklearn/linear_model"
)

const (
	meanKey  = "feature_mean"
	scaleKey = "feature_scale"
)

// pipeline is a QN model with optional feature standardization. The scaler
// statistics travel in the model metadata.
type pipeline struct {
	qn     *linear_model.QN
	scaler *preprocessing.StandardScaler
}

func (p *pipeline) transform(x mat.Matrix) (mat.Matrix, error) {
	if p.scaler == nil {
		return x, nil
	}
	return p.scaler.Transform(x)
}

func (p *pipeline) ExportWeights() (*model.ModelWeights, error) {
	w, err := p.qn.ExportWeights()
	if err != nil {
		return nil, err
	}
	if p.scaler != nil {
		w.Metadata[meanKey] = p.scaler.Mean
		w.Metadata[scaleKey] = p.scaler.Scale
	}
	return w, nil
}

func (p *pipeline) ImportWeights(w *model.ModelWeights) error {
	if err := p.qn.ImportWeights(w); err != nil {
		return err
	}
	p.scaler = nil
	rawMean, ok := w.Metadata[meanKey]
	if !ok {
		return nil
	}
	mean, okMean := toFloats(rawMean)
	scale, okScale := toFloats(w.Metadata[scaleKey])
	if !okMean || !okScale {
		return errors.NewValidationError("metadata", "malformed feature statistics", rawMean)
	}
	if len(mean) != w.NFeatures {
		return errors.NewDimensionError("pipeline.ImportWeights", w.NFeatures, len(mean), 1)
	}
	s, err := preprocessing.StandardScalerFrom(mean, scale)
	if err != nil {
		return err
	}
	p.scaler = s
	return nil
}

// toFloats accepts both []float64 and the []interface{} produced by JSON
// decoding.
func toFloats(v interface{}) ([]float64, bool) {
	switch x := v.(type) {
	case []float64:
		return x, true
	case []interface{}:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

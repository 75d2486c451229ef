package model

import (
	"io"
	"os"

	"github.com/YuminosukeSato/qnglm/pkg/errors"
)

// SaveWeights はモデルの重みをJSONファイルに保存する
//
// 使用例:
//
//	est := linear_model.NewQN()
//	// ... モデルの学習 ...
//	err := model.SaveWeights(est, "model.json")
func SaveWeights(m WeightExporter, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()
	return WriteWeights(m, file)
}

// LoadWeights はJSONファイルからモデルの重みを読み込む
func LoadWeights(m WeightExporter, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	return ReadWeights(m, file)
}

// WriteWeights exports m and writes it to w as indented JSON.
func WriteWeights(m WeightExporter, w io.Writer) error {
	weights, err := m.ExportWeights()
	if err != nil {
		return err
	}
	data, err := weights.ToJSON()
	if err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write model")
	}
	return nil
}

// ReadWeights reads JSON weights from r, validates them and imports them
// into m.
func ReadWeights(m WeightExporter, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "failed to read model")
	}
	var weights ModelWeights
	if err := weights.FromJSON(data); err != nil {
		return err
	}
	if err := weights.Validate(); err != nil {
		return err
	}
	return m.ImportWeights(&weights)
}

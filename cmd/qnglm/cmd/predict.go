package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
	"github.com/YuminosukeSato/qnglm/sklearn/linear_model"
)

// Apply a saved model to a CSV file.
func predictCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "predict",
		Short:   "Apply a saved model to a CSV file of features.",
		Example: `  qnglm predict --model model.json --data test.csv --out predictions.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.predict(cmd)
		},
	}

	f := cmd.Flags()
	f.String("model", "model.json", "model written by qnglm fit")
	f.String("data", "", "features (CSV, every column is a feature)")
	f.Bool("header", false, "skip the first CSV line")
	f.Bool("proba", false, "write class probabilities instead of labels")
	f.Bool("scores", false, "write raw linear scores instead of labels")
	f.String("out", "", "output CSV (default stdout)")
	return cmd
}

func (a *app) predict(cmd *cobra.Command) error {
	data := a.v.GetString("data")
	if data == "" {
		return errors.New("--data is required")
	}
	p := &pipeline{qn: linear_model.NewQN(linear_model.WithHandle(a.handle))}
	if err := model.LoadWeights(p, a.v.GetString("model")); err != nil {
		return err
	}
	raw, _, err := readCSV(data, a.v.GetBool("header"), false)
	if err != nil {
		return err
	}
	x, err := p.transform(raw)
	if err != nil {
		return err
	}
	q := p.qn

	var result mat.Matrix
	switch {
	case a.v.GetBool("proba"):
		result, err = q.PredictProba(x)
	case a.v.GetBool("scores"):
		result, err = q.DecisionFunction(x)
	default:
		result, err = q.Predict(x)
	}
	if err != nil {
		return err
	}

	rows, _ := result.Dims()
	a.logger.Info("predicted", log.OperationKey, log.OperationPredict, log.SamplesKey, rows)
	path := a.v.GetString("out")
	if path == "" {
		return writeCSV(cmd.OutOrStdout(), result)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	return writeAndClose(f, result)
}

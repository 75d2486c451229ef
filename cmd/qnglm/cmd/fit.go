package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/qnglm/core/model"
	"github.com/YuminosukeSato/qnglm/glm"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
	"github.com/YuminosukeSato/qnglm/pkg/viz"
	"github.com/YuminosukeSato/qnglm/preprocessing"
	"github.com/YuminosukeSato/qnglm/sklearn/linear_model"
)

// Fit a model to a CSV file and save it as JSON.
func fitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a model to a CSV file whose last column is the target.",
		Example: `  qnglm fit --data train.csv --loss logistic --l2 0.01 --out model.json
  qnglm fit --data train.csv --loss softmax --l1 0.001 --plot convergence.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fit(cmd)
		},
	}

	defaults := glm.DefaultFitParams()
	f := cmd.Flags()
	f.String("data", "", "training data (CSV, last column is the target)")
	f.Bool("header", false, "skip the first CSV line")
	f.String("loss", "logistic", "loss function: logistic (sigmoid), softmax or squared (l2, normal)")
	f.Float64("l1", 0, "L1 penalty strength; non-zero selects OWL-QN")
	f.Float64("l2", 0, "L2 penalty strength")
	f.Int("max-iter", defaults.MaxIter, "maximum solver iterations")
	f.Float64("tol", defaults.GradTol, "relative gradient tolerance")
	f.Int("linesearch-max-iter", defaults.LinesearchMaxIter, "maximum function evaluations per line search")
	f.Int("lbfgs-memory", defaults.LBFGSMemory, "number of L-BFGS correction pairs")
	f.Bool("fit-intercept", true, "fit one bias per score row")
	f.Bool("standardize", false, "scale features to zero mean and unit variance; the statistics are saved with the model")
	f.Int("verbose", 0, "log every solver iteration at debug level when > 0")
	f.String("out", "model.json", "where to write the fitted model")
	f.String("plot", "", "write a convergence plot; the format follows the extension (png, svg, pdf)")
	return cmd
}

func (a *app) fit(cmd *cobra.Command) error {
	data := a.v.GetString("data")
	if data == "" {
		return errors.New("--data is required")
	}
	x, y, err := readCSV(data, a.v.GetBool("header"), true)
	if err != nil {
		return err
	}

	var rec viz.Recorder
	opts := []linear_model.QNOption{
		linear_model.WithLoss(a.v.GetString("loss")),
		linear_model.WithL1(a.v.GetFloat64("l1")),
		linear_model.WithL2(a.v.GetFloat64("l2")),
		linear_model.WithMaxIter(a.v.GetInt("max-iter")),
		linear_model.WithTol(a.v.GetFloat64("tol")),
		linear_model.WithLinesearchMaxIter(a.v.GetInt("linesearch-max-iter")),
		linear_model.WithLBFGSMemory(a.v.GetInt("lbfgs-memory")),
		linear_model.WithFitIntercept(a.v.GetBool("fit-intercept")),
		linear_model.WithVerbose(a.v.GetInt("verbose")),
		linear_model.WithHandle(a.handle),
	}
	plotPath := a.v.GetString("plot")
	if plotPath != "" {
		opts = append(opts, linear_model.WithTrace(rec.Record))
	}

	p := &pipeline{qn: linear_model.NewQN(opts...)}
	var features mat.Matrix = x
	if a.v.GetBool("standardize") {
		p.scaler = preprocessing.NewStandardScaler(true, true)
		if features, err = p.scaler.FitTransform(x); err != nil {
			return err
		}
	}
	q := p.qn
	if err := q.Fit(features, y); err != nil {
		return err
	}

	out := a.v.GetString("out")
	if err := model.SaveWeights(p, out); err != nil {
		return err
	}
	if plotPath != "" {
		title := fmt.Sprintf("%s fit", q.Loss())
		if err := viz.SaveConvergencePlot(plotPath, title, rec.Trace()); err != nil {
			return err
		}
	}

	score, err := q.Score(features, y)
	if err != nil {
		// A constant target has no R².
		a.logger.Warn("training score unavailable", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loss=%s iterations=%d converged=%t train_score=%.6g model=%s\n",
		q.Loss(), q.NIter(), q.Converged(), score, out)
	a.logger.Info("model saved",
		log.OperationKey, log.OperationFit,
		log.LossKey, q.Loss().String(),
		log.IterationKey, q.NIter(),
		log.ConvergedKey, q.Converged(),
	)
	return nil
}

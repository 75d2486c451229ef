package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/qnglm/core/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	// An empty config file keeps $HOME/.qnglm.yaml out of the test.
	cfg := writeFile(t, t.TempDir(), "empty.yaml", "")
	root.SetArgs(append(args, "--config", cfg))
	err := root.Execute()
	return out.String(), err
}

const train = `x1,x2,y
-2,-1,0
-1.5,-2,0
-1,-1.5,0
1,1.5,1
1.5,2,1
2,1,1
`

func TestFitPredictRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "train.csv", train)
	test := writeFile(t, dir, "test.csv", "a,b\n-3,-3\n3,3\n")
	modelPath := filepath.Join(dir, "model.json")
	plotPath := filepath.Join(dir, "conv.png")
	predPath := filepath.Join(dir, "pred.csv")

	out, err := run(t, "fit", "--data", data, "--header", "--l2", "0.01",
		"--out", modelPath, "--plot", plotPath)
	require.NoError(t, err)
	assert.Contains(t, out, "loss=logistic")
	assert.Contains(t, out, "converged=true")
	assert.FileExists(t, plotPath)

	raw, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	var w model.ModelWeights
	require.NoError(t, json.Unmarshal(raw, &w))
	assert.Equal(t, "QN", w.ModelType)
	assert.Equal(t, []float64{0, 1}, w.Classes)
	assert.Len(t, w.Coefficients, 2)

	_, err = run(t, "predict", "--model", modelPath, "--data", test, "--header", "--out", predPath)
	require.NoError(t, err)
	preds, err := os.ReadFile(predPath)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n", string(preds))

	out, err = run(t, "predict", "--model", modelPath, "--data", test, "--header", "--proba")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.Split(lines[0], ","), 2)
}

func TestStandardizedModel(t *testing.T) {
	dir := t.TempDir()
	// The second feature is on a much larger scale.
	data := writeFile(t, dir, "train.csv", "-2,-1000,0\n-1,-2000,0\n1,2000,1\n2,1000,1\n")
	test := writeFile(t, dir, "test.csv", "-3,-3000\n3,3000\n")
	modelPath := filepath.Join(dir, "model.json")

	_, err := run(t, "fit", "--data", data, "--standardize", "--l2", "0.01", "--out", modelPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	var w model.ModelWeights
	require.NoError(t, w.FromJSON(raw))
	require.Contains(t, w.Metadata, meanKey)
	mean, ok := toFloats(w.Metadata[meanKey])
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0, 0}, mean, 1e-12)

	out, err := run(t, "predict", "--model", modelPath, "--data", test)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n", out)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "train.csv", "1,3\n2,5\n3,7\n4,9\n")
	cfg := writeFile(t, dir, "qnglm.yaml", "loss: squared\ntol: 1.0e-8\n")
	modelPath := filepath.Join(dir, "model.json")

	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"fit", "--config", cfg, "--data", data, "--out", modelPath})
	t.Setenv("QNGLM_MAX_ITER", "500")
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "loss=squared")

	m := &model.ModelWeights{}
	raw, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	require.NoError(t, m.FromJSON(raw))
	assert.Equal(t, "squared", m.Loss)
	assert.InDelta(t, 2, m.Coefficients[0], 1e-3)
	assert.InDelta(t, 1, m.Intercepts[0], 1e-3)
	assert.EqualValues(t, 500, m.Hyperparameters["max_iter"])
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "fit")
	assert.ErrorContains(t, err, "--data is required")

	bad := writeFile(t, dir, "bad.csv", "1,x\n")
	_, err = run(t, "fit", "--data", bad)
	assert.Error(t, err)

	oneCol := writeFile(t, dir, "one.csv", "1\n2\n")
	_, err = run(t, "fit", "--data", oneCol)
	assert.Error(t, err)

	_, err = run(t, "predict", "--data", oneCol, "--model", filepath.Join(dir, "nope.json"))
	assert.Error(t, err)

	_, err = run(t, "fit", "--data", oneCol, "--log-level", "loud")
	assert.Error(t, err)

	root := RootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"fit", "--config", filepath.Join(dir, "missing.yaml"), "--data", oneCol})
	assert.Error(t, root.Execute(), "an explicit config file must exist")
}

func TestServeMetrics(t *testing.T) {
	a := newApp()
	addr, err := a.serveMetrics("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	a.metrics.RecordFit("logistic", "converged", 3, time.Millisecond)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `qnglm_fits_total{loss="logistic",status="converged"} 1`)
}

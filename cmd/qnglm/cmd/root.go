// Package cmd implements the qnglm command line.
package cmd

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/qnglm/core/device"
	"github.com/YuminosukeSato/qnglm/pkg/errors"
	"github.com/YuminosukeSato/qnglm/pkg/log"
	"github.com/YuminosukeSato/qnglm/pkg/telemetry"
)

// app carries the state shared by all sub-commands of one invocation.
type app struct {
	v       *viper.Viper
	metrics *telemetry.Metrics
	handle  *device.Handle
	server  *http.Server
	logger  log.Logger
}

func newApp() *app {
	return &app{v: viper.New(), metrics: telemetry.NewMetrics(), logger: log.GetLoggerWithName("cli")}
}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	a := newApp()
	cmd := &cobra.Command{
		Use:   "qnglm",
		Short: "Fit and apply generalized linear models with quasi-Newton solvers.",
		Long: `qnglm fits logistic, softmax and least-squares models with L-BFGS
(OWL-QN when an L1 penalty is given) and applies saved models to new data.

Every flag can also be set in a config file or through the environment.
Environment variables use the QNGLM_ prefix with dashes replaced by
underscores, e.g. QNGLM_MAX_ITER=200. The config file is passed with
--config; if not provided, $HOME/.qnglm.yaml is used when present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file (default $HOME/.qnglm.yaml)")
	pf.String("log-level", "warn", "log level: debug, info, warn or error")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.Int64("memory-limit", 0, "scratch memory limit in bytes, 0 for unlimited")
	pf.Int("workers", 0, "kernel parallelism, 0 for one per CPU")

	cmd.AddCommand(
		fitCmd(a),
		predictCmd(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	a.v.SetEnvPrefix("QNGLM")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.readConfig(); err != nil {
		return err
	}

	level, err := log.ToLogLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	log.SetProvider(log.NewZerologProvider(cmd.ErrOrStderr(), level))
	a.logger = log.GetLoggerWithName("cli")
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("config loaded", "config", used)
	}

	a.handle = device.NewHandle(
		device.WithMemoryLimit(a.v.GetInt64("memory-limit")),
		device.WithWorkers(a.v.GetInt("workers")),
		device.WithMetrics(a.metrics),
		device.WithLogger(log.GetLoggerWithName("qnglm")),
	)

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		if _, err := a.serveMetrics(addr); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) readConfig() error {
	if cfg := a.v.GetString("config"); cfg != "" {
		a.v.SetConfigFile(cfg)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "find home directory")
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".qnglm")
	}

	err := a.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return errors.Wrapf(err, "read config file %s", a.v.ConfigFileUsed())
	}
	return nil
}

// serveMetrics exposes the collectors on addr/metrics and returns the bound
// address.
func (a *app) serveMetrics(addr string) (net.Addr, error) {
	reg := prometheus.NewRegistry()
	if err := a.metrics.Register(reg); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", err)
		}
	}()
	return ln.Addr(), nil
}

func (a *app) close() error {
	if a.server != nil {
		_ = a.server.Close()
	}
	if a.handle != nil {
		return a.handle.Close()
	}
	return nil
}

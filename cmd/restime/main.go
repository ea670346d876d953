// restime measures how long database restarts take, by driving restarts and
// timing them from the operational log, or by scanning a log after the fact.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	prom "github.com/supporttools/restime/pkg/exporters/prometheus"
	"github.com/supporttools/restime/pkg/logger"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/report"
	"github.com/supporttools/restime/pkg/types"
	"github.com/supporttools/restime/pkg/util"
)

// Build-time variables set by goreleaser or make
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const defaultConfigPath = "/etc/restime/restime.yaml"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath      string
	nodeName        string
	logLevel        string
	logFormat       string
	debug           bool
	output          string
	metricsTextfile string
}

// app carries what PersistentPreRunE prepared for a subcommand.
type app struct {
	opts   globalOptions
	out    io.Writer
	config *types.RestimeConfig
	format report.Format
	runID  string
	log    *logrus.Entry
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:          "restime",
		Short:        "Time database restarts",
		Long:         `restime drives warm, forced, cold and down restarts and times them from the operational log, or reports restarts already in a log.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return a.prepare(cmd)
		},
	}
	root.SetOut(out)
	root.SetGlobalNormalizationFunc(normalizeFlagName)

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	flags.StringVar(&a.opts.nodeName, "node-name", "", "Override node name (defaults to config or $NODE_NAME)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "Override log format (json, text)")
	flags.BoolVarP(&a.opts.debug, "debug", "d", false, "Shorthand for --log-level debug")
	flags.StringVarP(&a.opts.output, "output", "o", "text", "Report format (text, json)")
	flags.StringVar(&a.opts.metricsTextfile, "metrics-textfile", "", "Write metrics to this file for the node-exporter textfile collector")

	root.AddCommand(
		newRunCmd(a),
		newScanCmd(a),
		newReconfigCmd(a),
		newCopybackCmd(a),
		newVersionCmd(out),
	)

	return root
}

// normalizeFlagName lets --node_name stand for --node-name.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// prepare loads configuration, applies flag overrides and sets up logging.
func (a *app) prepare(cmd *cobra.Command) error {
	config, err := loadConfiguration(a.opts.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}

	applyFlagOverrides(config, a.opts)
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed after applying overrides: %w", err)
	}

	if err := logger.InitializeFromSettings(config.Settings); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	format, err := report.ParseFormat(a.opts.output)
	if err != nil {
		return err
	}

	a.config = config
	a.format = format
	a.runID = uuid.NewString()
	a.log = logger.ForRun(a.runID, config.Settings.NodeName)
	a.log.Debugf("restime %s, config %s", Version, a.opts.configPath)
	if err := markers.CheckOverrides(config.Markers); err != nil {
		a.log.Warnf("%v", err)
	}
	return nil
}

// loadConfiguration loads the file at path, falling back to defaults when
// the default path does not exist. An explicitly named file must exist.
func loadConfiguration(path string, explicit bool) (*types.RestimeConfig, error) {
	if explicit {
		config, err := util.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		return config, nil
	}
	config, err := util.LoadConfigOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return config, nil
}

// applyFlagOverrides applies persistent flag overrides to the configuration.
func applyFlagOverrides(config *types.RestimeConfig, opts globalOptions) {
	if opts.nodeName != "" {
		config.Settings.NodeName = opts.nodeName
	}
	if opts.logLevel != "" {
		config.Settings.LogLevel = opts.logLevel
	}
	if opts.debug {
		config.Settings.LogLevel = "debug"
	}
	if opts.logFormat != "" {
		config.Settings.LogFormat = opts.logFormat
	}
	if opts.metricsTextfile != "" {
		if config.Exporters.Prometheus == nil {
			config.Exporters.Prometheus = &types.PrometheusExporterConfig{}
		}
		config.Exporters.Prometheus.Enabled = true
		config.Exporters.Prometheus.Textfile = opts.metricsTextfile
		config.Exporters.Prometheus.ApplyDefaults()
	}
}

// header describes this invocation for the report.
func (a *app) header(ctx context.Context, command string) report.Header {
	h := report.Header{
		RunID:   a.runID,
		Command: command,
		Started: time.Now().Truncate(time.Second),
	}
	host, err := util.HostInfo(ctx, a.config.Settings.NodeName)
	if err != nil {
		a.log.Debugf("Host info unavailable: %v", err)
	}
	h.Host = host.Name
	h.Platform = host.Platform
	h.BootTime = host.BootTime
	return h
}

// metrics returns the Prometheus exporter, or nil when metrics are disabled.
func (a *app) metrics() (*prom.Exporter, error) {
	pc := a.config.Exporters.Prometheus
	if pc == nil || !pc.Enabled {
		return nil, nil
	}
	e, err := prom.NewExporter(pc, a.config.Settings.NodeName, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return e, nil
}

// finishMetrics writes the textfile, if configured, and stops the server.
func (a *app) finishMetrics(e *prom.Exporter) {
	if e == nil {
		return
	}
	if path := a.config.Exporters.Prometheus.Textfile; path != "" {
		if err := e.WriteTextfile(path); err != nil {
			a.log.Warnf("%v", err)
		} else {
			a.log.Debugf("Wrote metrics to %s", path)
		}
	}
	if err := e.Stop(); err != nil {
		a.log.Warnf("Failed to stop metrics server: %v", err)
	}
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "restime %s\n", Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Built: %s\n", BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

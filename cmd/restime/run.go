package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supporttools/restime/pkg/driver"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/report"
	"github.com/supporttools/restime/pkg/scanner"
	"github.com/supporttools/restime/pkg/stats"
	"github.com/supporttools/restime/pkg/types"
)

type runOptions struct {
	warm, forced, down, cold int
	group, reps              int
	logPath                  string
	dryRun                   bool
	continueOnError          bool
	metricsAddr              string
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform restarts and time each one from the log",
		Long: `Perform restarts in sequence and time each one from the operational log.

Restarts run in this order: the test group, then warm, forced, down and cold.
The whole plan is repeated --reps times.`,
		Example: `  restime run -w -w -f      # two warm restarts, then a forced one
  restime run -t 1 -n 3     # test group 1, three times over
  restime run -x --dry-run  # show the down/start commands without running them`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRestarts(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.CountVarP(&o.warm, "warm", "w", "Warm restart (repeatable)")
	f.CountVarP(&o.forced, "forced", "f", "Forced restart (repeatable)")
	f.CountVarP(&o.down, "down", "x", "Force down, then start (repeatable)")
	f.CountVarP(&o.cold, "cold", "c", "Cold restart (repeatable)")
	f.IntVarP(&o.group, "test-group", "t", 0, "Run a named test group (1: warm, down, forced; 2: warm, down)")
	f.IntVarP(&o.reps, "reps", "n", 1, "Repeat the plan this many times")
	f.StringVar(&o.logPath, "log", "", "Operational log to time restarts from (default from config)")
	f.BoolVar(&o.dryRun, "dry-run", false, "Log the commands instead of running them")
	f.BoolVar(&o.continueOnError, "continue-on-error", false, "Keep going after a failed restart")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics on host:port during the run")
	return cmd
}

func (a *app) runRestarts(ctx context.Context, o runOptions) error {
	plan, err := driver.BuildPlan(o.group, o.reps, o.warm, o.forced, o.down, o.cold)
	if err != nil {
		return err
	}

	cfg := a.config
	if o.logPath != "" {
		cfg.Scan.LogPath = o.logPath
	}
	if o.dryRun {
		cfg.Driver.DryRun = true
	}
	if o.continueOnError {
		cfg.Driver.ContinueOnError = true
	}
	if o.metricsAddr != "" {
		if err := serveMetricsOn(cfg, o.metricsAddr); err != nil {
			return err
		}
	}

	table, err := markers.RestartTable(cfg.Markers)
	if err != nil {
		return fmt.Errorf("failed to build marker table: %w", err)
	}
	follower, err := scanner.NewFollower(cfg.Scan.LogPath, scanner.Options{
		Table:      table,
		ColdReason: cfg.Scan.ColdReason,
	}, cfg.Driver.RetryDelay)
	if err != nil {
		return err
	}
	follower.Logger = a.log

	d, err := driver.New(cfg.Driver, follower, a.log)
	if err != nil {
		return fmt.Errorf("failed to create restart driver: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	exp, err := a.metrics()
	if err != nil {
		return err
	}
	if exp != nil && cfg.Exporters.Prometheus.Serve {
		if err := exp.Start(); err != nil {
			return err
		}
	}
	defer a.finishMetrics(exp)

	printer := report.NewPrinter(a.out, a.format, a.header(ctx, "run"))
	if err := printer.WriteHeader(); err != nil {
		return err
	}
	exporters := []types.Exporter{printer}
	if exp != nil {
		exporters = append(exporters, exp)
	}

	a.log.WithField("restarts", len(plan)).Infof("Starting %d restarts, timing from %s", len(plan), cfg.Scan.LogPath)
	agg := stats.NewAggregator()
	_, runErr := d.RunPlan(ctx, plan, agg, exporters...)
	if runErr != nil {
		printer.SetError(runErr)
		if exp != nil {
			exp.RecordFailure(runErr)
		}
	}

	// The summary is reported even after a failure; ExportSummary ignores
	// cancellation so an interrupted run still prints what it measured.
	summaryCtx := context.WithoutCancel(ctx)
	summary := agg.Summary()
	for _, e := range exporters {
		if err := e.ExportSummary(summaryCtx, summary); err != nil {
			a.log.Warnf("Failed to export summary: %v", err)
		}
	}
	return runErr
}

// serveMetricsOn enables the Prometheus HTTP server on addr.
func serveMetricsOn(cfg *types.RestimeConfig, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --metrics-addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --metrics-addr port %q: %w", portStr, err)
	}

	if cfg.Exporters.Prometheus == nil {
		cfg.Exporters.Prometheus = &types.PrometheusExporterConfig{}
	}
	pc := cfg.Exporters.Prometheus
	pc.Enabled = true
	pc.Serve = true
	pc.BindAddress = host
	pc.Port = port
	pc.ApplyDefaults()
	return pc.Validate()
}

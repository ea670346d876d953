package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/report"
	"github.com/supporttools/restime/pkg/scanner"
	"github.com/supporttools/restime/pkg/stats"
	"github.com/supporttools/restime/pkg/types"
)

type scanOptions struct {
	warm, forced, cold, down bool
	begin, end               string
	logPath                  string
	year                     int
	strict                   bool
}

func newScanCmd(a *app) *cobra.Command {
	var o scanOptions

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report restarts already recorded in a log",
		Long: `Scan an operational log for restarts between --begin and --end and report
how long each took. With no kind selected every kind is reported.

Syslog timestamps carry no year; --year sets it (default: the current year).`,
		Example: `  restime scan --begin "Jun 20 15:00:00" --end "Jun 20 18:00:00"
  restime scan -w -c --log /var/log/messages-20160621`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scanLog(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&o.warm, "warm", "w", false, "Report warm restarts")
	f.BoolVarP(&o.forced, "forced", "f", false, "Report forced restarts")
	f.BoolVarP(&o.cold, "cold", "c", false, "Report cold restarts")
	f.BoolVarP(&o.down, "down", "x", false, "Report down restarts")
	f.StringVarP(&o.begin, "begin", "b", "", "Scan from this time (e.g. \"2016-06-20 15:00:00\" or \"Jun 20 15:00:00\")")
	f.StringVarP(&o.end, "end", "e", "", "Scan up to this time")
	f.StringVar(&o.logPath, "log", "", "Log to scan (default from config)")
	f.IntVar(&o.year, "year", 0, "Year of the syslog timestamps")
	f.BoolVar(&o.strict, "strict", false, "Fail on lines in the window that carry no timestamp")
	return cmd
}

func (o scanOptions) kinds() types.KindSet {
	var kinds []types.RestartKind
	for kind, on := range map[types.RestartKind]bool{
		types.Warm:   o.warm,
		types.Forced: o.forced,
		types.Cold:   o.cold,
		types.Down:   o.down,
	} {
		if on {
			kinds = append(kinds, kind)
		}
	}
	return types.NewKindSet(kinds...)
}

func (a *app) scanLog(ctx context.Context, o scanOptions) error {
	cfg := a.config
	path := cfg.Scan.LogPath
	if o.logPath != "" {
		path = o.logPath
	}

	parser := &logtime.Parser{Year: o.year}
	var (
		window types.ScanWindow
		err    error
	)
	if o.begin != "" {
		if window.Begin, err = parser.ParseBound(o.begin); err != nil {
			return fmt.Errorf("--begin: %w", err)
		}
	}
	if o.end != "" {
		if window.End, err = parser.ParseBound(o.end); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
	}
	if err := window.Validate(); err != nil {
		return err
	}

	table, err := markers.RestartTable(cfg.Markers)
	if err != nil {
		return fmt.Errorf("failed to build marker table: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	exp, err := a.metrics()
	if err != nil {
		return err
	}
	defer a.finishMetrics(exp)

	printer := report.NewPrinter(a.out, a.format, a.header(ctx, "scan"))
	if err := printer.WriteHeader(); err != nil {
		return err
	}
	exporters := []types.Exporter{printer}
	if exp != nil {
		exporters = append(exporters, exp)
	}

	a.log.WithField("log", path).Infof("Scanning for restarts")
	agg := stats.NewAggregator()
	s := scanner.NewRestartScanner(f, scanner.Options{
		Window:     window,
		Kinds:      o.kinds(),
		Format:     logtime.FormatAny,
		Strict:     cfg.Scan.Strict || o.strict,
		Parser:     parser,
		Table:      table,
		ColdReason: cfg.Scan.ColdReason,
	})
	for s.Scan() {
		rec := s.Record()
		if err := agg.Record(rec); err != nil {
			a.log.Warnf("%v", err)
			continue
		}
		for _, e := range exporters {
			if err := e.ExportRecord(ctx, rec); err != nil {
				a.log.Warnf("Failed to export %s record: %v", rec.Kind, err)
			}
		}
	}

	scanErr := s.Err()
	if scanErr != nil {
		scanErr = fmt.Errorf("scanning %s: %w", path, scanErr)
		agg.IncrementFailures()
		printer.SetError(scanErr)
		if exp != nil {
			exp.RecordFailure(scanErr)
		}
	} else if agg.Total() == 0 {
		a.log.Infof("No matching restarts found in %s", path)
	}
	if n := s.Suppressed(); n > 0 {
		a.log.Debugf("%d restarts of unselected kinds were skipped", n)
	}

	summary := agg.Summary()
	for _, e := range exporters {
		if err := e.ExportSummary(ctx, summary); err != nil {
			a.log.Warnf("Failed to export summary: %v", err)
		}
	}
	return scanErr
}

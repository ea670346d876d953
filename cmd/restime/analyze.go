package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/supporttools/restime/pkg/array"
	"github.com/supporttools/restime/pkg/driver"
	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/markers"
	"github.com/supporttools/restime/pkg/reconfig"
	"github.com/supporttools/restime/pkg/report"
)

// openInput opens path, or stdin for "-".
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func newReconfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconfig LOGFILE",
		Short: "Report reconfiguration phase timings from a reconfig log",
		Long: `Read a reconfiguration log and report the hash map, table redistribution
and old table deletion phases with their durations and the database's own
estimates. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyzeReconfig(cmd.Context(), args[0])
		},
	}
}

func (a *app) analyzeReconfig(ctx context.Context, path string) error {
	in, err := openInput(path)
	if err != nil {
		return err
	}
	defer in.Close()

	exp, err := a.metrics()
	if err != nil {
		return err
	}
	defer a.finishMetrics(exp)

	rep, err := reconfig.Analyze(in, &logtime.Parser{})
	if err != nil {
		if exp != nil {
			exp.RecordFailure(err)
		}
		return fmt.Errorf("analyzing %s: %w", path, err)
	}
	if exp != nil {
		if err := exp.ExportReconfig(ctx, rep); err != nil {
			a.log.Warnf("Failed to export reconfig metrics: %v", err)
		}
	}
	return report.WriteReconfig(a.out, a.format, a.header(ctx, "reconfig"), rep)
}

type copybackOptions struct {
	vdisks        []string
	clockOffset   time.Duration
	eventsCommand string
}

func newCopybackCmd(a *app) *cobra.Command {
	var o copybackOptions

	cmd := &cobra.Command{
		Use:   "copyback [EVENTS_FILE]",
		Short: "Report vdisk reconstruction and copyback times from array events",
		Long: `Read a storage array event dump, newest event first, and report how long
each vdisk took to reconstruct onto a spare and copy back to its replacement
disk. The dump is read from EVENTS_FILE ("-" for standard input) or from the
output of --events-command.`,
		Example: `  restime copyback events.txt --vdisk vd01 --vdisk vd02
  restime copyback --events-command "show-events --last 2000" --clock-offset -1h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("clock-offset") {
				o.clockOffset = a.config.Array.ClockOffset
			}
			if len(o.vdisks) == 0 {
				o.vdisks = a.config.Array.VDisks
			}
			return a.analyzeCopyback(cmd.Context(), args, o)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&o.vdisks, "vdisk", nil, "Only report these vdisks (repeatable; default all)")
	f.DurationVar(&o.clockOffset, "clock-offset", 0, "Added to array event times to bring them to local time")
	f.StringVar(&o.eventsCommand, "events-command", "", "Command whose output is the event dump")
	return cmd
}

func (a *app) analyzeCopyback(ctx context.Context, args []string, o copybackOptions) error {
	var (
		in     io.Reader
		source string
	)
	switch {
	case len(args) == 1 && o.eventsCommand != "":
		return fmt.Errorf("give either EVENTS_FILE or --events-command, not both")
	case len(args) == 1:
		rc, err := openInput(args[0])
		if err != nil {
			return err
		}
		defer rc.Close()
		in, source = rc, args[0]
	case o.eventsCommand != "":
		argv := strings.Fields(o.eventsCommand)
		runner := driver.NewCommandRunner(a.config.Driver.CommandTimeout)
		out, err := runner.Run(ctx, argv)
		if err != nil {
			return fmt.Errorf("fetching array events: %w", err)
		}
		in, source = strings.NewReader(out), argv[0]
	default:
		return fmt.Errorf("an events file or --events-command is required")
	}

	table, err := markers.ArrayTable(a.config.Markers)
	if err != nil {
		return fmt.Errorf("failed to build marker table: %w", err)
	}

	exp, err := a.metrics()
	if err != nil {
		return err
	}
	defer a.finishMetrics(exp)

	analysis, err := array.Analyze(in, array.Options{
		VDisks:      o.vdisks,
		ClockOffset: o.clockOffset,
		Parser:      &logtime.Parser{},
		Table:       table,
	})
	if err != nil {
		return fmt.Errorf("analyzing %s: %w", source, err)
	}
	if analysis.Skipped > 0 {
		a.log.Debugf("Skipped %d event lines without a vdisk or timestamp", analysis.Skipped)
	}
	if exp != nil {
		if err := exp.ExportArray(ctx, analysis.Results); err != nil {
			a.log.Warnf("Failed to export array metrics: %v", err)
		}
	}
	return report.WriteArray(a.out, a.format, a.header(ctx, "copyback"), analysis)
}

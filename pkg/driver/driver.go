// Package driver issues database restarts and measures them through the system log.
//
// A restart is fire-and-forget: the driver runs the restart command, polls the
// status command until the database reports the expected state, then asks a
// Locator (the live-follow log scanner) for the record anchored at the kickoff
// instant. Restarts in a plan run strictly one after another.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supporttools/restime/pkg/types"
)

// ErrDryRun is returned by Perform in dry-run mode, where nothing is executed.
var ErrDryRun = errors.New("dry run: restart not executed")

// Locator finds the restart record that began at or after kickoff.
type Locator interface {
	Locate(ctx context.Context, kickoff time.Time) (types.RestartRecord, error)
}

// Logger is satisfied by *logrus.Entry and *logrus.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Driver performs restarts of each kind.
type Driver struct {
	config  types.DriverConfig
	runner  CommandRunner
	prober  Prober
	locator Locator
	logger  Logger
	now     func() time.Time
}

// New creates a driver from a defaulted driver configuration.
func New(config types.DriverConfig, locator Locator, logger Logger) (*Driver, error) {
	if locator == nil {
		return nil, fmt.Errorf("locator is required")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", config.PollInterval)
	}
	config.Commands.ApplyDefaults()

	runner := NewCommandRunner(config.CommandTimeout)
	prober, err := NewCommandProber(runner, config.Commands.Status, config.Probe)
	if err != nil {
		return nil, err
	}

	return &Driver{
		config:  config,
		runner:  runner,
		prober:  prober,
		locator: locator,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetCommandRunner replaces the command runner (useful for testing).
func (d *Driver) SetCommandRunner(runner CommandRunner) {
	d.runner = runner
}

// SetProber replaces the status prober (useful for testing).
func (d *Driver) SetProber(prober Prober) {
	d.prober = prober
}

// SetClock replaces the clock used for kickoff instants (useful for testing).
func (d *Driver) SetClock(now func() time.Time) {
	d.now = now
}

// Perform runs one restart of kind and returns the record found in the log.
// The record is attributed to the requested kind whatever the log says. The
// default cold and forced commands are the same tpareset request, so a cold
// run is normally logged with a force restart reason; that pairing is
// reported at info level, any other mismatch as a warning.
func (d *Driver) Perform(ctx context.Context, kind types.RestartKind) (types.RestartRecord, error) {
	if !kind.Valid() {
		return types.RestartRecord{}, fmt.Errorf("invalid restart kind %d", int(kind))
	}
	argv, err := d.config.Commands.ForKind(kind)
	if err != nil {
		return types.RestartRecord{}, err
	}

	if d.config.DryRun {
		if kind == types.Down {
			d.logInfof("dry run: would run %q, wait for halted, run %q, wait for up",
				strings.Join(argv, " "), strings.Join(d.config.Commands.Start, " "))
		} else {
			d.logInfof("dry run: would run %q and wait for up", strings.Join(argv, " "))
		}
		return types.RestartRecord{}, ErrDryRun
	}

	if d.config.RequireUpBefore {
		if err := d.waitFor(ctx, "up", State.Up); err != nil {
			return types.RestartRecord{}, fmt.Errorf("database not up before %s restart: %w", kind, err)
		}
	}

	if kind == types.Down {
		d.logInfof("Forcing database down: %s", strings.Join(argv, " "))
		if err := d.run(ctx, argv); err != nil {
			return types.RestartRecord{}, err
		}
		if err := d.waitFor(ctx, "halted", func(s State) bool { return s.Halted }); err != nil {
			return types.RestartRecord{}, err
		}
		argv = d.config.Commands.Start
	}

	// Log timestamps carry whole seconds only.
	kickoff := d.now().Truncate(time.Second)
	d.logInfof("Starting %s at %s: %s", kind.Title(), kickoff.Format(time.DateTime), strings.Join(argv, " "))
	if err := d.run(ctx, argv); err != nil {
		return types.RestartRecord{}, err
	}
	if err := d.waitFor(ctx, "up", State.Up); err != nil {
		return types.RestartRecord{}, err
	}

	rec, err := d.locator.Locate(ctx, kickoff)
	if err != nil {
		return types.RestartRecord{}, fmt.Errorf("locating %s in log: %w", kind.Title(), err)
	}
	switch {
	case rec.Kind == kind:
	case kind == types.Cold && rec.Kind == types.Forced:
		d.logInfof("log classified the cold restart as forced; recording it as cold")
		rec.Kind = kind
	default:
		d.logWarnf("log classified the %s restart as %s; recording it as %s", kind, rec.Kind, kind)
		rec.Kind = kind
	}
	return rec, nil
}

func (d *Driver) run(ctx context.Context, argv []string) error {
	out, err := d.runner.Run(ctx, argv)
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" {
		d.logDebugf("%s: %s", argv[0], clip(out, 500))
	}
	return nil
}

// waitFor polls the prober until cond holds. WaitTimeout, when set, bounds the wait.
func (d *Driver) waitFor(ctx context.Context, what string, cond func(State) bool) error {
	if d.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.WaitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		state, err := d.prober.Probe(ctx)
		if err != nil {
			return err
		}
		if cond(state) {
			d.logDebugf("Database %s after %d probe(s)", what, attempt)
			return nil
		}
		d.logDebugf("Waiting for database %s (state %s, probe %d)", what, state, attempt)

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for database %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Driver) logDebugf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debugf(format, args...)
	}
}

func (d *Driver) logInfof(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Infof(format, args...)
	}
}

func (d *Driver) logWarnf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Warnf(format, args...)
	}
}

func (d *Driver) logErrorf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Errorf(format, args...)
	}
}

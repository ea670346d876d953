package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/supporttools/restime/pkg/stats"
	"github.com/supporttools/restime/pkg/types"
)

// ErrEmptyPlan is returned when a plan would run no restarts.
var ErrEmptyPlan = errors.New("no restarts requested")

// testGroups are the predefined restart sequences selectable by number.
var testGroups = map[int][]types.RestartKind{
	1: {types.Warm, types.Down, types.Forced},
	2: {types.Warm, types.Down},
}

// BuildPlan lays out a restart sequence: the numbered test group first (0 for
// none), then warm, forced, down and cold restarts in that order, the whole
// list repeated reps times. A reps of zero runs the list once.
func BuildPlan(group, reps, warm, forced, down, cold int) ([]types.RestartKind, error) {
	if reps < 0 || warm < 0 || forced < 0 || down < 0 || cold < 0 {
		return nil, fmt.Errorf("restart counts must not be negative")
	}

	var once []types.RestartKind
	if group != 0 {
		g, ok := testGroups[group]
		if !ok {
			return nil, fmt.Errorf("unknown test group %d", group)
		}
		once = append(once, g...)
	}
	for _, c := range []struct {
		kind types.RestartKind
		n    int
	}{
		{types.Warm, warm},
		{types.Forced, forced},
		{types.Down, down},
		{types.Cold, cold},
	} {
		for i := 0; i < c.n; i++ {
			once = append(once, c.kind)
		}
	}
	if len(once) == 0 {
		return nil, ErrEmptyPlan
	}

	if reps == 0 {
		reps = 1
	}
	plan := make([]types.RestartKind, 0, len(once)*reps)
	for i := 0; i < reps; i++ {
		plan = append(plan, once...)
	}
	return plan, nil
}

// RunPlan performs each restart in order. Every record is added to agg and
// handed to the exporters. A failed restart stops the plan unless
// ContinueOnError is set; records completed before the failure are returned
// either way.
func (d *Driver) RunPlan(ctx context.Context, plan []types.RestartKind, agg *stats.Aggregator, exporters ...types.Exporter) ([]types.RestartRecord, error) {
	var (
		records []types.RestartRecord
		errs    []error
	)

	for i, kind := range plan {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		d.logInfof("Restart %d of %d: %s", i+1, len(plan), kind.Title())

		rec, err := d.Perform(ctx, kind)
		if errors.Is(err, ErrDryRun) {
			continue
		}
		if err == nil && agg != nil {
			err = agg.Record(rec)
		}
		if err != nil {
			if agg != nil {
				agg.IncrementFailures()
			}
			err = fmt.Errorf("restart %d of %d (%s): %w", i+1, len(plan), kind, err)
			errs = append(errs, err)
			if !d.config.ContinueOnError || ctx.Err() != nil {
				break
			}
			d.logErrorf("%v; continuing with remaining restarts", err)
			continue
		}

		records = append(records, rec)
		d.logInfof("%s completed in %v", kind.Title(), rec.Elapsed)
		for _, exp := range exporters {
			if exp == nil {
				continue
			}
			if err := exp.ExportRecord(ctx, rec); err != nil {
				d.logWarnf("Failed to export %s record: %v", kind, err)
			}
		}
	}

	return records, errors.Join(errs...)
}

// Package stats aggregates restart durations per restart kind.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/supporttools/restime/pkg/types"
)

type kindTotals struct {
	count int
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// Aggregator accumulates completed restarts. All methods are thread-safe.
type Aggregator struct {
	mu        sync.RWMutex
	kinds     map[types.RestartKind]*kindTotals
	failures  int64
	startTime time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		kinds:     make(map[types.RestartKind]*kindTotals),
		startTime: time.Now(),
	}
}

// Record adds one restart. Records that violate end >= start are rejected.
func (a *Aggregator) Record(r types.RestartRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("rejecting %s record: %w", r.Kind, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	kt, ok := a.kinds[r.Kind]
	if !ok {
		kt = &kindTotals{min: r.Elapsed, max: r.Elapsed}
		a.kinds[r.Kind] = kt
	}
	kt.count++
	kt.total += r.Elapsed
	if r.Elapsed < kt.min {
		kt.min = r.Elapsed
	}
	if r.Elapsed > kt.max {
		kt.max = r.Elapsed
	}
	return nil
}

// IncrementFailures counts a restart or scan that ended in an error.
func (a *Aggregator) IncrementFailures() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures++
}

// Failures returns the number of failed restarts.
func (a *Aggregator) Failures() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failures
}

// Count returns the number of records of kind.
func (a *Aggregator) Count(kind types.RestartKind) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if kt, ok := a.kinds[kind]; ok {
		return kt.count
	}
	return 0
}

// Total returns the number of records across all kinds.
func (a *Aggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, kt := range a.kinds {
		n += kt.count
	}
	return n
}

// Summary returns count and mean per kind in reporting order. Kinds with no
// records are left out.
func (a *Aggregator) Summary() []types.KindSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []types.KindSummary
	for _, kind := range types.AllKinds {
		kt, ok := a.kinds[kind]
		if !ok || kt.count == 0 {
			continue
		}
		out = append(out, types.KindSummary{
			Kind:  kind,
			Count: kt.count,
			Total: kt.total,
			Mean:  kt.total / time.Duration(kt.count),
			Min:   kt.min,
			Max:   kt.max,
		})
	}
	return out
}

// GetStartTime returns when aggregation started.
func (a *Aggregator) GetStartTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.startTime
}

// Copy returns an independent snapshot.
func (a *Aggregator) Copy() *Aggregator {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c := &Aggregator{
		kinds:     make(map[types.RestartKind]*kindTotals, len(a.kinds)),
		failures:  a.failures,
		startTime: a.startTime,
	}
	for k, kt := range a.kinds {
		dup := *kt
		c.kinds[k] = &dup
	}
	return c
}

// Reset clears all totals and restarts the clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = make(map[types.RestartKind]*kindTotals)
	a.failures = 0
	a.startTime = time.Now()
}

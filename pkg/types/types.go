// Package types defines the core data model and interfaces for restime.
package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRecordOutOfOrder is returned when a restart record would end before it starts.
// This only happens when log lines are out of order.
var ErrRecordOutOfOrder = errors.New("restart record ends before it starts")

// RestartKind identifies the flavor of a database restart.
type RestartKind int

const (
	// Warm is a normal restart requested without force.
	Warm RestartKind = iota

	// Forced is a restart whose reset phase was forced.
	Forced

	// Cold is a restart initiated by the vproc manager.
	Cold

	// Down is a full force-down followed by a start.
	Down
)

// AllKinds lists every restart kind in reporting order.
var AllKinds = []RestartKind{Warm, Forced, Cold, Down}

var kindNames = map[RestartKind]string{
	Warm:   "warm",
	Forced: "forced",
	Cold:   "cold",
	Down:   "down",
}

var kindTitles = map[RestartKind]string{
	Warm:   "Warm restart",
	Forced: "Force restart",
	Cold:   "Cold restart",
	Down:   "Down restart",
}

// String returns the short lowercase name of the kind.
func (k RestartKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RestartKind(%d)", int(k))
}

// Title returns the human-readable name used in reports.
func (k RestartKind) Title() string {
	if title, ok := kindTitles[k]; ok {
		return title
	}
	return k.String()
}

// Valid reports whether k is one of the known kinds.
func (k RestartKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (k RestartKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid restart kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RestartKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRestartKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseRestartKind parses a kind from its name or its single-letter flag form.
func ParseRestartKind(s string) (RestartKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warm", "w":
		return Warm, nil
	case "forced", "force", "f":
		return Forced, nil
	case "cold", "c":
		return Cold, nil
	case "down", "x":
		return Down, nil
	}
	return 0, fmt.Errorf("unknown restart kind %q", s)
}

// RestartRecord is one completed restart found in the log.
type RestartRecord struct {
	// Kind is the classified restart kind.
	Kind RestartKind `json:"kind"`

	// Start is the timestamp of the trigger line.
	Start time.Time `json:"start"`

	// End is the timestamp of the completion line.
	End time.Time `json:"end"`

	// Elapsed is always End - Start.
	Elapsed time.Duration `json:"elapsed"`
}

// NewRestartRecord builds a record and rejects one that ends before it starts.
func NewRestartRecord(kind RestartKind, start, end time.Time) (RestartRecord, error) {
	if end.Before(start) {
		return RestartRecord{}, fmt.Errorf("%s from %s to %s: %w",
			kind, start.Format(time.DateTime), end.Format(time.DateTime), ErrRecordOutOfOrder)
	}
	return RestartRecord{
		Kind:    kind,
		Start:   start,
		End:     end,
		Elapsed: end.Sub(start),
	}, nil
}

// Validate checks the record invariants.
func (r RestartRecord) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid restart kind %d", int(r.Kind))
	}
	if r.End.Before(r.Start) {
		return ErrRecordOutOfOrder
	}
	if r.Elapsed != r.End.Sub(r.Start) {
		return fmt.Errorf("elapsed %v does not match end - start %v", r.Elapsed, r.End.Sub(r.Start))
	}
	return nil
}

// ScanWindow bounds a retrospective scan. A zero Begin or End is unbounded on that side.
type ScanWindow struct {
	Begin time.Time `json:"begin,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Before reports whether t falls before the window opens.
func (w ScanWindow) Before(t time.Time) bool {
	return !w.Begin.IsZero() && t.Before(w.Begin)
}

// After reports whether t falls after the window closes.
func (w ScanWindow) After(t time.Time) bool {
	return !w.End.IsZero() && t.After(w.End)
}

// Validate rejects a window whose end precedes its begin.
func (w ScanWindow) Validate() error {
	if !w.Begin.IsZero() && !w.End.IsZero() && w.End.Before(w.Begin) {
		return fmt.Errorf("scan window end %s is before begin %s",
			w.End.Format(time.DateTime), w.Begin.Format(time.DateTime))
	}
	return nil
}

// KindSet is the set of restart kinds a caller wants reported.
type KindSet map[RestartKind]bool

// NewKindSet returns a set holding kinds. With no kinds it holds every kind.
func NewKindSet(kinds ...RestartKind) KindSet {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Has reports whether k is in the set. A nil set holds every kind.
func (s KindSet) Has(k RestartKind) bool {
	if s == nil {
		return true
	}
	return s[k]
}

// KindSummary is the aggregate for one restart kind.
type KindSummary struct {
	Kind  RestartKind   `json:"kind"`
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Exporter receives restart records and summaries as a run progresses.
type Exporter interface {
	// ExportRecord publishes one completed restart.
	ExportRecord(ctx context.Context, record RestartRecord) error

	// ExportSummary publishes the per-kind aggregates at the end of a run.
	ExportSummary(ctx context.Context, summary []KindSummary) error
}

// Package report renders restart records and summaries as text or JSON.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/supporttools/restime/pkg/types"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("invalid output format %q (must be text or json)", s)
}

// FormatElapsed renders d as H:MM:SS, dropping any fraction of a second.
func FormatElapsed(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Truncate(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%s%d:%02d:%02d", sign, h, m, s)
}

// FormatRecord renders one record as "Start: ..., End: ..., ET: H:MM:SS".
func FormatRecord(r types.RestartRecord) string {
	return fmt.Sprintf("Start: %s, End: %s, ET: %s",
		r.Start.Format(time.DateTime), r.End.Format(time.DateTime), FormatElapsed(r.Elapsed))
}

// FormatSummaryLine renders "Warm restart average of 3 tests: 0:01:30".
func FormatSummaryLine(s types.KindSummary) string {
	return fmt.Sprintf("%s average of %d tests: %s", s.Kind.Title(), s.Count, FormatElapsed(s.Mean))
}

// Header describes the run a report belongs to.
type Header struct {
	RunID    string    `json:"run_id,omitempty"`
	Command  string    `json:"command"`
	Host     string    `json:"host,omitempty"`
	Platform string    `json:"platform,omitempty"`
	BootTime time.Time `json:"boot_time,omitempty"`
	Started  time.Time `json:"started"`
}

type jsonRecord struct {
	Kind           types.RestartKind `json:"kind"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	Elapsed        string            `json:"elapsed"`
}

type jsonSummary struct {
	Kind        types.RestartKind `json:"kind"`
	Count       int               `json:"count"`
	MeanSeconds float64           `json:"mean_seconds"`
	Mean        string            `json:"mean"`
	Min         string            `json:"min"`
	Max         string            `json:"max"`
}

type jsonDocument struct {
	Header
	Records []jsonRecord  `json:"records"`
	Summary []jsonSummary `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// Printer writes records as they complete and the summary at the end. Text
// output is streamed; JSON output is buffered into one document written by
// ExportSummary. Printer implements types.Exporter.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	format  Format
	header  Header
	counts  map[types.RestartKind]int
	records []jsonRecord
	err     error
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, format Format, header Header) *Printer {
	if format == "" {
		format = FormatText
	}
	return &Printer{
		w:      w,
		format: format,
		header: header,
		counts: make(map[types.RestartKind]int),
	}
}

// WriteHeader prints the run header. It is a no-op for JSON, where the
// header is part of the final document.
func (p *Printer) WriteHeader() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format != FormatText {
		return nil
	}
	h := p.header
	lines := []string{"Command: " + h.Command}
	if h.RunID != "" {
		lines = append(lines, "Run ID: "+h.RunID)
	}
	if h.Host != "" {
		host := h.Host
		if h.Platform != "" {
			host += " (" + h.Platform + ")"
		}
		lines = append(lines, "Host: "+host)
	}
	if !h.BootTime.IsZero() {
		lines = append(lines, "Booted: "+h.BootTime.Format(time.DateTime))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(p.w, l); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(p.w)
	return err
}

// SetError records the error that ended the run, for inclusion in the JSON document.
func (p *Printer) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// ExportRecord prints one completed restart.
func (p *Printer) ExportRecord(ctx context.Context, r types.RestartRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[r.Kind]++
	if p.format == FormatJSON {
		p.records = append(p.records, jsonRecord{
			Kind:           r.Kind,
			Start:          r.Start,
			End:            r.End,
			ElapsedSeconds: r.Elapsed.Seconds(),
			Elapsed:        FormatElapsed(r.Elapsed),
		})
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s %d\n%s\n\n", r.Kind.Title(), p.counts[r.Kind], FormatRecord(r))
	return err
}

// ExportSummary prints the per-kind averages. For JSON it writes the whole document.
func (p *Printer) ExportSummary(ctx context.Context, summary []types.KindSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == FormatJSON {
		doc := jsonDocument{
			Header:  p.header,
			Records: p.records,
			Summary: make([]jsonSummary, 0, len(summary)),
		}
		if doc.Records == nil {
			doc.Records = []jsonRecord{}
		}
		for _, s := range summary {
			doc.Summary = append(doc.Summary, jsonSummary{
				Kind:        s.Kind,
				Count:       s.Count,
				MeanSeconds: s.Mean.Seconds(),
				Mean:        FormatElapsed(s.Mean),
				Min:         FormatElapsed(s.Min),
				Max:         FormatElapsed(s.Max),
			})
		}
		if p.err != nil {
			doc.Error = p.err.Error()
		}
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	for _, s := range summary {
		if _, err := fmt.Fprintln(p.w, FormatSummaryLine(s)); err != nil {
			return err
		}
	}
	return nil
}

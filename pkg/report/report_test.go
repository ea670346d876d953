package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/supporttools/restime/pkg/types"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{90 * time.Second, "0:01:30"},
		{5*time.Minute + 11*time.Second, "0:05:11"},
		{90*time.Second + 999*time.Millisecond, "0:01:30"},
		{26*time.Hour + 3*time.Second, "26:00:03"},
		{-61 * time.Second, "-0:01:01"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func sampleRecord(t *testing.T, kind types.RestartKind) types.RestartRecord {
	t.Helper()
	start := time.Date(2016, time.June, 20, 15, 0, 2, 0, time.UTC)
	end := time.Date(2016, time.June, 20, 15, 5, 13, 0, time.UTC)
	r, err := types.NewRestartRecord(kind, start, end)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestFormatRecord(t *testing.T) {
	got := FormatRecord(sampleRecord(t, types.Warm))
	want := "Start: 2016-06-20 15:00:02, End: 2016-06-20 15:05:13, ET: 0:05:11"
	if got != want {
		t.Errorf("FormatRecord() = %q, want %q", got, want)
	}
}

func TestFormatSummaryLine(t *testing.T) {
	tests := []struct {
		s    types.KindSummary
		want string
	}{
		{types.KindSummary{Kind: types.Warm, Count: 3, Mean: 90 * time.Second}, "Warm restart average of 3 tests: 0:01:30"},
		{types.KindSummary{Kind: types.Forced, Count: 1, Mean: 2 * time.Minute}, "Force restart average of 1 tests: 0:02:00"},
		{types.KindSummary{Kind: types.Down, Count: 2, Mean: 4*time.Minute + 500*time.Millisecond}, "Down restart average of 2 tests: 0:04:00"},
	}
	for _, tt := range tests {
		if got := FormatSummaryLine(tt.s); got != tt.want {
			t.Errorf("FormatSummaryLine() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"", FormatText, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatText, Header{
		RunID:   "1234",
		Command: "run",
		Host:    "db1",
	})
	ctx := context.Background()

	if err := p.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	for _, k := range []types.RestartKind{types.Warm, types.Warm, types.Cold} {
		if err := p.ExportRecord(ctx, sampleRecord(t, k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.ExportSummary(ctx, []types.KindSummary{
		{Kind: types.Warm, Count: 2, Mean: 311 * time.Second},
		{Kind: types.Cold, Count: 1, Mean: 311 * time.Second},
	}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"Command: run\nRun ID: 1234\nHost: db1\n\n",
		"Warm restart 1\nStart: 2016-06-20 15:00:02, End: 2016-06-20 15:05:13, ET: 0:05:11\n",
		"Warm restart 2\n",
		"Cold restart 1\n",
		"Warm restart average of 2 tests: 0:05:11\n",
		"Cold restart average of 1 tests: 0:05:11\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON, Header{RunID: "abcd", Command: "scan"})
	ctx := context.Background()

	if err := p.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	if err := p.ExportRecord(ctx, sampleRecord(t, types.Down)); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("JSON output should be buffered until the summary, got %q", buf.String())
	}
	p.SetError(errors.New("end of test not found"))
	if err := p.ExportSummary(ctx, []types.KindSummary{{Kind: types.Down, Count: 1, Mean: 311 * time.Second}}); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		RunID   string `json:"run_id"`
		Command string `json:"command"`
		Records []struct {
			Kind           string  `json:"kind"`
			ElapsedSeconds float64 `json:"elapsed_seconds"`
			Elapsed        string  `json:"elapsed"`
		} `json:"records"`
		Summary []struct {
			Kind  string `json:"kind"`
			Count int    `json:"count"`
			Mean  string `json:"mean"`
		} `json:"summary"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if doc.RunID != "abcd" || doc.Command != "scan" {
		t.Errorf("header = %q %q", doc.RunID, doc.Command)
	}
	if len(doc.Records) != 1 || doc.Records[0].Kind != "down" || doc.Records[0].ElapsedSeconds != 311 || doc.Records[0].Elapsed != "0:05:11" {
		t.Errorf("records = %+v", doc.Records)
	}
	if len(doc.Summary) != 1 || doc.Summary[0].Count != 1 || doc.Summary[0].Mean != "0:05:11" {
		t.Errorf("summary = %+v", doc.Summary)
	}
	if doc.Error != "end of test not found" {
		t.Errorf("error = %q", doc.Error)
	}
}

func TestPrinterJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON, Header{Command: "scan"})
	if err := p.ExportSummary(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"records": []`) || !strings.Contains(buf.String(), `"summary": []`) {
		t.Errorf("empty report should carry empty arrays:\n%s", buf.String())
	}
}

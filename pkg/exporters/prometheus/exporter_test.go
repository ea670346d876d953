package prometheus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/supporttools/restime/pkg/array"
	"github.com/supporttools/restime/pkg/classifier"
	"github.com/supporttools/restime/pkg/driver"
	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/reconfig"
	"github.com/supporttools/restime/pkg/scanner"
	"github.com/supporttools/restime/pkg/types"
)

func newTestExporter(t *testing.T) *Exporter {
	t.Helper()
	e, err := NewExporter(&types.PrometheusExporterConfig{Enabled: true}, "db1", "v1.0.0")
	if err != nil {
		t.Fatalf("NewExporter() error: %v", err)
	}
	return e
}

func record(t *testing.T, kind types.RestartKind, elapsed time.Duration) types.RestartRecord {
	t.Helper()
	start := time.Date(2016, time.June, 20, 15, 0, 0, 0, time.UTC)
	r, err := types.NewRestartRecord(kind, start, start.Add(elapsed))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name     string
		config   *types.PrometheusExporterConfig
		nodeName string
		wantErr  string
	}{
		{"nil config", nil, "db1", "config cannot be nil"},
		{"disabled", &types.PrometheusExporterConfig{}, "db1", "disabled"},
		{"no node", &types.PrometheusExporterConfig{Enabled: true}, "", "node name is required"},
		{"bad namespace", &types.PrometheusExporterConfig{Enabled: true, Namespace: "9x"}, "db1", "namespace"},
		{"bad path", &types.PrometheusExporterConfig{Enabled: true, Path: "metrics"}, "db1", "path"},
		{"valid", &types.PrometheusExporterConfig{Enabled: true, Labels: map[string]string{"site": "lab"}}, "db1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewExporter(tt.config, tt.nodeName, "")
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if e.Registry() == nil {
					t.Error("registry is nil")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExportRecord(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()

	for _, elapsed := range []time.Duration{60 * time.Second, 120 * time.Second} {
		if err := e.ExportRecord(ctx, record(t, types.Warm, elapsed)); err != nil {
			t.Fatalf("ExportRecord() error: %v", err)
		}
	}
	if err := e.ExportRecord(ctx, record(t, types.Cold, 10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(e.metrics.RestartsTotal.WithLabelValues("db1", "warm")); got != 2 {
		t.Errorf("warm restarts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(e.metrics.LastRestartSeconds.WithLabelValues("db1", "warm")); got != 120 {
		t.Errorf("last warm = %v, want 120", got)
	}
	if got := testutil.ToFloat64(e.metrics.LastRestartSeconds.WithLabelValues("db1", "cold")); got != 600 {
		t.Errorf("last cold = %v, want 600", got)
	}
	if got := testutil.CollectAndCount(e.metrics.RestartDuration); got != 2 {
		t.Errorf("histogram series = %d, want 2", got)
	}
}

func TestExportRecordInvalid(t *testing.T) {
	e := newTestExporter(t)
	bad := record(t, types.Warm, time.Minute)
	bad.Elapsed = time.Hour

	if err := e.ExportRecord(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
	if got := testutil.ToFloat64(e.metrics.ExportOperationsTotal.WithLabelValues("db1", "record", "error")); got != 1 {
		t.Errorf("export errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(e.metrics.RestartsTotal); got != 0 {
		t.Errorf("restart series = %d, want 0", got)
	}
}

func TestExportSummary(t *testing.T) {
	e := newTestExporter(t)
	ctx := context.Background()

	first := []types.KindSummary{
		{Kind: types.Warm, Count: 3, Mean: 90 * time.Second},
		{Kind: types.Down, Count: 1, Mean: 5 * time.Minute},
	}
	if err := e.ExportSummary(ctx, first); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(e.metrics.MeanRestartSeconds.WithLabelValues("db1", "warm")); got != 90 {
		t.Errorf("warm mean = %v, want 90", got)
	}

	// a later summary replaces the earlier one
	if err := e.ExportSummary(ctx, first[:1]); err != nil {
		t.Fatal(err)
	}
	if got := testutil.CollectAndCount(e.metrics.MeanRestartSeconds); got != 1 {
		t.Errorf("mean series = %d, want 1", got)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("waiting: %w", context.DeadlineExceeded), "timeout"},
		{context.Canceled, "canceled"},
		{&driver.CommandError{Argv: []string{"tpareset"}, ExitCode: 1, Err: errors.New("exit status 1")}, "command"},
		{fmt.Errorf("follow: %w", scanner.ErrLogLag), "log_lag"},
		{scanner.ErrStartTimeNotFound, "start_not_found"},
		{classifier.ErrReasonNotFound, "reason_not_found"},
		{classifier.ErrCompletionNotFound, "completion_not_found"},
		{classifier.ErrOverlappingTrigger, "overlapping_trigger"},
		{&scanner.LineError{Line: 4, Err: logtime.ErrMalformedTimestamp}, "timestamp"},
		{types.ErrRecordOutOfOrder, "out_of_order"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FailureReason(tt.err); got != tt.want {
				t.Errorf("FailureReason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecordFailure(t *testing.T) {
	e := newTestExporter(t)
	e.RecordFailure(scanner.ErrLogLag)
	e.RecordFailure(scanner.ErrLogLag)
	e.RecordFailure(nil)

	if got := testutil.ToFloat64(e.metrics.FailuresTotal.WithLabelValues("db1", "log_lag")); got != 2 {
		t.Errorf("log_lag failures = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(e.metrics.FailuresTotal); got != 1 {
		t.Errorf("failure series = %d, want 1", got)
	}
}

func TestExportReconfig(t *testing.T) {
	e := newTestExporter(t)
	begin := time.Date(2016, time.June, 20, 13, 41, 49, 0, time.UTC)
	rep := reconfig.Report{
		Start:                        begin,
		End:                          begin.Add(10 * time.Hour),
		EstimatedRedistributionHours: 2.01,
		EstimatedDeletionHours:       2.03,
		HashMap:                      reconfig.Phase{Name: "hash map calculation", Begin: begin, End: begin.Add(80 * time.Second)},
		Redistribution:               reconfig.Phase{Name: "table redistribution", Begin: begin, End: begin.Add(2 * time.Hour)},
		Deletion:                     reconfig.Phase{Name: "old table deletion", Begin: begin, End: begin.Add(time.Hour)},
	}
	if err := e.ExportReconfig(context.Background(), rep); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		phase string
		want  float64
	}{
		{"hash map calculation", 80},
		{"table redistribution", 7200},
		{"old table deletion", 3600},
		{"total", 36000},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(e.metrics.ReconfigPhaseSeconds.WithLabelValues("db1", tt.phase)); got != tt.want {
			t.Errorf("phase %q = %v, want %v", tt.phase, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(e.metrics.ReconfigEstimateHours.WithLabelValues("db1", "old table deletion")); got != 2.03 {
		t.Errorf("deletion estimate = %v", got)
	}
}

func TestExportArray(t *testing.T) {
	e := newTestExporter(t)
	results := []array.Result{
		{VDisk: "vd01", Reconstruct: 2 * time.Hour, Copyback: time.Hour},
		{VDisk: "vd02", Reconstruct: 30 * time.Minute, Err: array.ErrCopybackIncomplete},
	}
	if err := e.ExportArray(context.Background(), results); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(e.metrics.ArrayOperationSeconds.WithLabelValues("db1", "vd01", "copyback")); got != 3600 {
		t.Errorf("vd01 copyback = %v", got)
	}
	// vd02 copyback never completed
	if got := testutil.CollectAndCount(e.metrics.ArrayOperationSeconds); got != 3 {
		t.Errorf("array series = %d, want 3", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	e := newTestExporter(t)
	if err := e.ExportRecord(context.Background(), record(t, types.Forced, 5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "restime.prom")
	if err := e.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`restime_restarts_total{kind="forced",node="db1"} 1`,
		`restime_last_restart_duration_seconds{kind="forced",node="db1"} 300`,
		`restime_info{go_version=`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
	// runtime collectors are only registered when serving
	if strings.Contains(string(data), "go_goroutines") {
		t.Error("textfile should not carry Go runtime metrics")
	}

	if err := e.WriteTextfile(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStartStop(t *testing.T) {
	e, err := NewExporter(&types.PrometheusExporterConfig{Enabled: true, Serve: true, BindAddress: "127.0.0.1"}, "db1", "")
	if err != nil {
		t.Fatal(err)
	}
	e.config.Port = 0 // any free port

	if err := e.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer e.Stop()

	if err := e.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	if err := e.ExportRecord(context.Background(), record(t, types.Warm, time.Minute)); err != nil {
		t.Fatal(err)
	}

	base := "http://" + e.Addr().String()
	get := func(path string) string {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return string(body)
	}

	if body := get("/metrics"); !strings.Contains(body, `restime_restarts_total{kind="warm",node="db1"} 1`) {
		t.Errorf("metrics body missing restart counter:\n%s", body)
	}
	if body := get("/health"); !strings.Contains(body, "healthy") {
		t.Errorf("health body = %s", body)
	}

	if err := e.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if e.Addr() != nil {
		t.Error("Addr() should be nil after Stop")
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

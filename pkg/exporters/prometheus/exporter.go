// Package prometheus publishes restart, reconfiguration and array timings as
// Prometheus metrics, served over HTTP or written to a node-exporter textfile.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/supporttools/restime/pkg/array"
	"github.com/supporttools/restime/pkg/classifier"
	"github.com/supporttools/restime/pkg/driver"
	"github.com/supporttools/restime/pkg/logger"
	"github.com/supporttools/restime/pkg/logtime"
	"github.com/supporttools/restime/pkg/reconfig"
	"github.com/supporttools/restime/pkg/scanner"
	"github.com/supporttools/restime/pkg/types"
)

// Exporter implements types.Exporter on top of a private registry.
type Exporter struct {
	config    *types.PrometheusExporterConfig
	nodeName  string
	registry  *prometheus.Registry
	metrics   *Metrics
	server    *http.Server
	addr      net.Addr
	startTime time.Time
	mu        sync.Mutex
	started   bool
}

// NewExporter creates an exporter for nodeName. The config must be enabled.
func NewExporter(config *types.PrometheusExporterConfig, nodeName, version string) (*Exporter, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil, fmt.Errorf("prometheus exporter is disabled")
	}
	if nodeName == "" {
		return nil, fmt.Errorf("node name is required")
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	constLabels := make(prometheus.Labels, len(config.Labels))
	for k, v := range config.Labels {
		constLabels[k] = v
	}

	registry := NewRegistry(config.Serve)
	metrics := NewMetrics(config.Namespace, config.Subsystem, constLabels)
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	e := &Exporter{
		config:    config,
		nodeName:  nodeName,
		registry:  registry,
		metrics:   metrics,
		startTime: time.Now(),
	}
	if version == "" {
		version = "unknown"
	}
	metrics.StartTimeSeconds.WithLabelValues(nodeName).Set(float64(e.startTime.Unix()))
	metrics.Info.WithLabelValues(nodeName, version, runtime.Version()).Set(1)

	logger.Debugf("Created Prometheus exporter with namespace %q", config.Namespace)
	return e, nil
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Start serves the registry over HTTP until Stop is called.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("prometheus exporter already started")
	}

	addr := net.JoinHostPort(e.config.BindAddress, fmt.Sprint(e.config.Port))
	server, bound, err := startHTTPServer(addr, e.config.Path, e.registry)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	e.server = server
	e.addr = bound
	e.started = true
	return nil
}

// Addr returns the address the server is bound to, or nil before Start.
func (e *Exporter) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Stop shuts the HTTP server down. It is a no-op when not started.
func (e *Exporter) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	err := shutdownServer(e.server, 10*time.Second)
	e.server = nil
	e.addr = nil
	e.started = false
	return err
}

// ExportRecord counts a completed restart and observes its elapsed time.
func (e *Exporter) ExportRecord(ctx context.Context, record types.RestartRecord) error {
	if err := record.Validate(); err != nil {
		e.metrics.ExportOperationsTotal.WithLabelValues(e.nodeName, "record", "error").Inc()
		return fmt.Errorf("record validation failed: %w", err)
	}

	kind := record.Kind.String()
	seconds := record.Elapsed.Seconds()
	e.metrics.RestartsTotal.WithLabelValues(e.nodeName, kind).Inc()
	e.metrics.RestartDuration.WithLabelValues(e.nodeName, kind).Observe(seconds)
	e.metrics.LastRestartSeconds.WithLabelValues(e.nodeName, kind).Set(seconds)
	e.metrics.ExportOperationsTotal.WithLabelValues(e.nodeName, "record", "success").Inc()
	return nil
}

// ExportSummary publishes the per-kind mean elapsed times.
func (e *Exporter) ExportSummary(ctx context.Context, summary []types.KindSummary) error {
	e.metrics.MeanRestartSeconds.Reset()
	for _, s := range summary {
		e.metrics.MeanRestartSeconds.WithLabelValues(e.nodeName, s.Kind.String()).Set(s.Mean.Seconds())
	}
	e.metrics.ExportOperationsTotal.WithLabelValues(e.nodeName, "summary", "success").Inc()
	return nil
}

// RecordFailure counts a failed restart or scan under a reason derived from err.
func (e *Exporter) RecordFailure(err error) {
	if err == nil {
		return
	}
	e.metrics.FailuresTotal.WithLabelValues(e.nodeName, FailureReason(err)).Inc()
}

// ExportReconfig publishes the phase durations and estimates of a reconfiguration.
func (e *Exporter) ExportReconfig(ctx context.Context, rep reconfig.Report) error {
	for _, p := range rep.Phases() {
		e.metrics.ReconfigPhaseSeconds.WithLabelValues(e.nodeName, p.Name).Set(p.Duration().Seconds())
	}
	e.metrics.ReconfigPhaseSeconds.WithLabelValues(e.nodeName, "total").Set(rep.Total().Seconds())
	e.metrics.ReconfigEstimateHours.WithLabelValues(e.nodeName, "table redistribution").Set(rep.EstimatedRedistributionHours)
	e.metrics.ReconfigEstimateHours.WithLabelValues(e.nodeName, "old table deletion").Set(rep.EstimatedDeletionHours)
	e.metrics.ExportOperationsTotal.WithLabelValues(e.nodeName, "reconfig", "success").Inc()
	return nil
}

// ExportArray publishes reconstruction and copyback durations. Operations
// that did not complete are left out.
func (e *Exporter) ExportArray(ctx context.Context, results []array.Result) error {
	for _, r := range results {
		if r.Reconstruct > 0 {
			e.metrics.ArrayOperationSeconds.WithLabelValues(e.nodeName, r.VDisk, "reconstruct").Set(r.Reconstruct.Seconds())
		}
		if r.Copyback > 0 {
			e.metrics.ArrayOperationSeconds.WithLabelValues(e.nodeName, r.VDisk, "copyback").Set(r.Copyback.Seconds())
		}
	}
	e.metrics.ExportOperationsTotal.WithLabelValues(e.nodeName, "array", "success").Inc()
	return nil
}

// WriteTextfile writes the registry in text exposition format for the
// node-exporter textfile collector. The file is replaced atomically.
func (e *Exporter) WriteTextfile(path string) error {
	if path == "" {
		return fmt.Errorf("textfile path is empty")
	}
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// FailureReason maps an error to a short metric label.
func FailureReason(err error) string {
	var cmdErr *driver.CommandError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &cmdErr):
		return "command"
	case errors.Is(err, scanner.ErrLogLag):
		return "log_lag"
	case errors.Is(err, scanner.ErrStartTimeNotFound), errors.Is(err, scanner.ErrRestartNotFound):
		return "start_not_found"
	case errors.Is(err, classifier.ErrReasonNotFound):
		return "reason_not_found"
	case errors.Is(err, classifier.ErrCompletionNotFound):
		return "completion_not_found"
	case errors.Is(err, classifier.ErrOverlappingTrigger):
		return "overlapping_trigger"
	case errors.Is(err, logtime.ErrNoTimestamp), errors.Is(err, logtime.ErrMalformedTimestamp):
		return "timestamp"
	case errors.Is(err, types.ErrRecordOutOfOrder):
		return "out_of_order"
	}
	return "other"
}

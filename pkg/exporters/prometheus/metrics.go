package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains every collector restime exposes.
type Metrics struct {
	// Counter metrics
	RestartsTotal         *prometheus.CounterVec
	FailuresTotal         *prometheus.CounterVec
	ExportOperationsTotal *prometheus.CounterVec

	// Gauge metrics
	LastRestartSeconds    *prometheus.GaugeVec
	MeanRestartSeconds    *prometheus.GaugeVec
	ReconfigPhaseSeconds  *prometheus.GaugeVec
	ReconfigEstimateHours *prometheus.GaugeVec
	ArrayOperationSeconds *prometheus.GaugeVec
	Info                  *prometheus.GaugeVec
	StartTimeSeconds      *prometheus.GaugeVec

	// Histogram metrics
	RestartDuration *prometheus.HistogramVec
}

// restartBuckets spans a quick warm restart to a slow cold one.
var restartBuckets = []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200}

// NewMetrics builds the collectors under namespace and subsystem.
func NewMetrics(namespace, subsystem string, constLabels prometheus.Labels) *Metrics {
	if namespace == "" {
		namespace = "restime"
	}

	labels := make(prometheus.Labels, len(constLabels))
	for k, v := range constLabels {
		labels[k] = v
	}

	counter := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}
	gauge := func(name, help string, labelNames ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}

	return &Metrics{
		RestartsTotal: counter("restarts_total",
			"Total number of timed restarts", "node", "kind"),
		FailuresTotal: counter("failures_total",
			"Total number of restarts or scans that failed, by reason", "node", "reason"),
		ExportOperationsTotal: counter("export_operations_total",
			"Total number of export operations", "node", "operation", "result"),

		LastRestartSeconds: gauge("last_restart_duration_seconds",
			"Elapsed time of the most recent restart of each kind", "node", "kind"),
		MeanRestartSeconds: gauge("restart_mean_duration_seconds",
			"Mean elapsed restart time per kind for the current run", "node", "kind"),
		ReconfigPhaseSeconds: gauge("reconfig_phase_duration_seconds",
			"Duration of each reconfiguration phase", "node", "phase"),
		ReconfigEstimateHours: gauge("reconfig_estimate_hours",
			"Reconfiguration time estimated by the database", "node", "phase"),
		ArrayOperationSeconds: gauge("array_operation_duration_seconds",
			"Duration of vdisk reconstruction and copyback", "node", "vdisk", "operation"),
		Info: gauge("info",
			"Build information", "node", "version", "go_version"),
		StartTimeSeconds: gauge("start_time_seconds",
			"Unix time the exporter was created", "node"),

		RestartDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "restart_duration_seconds",
			Help:        "Distribution of elapsed restart time",
			ConstLabels: labels,
			Buckets:     restartBuckets,
		}, []string{"node", "kind"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RestartsTotal,
		m.FailuresTotal,
		m.ExportOperationsTotal,
		m.LastRestartSeconds,
		m.MeanRestartSeconds,
		m.ReconfigPhaseSeconds,
		m.ReconfigEstimateHours,
		m.ArrayOperationSeconds,
		m.Info,
		m.StartTimeSeconds,
		m.RestartDuration,
	}
}

// Register registers all metrics with registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// Unregister removes all metrics from registry.
func (m *Metrics) Unregister(registry prometheus.Registerer) {
	for _, c := range m.collectors() {
		registry.Unregister(c)
	}
}

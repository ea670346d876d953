package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry creates a registry separate from the global default, carrying
// Go runtime and process metrics when runtime is true. Textfile output leaves
// them out: they describe the short-lived CLI process, not the database.
func NewRegistry(runtime bool) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	if runtime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return registry
}

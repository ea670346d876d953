package types

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDriverConfigApplyDefaults tests default application and duration parsing
func TestDriverConfigApplyDefaults(t *testing.T) {
	tests := []struct {
		name         string
		input        DriverConfig
		wantPoll     time.Duration
		wantRetry    time.Duration
		wantWait     time.Duration
		wantErr      bool
		errSubstring string
	}{
		{
			name:      "empty config gets all defaults",
			input:     DriverConfig{},
			wantPoll:  10 * time.Second,
			wantRetry: 30 * time.Second,
			wantWait:  0,
		},
		{
			name: "explicit values are preserved",
			input: DriverConfig{
				PollIntervalString: "20s",
				RetryDelayString:   "1m",
				WaitTimeoutString:  "2h",
			},
			wantPoll:  20 * time.Second,
			wantRetry: time.Minute,
			wantWait:  2 * time.Hour,
		},
		{
			name:         "invalid poll interval",
			input:        DriverConfig{PollIntervalString: "soon"},
			wantErr:      true,
			errSubstring: "pollInterval",
		},
		{
			name:         "invalid wait timeout",
			input:        DriverConfig{WaitTimeoutString: "forever"},
			wantErr:      true,
			errSubstring: "waitTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.input
			err := d.ApplyDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errSubstring) {
					t.Errorf("error %q should mention %q", err, tt.errSubstring)
				}
				return
			}
			if d.PollInterval != tt.wantPoll {
				t.Errorf("PollInterval = %v, want %v", d.PollInterval, tt.wantPoll)
			}
			if d.RetryDelay != tt.wantRetry {
				t.Errorf("RetryDelay = %v, want %v", d.RetryDelay, tt.wantRetry)
			}
			if d.WaitTimeout != tt.wantWait {
				t.Errorf("WaitTimeout = %v, want %v", d.WaitTimeout, tt.wantWait)
			}
			if !reflect.DeepEqual(d.Commands.Warm, DefaultWarmCommand) {
				t.Errorf("Commands.Warm = %v, want %v", d.Commands.Warm, DefaultWarmCommand)
			}
			if d.Probe.Halted != DefaultProbeHalted {
				t.Errorf("Probe.Halted = %q, want %q", d.Probe.Halted, DefaultProbeHalted)
			}
		})
	}
}

func TestCommandsForKind(t *testing.T) {
	var c CommandsConfig
	c.ApplyDefaults()

	tests := []struct {
		kind RestartKind
		want []string
	}{
		{Warm, DefaultWarmCommand},
		{Forced, DefaultForcedCommand},
		{Cold, DefaultColdCommand},
		{Down, DefaultDownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := c.ForKind(tt.kind)
			if err != nil {
				t.Fatalf("ForKind(%v) error: %v", tt.kind, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ForKind(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}

	if _, err := c.ForKind(RestartKind(7)); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestApplyDefaultsDoesNotShareSlices(t *testing.T) {
	var c CommandsConfig
	c.ApplyDefaults()
	c.Warm[0] = "changed"
	if DefaultWarmCommand[0] != "tpareset" {
		t.Fatal("ApplyDefaults aliased the package default command")
	}
}

// TestGlobalSettingsValidation tests validation of logging settings
func TestGlobalSettingsValidation(t *testing.T) {
	valid := GlobalSettings{NodeName: "db1", LogLevel: "info", LogFormat: "text", LogOutput: "stderr"}

	tests := []struct {
		name    string
		modify  func(s *GlobalSettings)
		wantErr bool
	}{
		{"valid", func(s *GlobalSettings) {}, false},
		{"missing node name", func(s *GlobalSettings) { s.NodeName = "" }, true},
		{"bad level", func(s *GlobalSettings) { s.LogLevel = "loud" }, true},
		{"bad format", func(s *GlobalSettings) { s.LogFormat = "xml" }, true},
		{"bad output", func(s *GlobalSettings) { s.LogOutput = "syslog" }, true},
		{"file without path", func(s *GlobalSettings) { s.LogOutput = "file" }, true},
		{"file with path", func(s *GlobalSettings) { s.LogOutput = "file"; s.LogFile = "/tmp/restime.log" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.modify(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDriverConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(d *DriverConfig)
		wantErr bool
	}{
		{"defaults are valid", func(d *DriverConfig) {}, false},
		{"poll too fast", func(d *DriverConfig) { d.PollInterval = 100 * time.Millisecond }, true},
		{"empty status command", func(d *DriverConfig) { d.Commands.Status = []string{""} }, true},
		{"bad probe regex", func(d *DriverConfig) { d.Probe.DataUp = "([" }, true},
		{"zero command timeout", func(d *DriverConfig) { d.CommandTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d DriverConfig
			if err := d.ApplyDefaults(); err != nil {
				t.Fatalf("ApplyDefaults() error: %v", err)
			}
			tt.modify(&d)
			if err := d.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestPrometheusExporterConfigValidation tests the exporter settings
func TestPrometheusExporterConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  PrometheusExporterConfig
		wantErr bool
	}{
		{"disabled skips validation", PrometheusExporterConfig{Enabled: false, Port: -1}, false},
		{"valid", PrometheusExporterConfig{Enabled: true, Port: 9101, Path: "/metrics", Namespace: "restime"}, false},
		{"bad port", PrometheusExporterConfig{Enabled: true, Port: 70000, Path: "/metrics"}, true},
		{"bad path", PrometheusExporterConfig{Enabled: true, Port: 9101, Path: "metrics"}, true},
		{"bad namespace", PrometheusExporterConfig{Enabled: true, Port: 9101, Path: "/metrics", Namespace: "9bad"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestimeConfigValidation(t *testing.T) {
	newConfig := func() *RestimeConfig {
		c := &RestimeConfig{Settings: GlobalSettings{NodeName: "db1"}}
		if err := c.ApplyDefaults(); err != nil {
			t.Fatalf("ApplyDefaults() error: %v", err)
		}
		return c
	}

	if err := newConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	c := newConfig()
	c.Kind = "SomethingElse"
	if err := c.Validate(); err == nil {
		t.Error("expected wrong kind to fail")
	}

	c = newConfig()
	c.Markers = []MarkerConfig{
		{Name: "logons", Regex: "Logons are enabled"},
		{Name: "logons", Regex: "Logons are on"},
	}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate marker error, got %v", err)
	}

	c = newConfig()
	c.Markers = []MarkerConfig{{Name: "broken", Regex: "(unclosed"}}
	if err := c.Validate(); err == nil {
		t.Error("expected invalid marker regex to fail")
	}

	c = newConfig()
	c.Markers = []MarkerConfig{{Name: "huge", Regex: strings.Repeat("a", MaxMarkerRegexLength+1)}}
	if err := c.Validate(); err == nil {
		t.Error("expected oversized marker regex to fail")
	}
}

// TestEnvironmentVariableSubstitution tests ${VAR} expansion in path fields
func TestEnvironmentVariableSubstitution(t *testing.T) {
	os.Setenv("RESTIME_TEST_DIR", "/data/logs")
	defer os.Unsetenv("RESTIME_TEST_DIR")

	c := &RestimeConfig{
		Scan: ScanConfig{LogPath: "${RESTIME_TEST_DIR}/messages"},
		Exporters: ExporterConfigs{Prometheus: &PrometheusExporterConfig{
			Textfile: "$RESTIME_TEST_DIR/restime.prom",
			Labels:   map[string]string{"site": "${RESTIME_TEST_DIR}"},
		}},
	}
	c.SubstituteEnvVars()

	if c.Scan.LogPath != "/data/logs/messages" {
		t.Errorf("LogPath = %q", c.Scan.LogPath)
	}
	if c.Exporters.Prometheus.Textfile != "/data/logs/restime.prom" {
		t.Errorf("Textfile = %q", c.Exporters.Prometheus.Textfile)
	}
	if c.Exporters.Prometheus.Labels["site"] != "/data/logs" {
		t.Errorf("Labels[site] = %q", c.Exporters.Prometheus.Labels["site"])
	}
}

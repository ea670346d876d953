// Package types defines configuration types for restime.
package types

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Package-level defaults
const (
	DefaultAPIVersion       = "restime.supporttools.io/v1"
	DefaultConfigKind       = "RestimeConfig"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLogOutput        = "stderr"
	DefaultLogPath          = "/var/log/messages"
	DefaultColdReason       = "System restarted by VprocManager"
	DefaultPollInterval     = "10s"
	DefaultRetryDelay       = "30s"
	DefaultCommandTimeout   = "30m"
	DefaultArrayClockOffset = "0s"
	DefaultPrometheusPort   = 9101
	DefaultPrometheusPath   = "/metrics"
	DefaultPrometheusBind   = "0.0.0.0"
	DefaultNamespace        = "restime"
	DefaultProbeProcessUp   = `^PDE state is RUN/STARTED\.`
	DefaultProbeDataUp      = `Logons are enabled`
	DefaultProbeHalted      = `^PDE state: DOWN/HARDSTOP`
	MaxMarkerRegexLength    = 1000
)

// Default external commands. Each is an argv vector.
var (
	DefaultWarmCommand   = []string{"tpareset", "-yes", "warm", "restart"}
	DefaultForcedCommand = []string{"tpareset", "-yes", "-f", "force", "restart"}
	DefaultColdCommand   = []string{"tpareset", "-f", "-yes", "force", "restart"}
	DefaultDownCommand   = []string{"tpareset", "-x", "-yes", "down"}
	DefaultStartCommand  = []string{"/etc/init.d/tpa", "start"}
	DefaultStatusCommand = []string{"pdestate", "-a"}
)

// Package-level variables for validation
var (
	// Prometheus namespace validation regex
	prometheusNamespaceRegex = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	// Valid log formats
	validLogFormats = map[string]bool{
		"json": true,
		"text": true,
	}

	// Valid log outputs
	validLogOutputs = map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}

	// MinPollInterval keeps the status probe from spinning.
	MinPollInterval = 1 * time.Second
)

// RestimeConfig is the top-level configuration structure.
type RestimeConfig struct {
	// APIVersion of the configuration schema
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`

	// Kind of resource (always "RestimeConfig")
	Kind string `json:"kind" yaml:"kind"`

	// Settings contains logging and host identity
	Settings GlobalSettings `json:"settings" yaml:"settings"`

	// Scan configures the log source and restart classification
	Scan ScanConfig `json:"scan" yaml:"scan"`

	// Driver configures the restart commands and status polling
	Driver DriverConfig `json:"driver" yaml:"driver"`

	// Markers override or extend the built-in log marker patterns
	Markers []MarkerConfig `json:"markers,omitempty" yaml:"markers,omitempty"`

	// Array configures storage array event analysis
	Array ArrayConfig `json:"array,omitempty" yaml:"array,omitempty"`

	// Exporters contains exporter configurations
	Exporters ExporterConfigs `json:"exporters,omitempty" yaml:"exporters,omitempty"`
}

// GlobalSettings contains global configuration settings.
type GlobalSettings struct {
	// NodeName identifies the host in reports and metrics (usually from ${HOSTNAME})
	NodeName string `json:"nodeName" yaml:"nodeName"`

	// Logging configuration
	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	LogOutput string `json:"logOutput,omitempty" yaml:"logOutput,omitempty"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// ScanConfig configures where restarts are looked for and how they are classified.
type ScanConfig struct {
	// LogPath is the operational log holding restart markers
	LogPath string `json:"logPath,omitempty" yaml:"logPath,omitempty"`

	// ColdReason is the restart reason text that marks a cold restart
	ColdReason string `json:"coldReason,omitempty" yaml:"coldReason,omitempty"`

	// Strict makes a retrospective scan fail on lines without a syslog timestamp
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// DriverConfig configures how restarts are issued and awaited.
type DriverConfig struct {
	// Poll interval for the status probe (stored as string)
	PollIntervalString string        `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	PollInterval       time.Duration `json:"-" yaml:"-"`

	// WaitTimeout bounds each wait for up or down. Empty waits forever.
	WaitTimeoutString string        `json:"waitTimeout,omitempty" yaml:"waitTimeout,omitempty"`
	WaitTimeout       time.Duration `json:"-" yaml:"-"`

	// RetryDelay is how long the live follow waits for the log before its single retry
	RetryDelayString string        `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	RetryDelay       time.Duration `json:"-" yaml:"-"`

	// CommandTimeout bounds a single external command
	CommandTimeoutString string        `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
	CommandTimeout       time.Duration `json:"-" yaml:"-"`

	// ContinueOnError keeps running queued restarts after one fails
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`

	// RequireUpBefore waits for the system to be up before each restart
	RequireUpBefore bool `json:"requireUpBefore,omitempty" yaml:"requireUpBefore,omitempty"`

	// DryRun logs commands instead of executing them
	DryRun bool `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`

	Commands CommandsConfig `json:"commands,omitempty" yaml:"commands,omitempty"`
	Probe    ProbeConfig    `json:"probe,omitempty" yaml:"probe,omitempty"`
}

// CommandsConfig holds the argv of every external command the driver runs.
type CommandsConfig struct {
	Warm   []string `json:"warm,omitempty" yaml:"warm,omitempty"`
	Forced []string `json:"forced,omitempty" yaml:"forced,omitempty"`
	Cold   []string `json:"cold,omitempty" yaml:"cold,omitempty"`
	Down   []string `json:"down,omitempty" yaml:"down,omitempty"`
	Start  []string `json:"start,omitempty" yaml:"start,omitempty"`
	Status []string `json:"status,omitempty" yaml:"status,omitempty"`
}

// ProbeConfig holds the regexes applied to status command output.
type ProbeConfig struct {
	ProcessUp string `json:"processUp,omitempty" yaml:"processUp,omitempty"`
	DataUp    string `json:"dataUp,omitempty" yaml:"dataUp,omitempty"`
	Halted    string `json:"halted,omitempty" yaml:"halted,omitempty"`
}

// MarkerConfig overrides or adds a log marker pattern.
type MarkerConfig struct {
	// Name identifies the pattern; a built-in name replaces that pattern
	Name string `json:"name" yaml:"name"`

	// Kind is the marker kind the pattern signals (e.g. "completion-up")
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Regex is the pattern applied to each log line
	Regex string `json:"regex" yaml:"regex"`
}

// ArrayConfig configures storage array event analysis.
type ArrayConfig struct {
	// ClockOffset is added to array event timestamps to bring them to local time
	ClockOffsetString string        `json:"clockOffset,omitempty" yaml:"clockOffset,omitempty"`
	ClockOffset       time.Duration `json:"-" yaml:"-"`

	// VDisks limits analysis to these virtual disks
	VDisks []string `json:"vdisks,omitempty" yaml:"vdisks,omitempty"`
}

// ExporterConfigs contains all exporter configurations.
type ExporterConfigs struct {
	Prometheus *PrometheusExporterConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
}

// PrometheusExporterConfig configures the Prometheus exporter.
type PrometheusExporterConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	BindAddress string            `json:"bindAddress,omitempty" yaml:"bindAddress,omitempty"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Namespace   string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Subsystem   string            `json:"subsystem,omitempty" yaml:"subsystem,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Textfile, when set, receives the metrics in text format at the end of a run
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`

	// Serve starts the /metrics HTTP server for the duration of a run
	Serve bool `json:"serve,omitempty" yaml:"serve,omitempty"`
}

// ApplyDefaults applies default values to the configuration.
func (c *RestimeConfig) ApplyDefaults() error {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Kind == "" {
		c.Kind = DefaultConfigKind
	}

	if err := c.Settings.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to settings: %w", err)
	}

	c.Scan.ApplyDefaults()

	if err := c.Driver.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to driver: %w", err)
	}

	if err := c.Array.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to array: %w", err)
	}

	if c.Exporters.Prometheus != nil {
		c.Exporters.Prometheus.ApplyDefaults()
	}

	return nil
}

// ApplyDefaults applies default values to GlobalSettings.
func (s *GlobalSettings) ApplyDefaults() error {
	if s.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to determine node name: %w", err)
		}
		s.NodeName = hostname
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
	if s.LogOutput == "" {
		s.LogOutput = DefaultLogOutput
	}
	return nil
}

// ApplyDefaults applies default values to ScanConfig.
func (s *ScanConfig) ApplyDefaults() {
	if s.LogPath == "" {
		s.LogPath = DefaultLogPath
	}
	if s.ColdReason == "" {
		s.ColdReason = DefaultColdReason
	}
}

// ApplyDefaults applies default values to DriverConfig and parses durations.
func (d *DriverConfig) ApplyDefaults() error {
	if d.PollIntervalString == "" {
		d.PollIntervalString = DefaultPollInterval
	}
	if d.RetryDelayString == "" {
		d.RetryDelayString = DefaultRetryDelay
	}
	if d.CommandTimeoutString == "" {
		d.CommandTimeoutString = DefaultCommandTimeout
	}

	var err error
	d.PollInterval, err = time.ParseDuration(d.PollIntervalString)
	if err != nil {
		return fmt.Errorf("invalid pollInterval %q: %w", d.PollIntervalString, err)
	}
	d.RetryDelay, err = time.ParseDuration(d.RetryDelayString)
	if err != nil {
		return fmt.Errorf("invalid retryDelay %q: %w", d.RetryDelayString, err)
	}
	d.CommandTimeout, err = time.ParseDuration(d.CommandTimeoutString)
	if err != nil {
		return fmt.Errorf("invalid commandTimeout %q: %w", d.CommandTimeoutString, err)
	}
	if d.WaitTimeoutString != "" {
		d.WaitTimeout, err = time.ParseDuration(d.WaitTimeoutString)
		if err != nil {
			return fmt.Errorf("invalid waitTimeout %q: %w", d.WaitTimeoutString, err)
		}
	}

	d.Commands.ApplyDefaults()
	d.Probe.ApplyDefaults()
	return nil
}

// ApplyDefaults fills in any command left empty.
func (c *CommandsConfig) ApplyDefaults() {
	fill := func(dst *[]string, def []string) {
		if len(*dst) == 0 {
			*dst = append([]string(nil), def...)
		}
	}
	fill(&c.Warm, DefaultWarmCommand)
	fill(&c.Forced, DefaultForcedCommand)
	fill(&c.Cold, DefaultColdCommand)
	fill(&c.Down, DefaultDownCommand)
	fill(&c.Start, DefaultStartCommand)
	fill(&c.Status, DefaultStatusCommand)
}

// ForKind returns the command that induces a restart of the given kind.
// For Down this is the force-down command; Start brings the system back.
func (c *CommandsConfig) ForKind(kind RestartKind) ([]string, error) {
	switch kind {
	case Warm:
		return c.Warm, nil
	case Forced:
		return c.Forced, nil
	case Cold:
		return c.Cold, nil
	case Down:
		return c.Down, nil
	}
	return nil, fmt.Errorf("no command for restart kind %v", kind)
}

// ApplyDefaults fills in any probe pattern left empty.
func (p *ProbeConfig) ApplyDefaults() {
	if p.ProcessUp == "" {
		p.ProcessUp = DefaultProbeProcessUp
	}
	if p.DataUp == "" {
		p.DataUp = DefaultProbeDataUp
	}
	if p.Halted == "" {
		p.Halted = DefaultProbeHalted
	}
}

// ApplyDefaults applies default values to ArrayConfig.
func (a *ArrayConfig) ApplyDefaults() error {
	if a.ClockOffsetString == "" {
		a.ClockOffsetString = DefaultArrayClockOffset
	}
	var err error
	a.ClockOffset, err = time.ParseDuration(a.ClockOffsetString)
	if err != nil {
		return fmt.Errorf("invalid clockOffset %q: %w", a.ClockOffsetString, err)
	}
	return nil
}

// ApplyDefaults applies default values to PrometheusExporterConfig.
func (p *PrometheusExporterConfig) ApplyDefaults() {
	if p.BindAddress == "" {
		p.BindAddress = DefaultPrometheusBind
	}
	if p.Port == 0 {
		p.Port = DefaultPrometheusPort
	}
	if p.Path == "" {
		p.Path = DefaultPrometheusPath
	}
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
}

// Validate validates the entire configuration.
func (c *RestimeConfig) Validate() error {
	if c.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if c.Kind != DefaultConfigKind {
		return fmt.Errorf("kind must be '%s', got %q", DefaultConfigKind, c.Kind)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan validation failed: %w", err)
	}
	if err := c.Driver.Validate(); err != nil {
		return fmt.Errorf("driver validation failed: %w", err)
	}

	names := make(map[string]bool)
	for i, m := range c.Markers {
		if m.Name == "" {
			return fmt.Errorf("marker %d: name is required", i)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate marker name %q found", m.Name)
		}
		names[m.Name] = true
		if err := m.Validate(); err != nil {
			return fmt.Errorf("marker %q validation failed: %w", m.Name, err)
		}
	}

	if c.Exporters.Prometheus != nil {
		if err := c.Exporters.Prometheus.Validate(); err != nil {
			return fmt.Errorf("prometheus exporter validation failed: %w", err)
		}
	}

	return nil
}

// Validate validates GlobalSettings.
func (s *GlobalSettings) Validate() error {
	if s.NodeName == "" {
		return fmt.Errorf("nodeName is required")
	}
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("invalid logLevel %q, must be one of: debug, info, warn, error, fatal", s.LogLevel)
	}
	if !validLogFormats[s.LogFormat] {
		return fmt.Errorf("invalid logFormat %q, must be one of: json, text", s.LogFormat)
	}
	if !validLogOutputs[s.LogOutput] {
		return fmt.Errorf("invalid logOutput %q, must be one of: stdout, stderr, file", s.LogOutput)
	}
	if s.LogOutput == "file" && s.LogFile == "" {
		return fmt.Errorf("logFile is required when logOutput is 'file'")
	}
	return nil
}

// Validate validates ScanConfig.
func (s *ScanConfig) Validate() error {
	if s.LogPath == "" {
		return fmt.Errorf("logPath is required")
	}
	if strings.TrimSpace(s.ColdReason) == "" {
		return fmt.Errorf("coldReason cannot be blank")
	}
	return nil
}

// Validate validates DriverConfig.
func (d *DriverConfig) Validate() error {
	if d.PollInterval < MinPollInterval {
		return fmt.Errorf("pollInterval must be at least %v, got %v", MinPollInterval, d.PollInterval)
	}
	if d.RetryDelay < 0 {
		return fmt.Errorf("retryDelay cannot be negative, got %v", d.RetryDelay)
	}
	if d.WaitTimeout < 0 {
		return fmt.Errorf("waitTimeout cannot be negative, got %v", d.WaitTimeout)
	}
	if d.CommandTimeout <= 0 {
		return fmt.Errorf("commandTimeout must be positive, got %v", d.CommandTimeout)
	}

	commands := map[string][]string{
		"warm":   d.Commands.Warm,
		"forced": d.Commands.Forced,
		"cold":   d.Commands.Cold,
		"down":   d.Commands.Down,
		"start":  d.Commands.Start,
		"status": d.Commands.Status,
	}
	for name, argv := range commands {
		if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
			return fmt.Errorf("commands.%s must name an executable", name)
		}
	}

	probes := map[string]string{
		"processUp": d.Probe.ProcessUp,
		"dataUp":    d.Probe.DataUp,
		"halted":    d.Probe.Halted,
	}
	for name, expr := range probes {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("probe.%s is not a valid regex: %w", name, err)
		}
	}
	return nil
}

// Validate validates a MarkerConfig.
func (m *MarkerConfig) Validate() error {
	if m.Regex == "" {
		return fmt.Errorf("regex is required")
	}
	if len(m.Regex) > MaxMarkerRegexLength {
		return fmt.Errorf("regex too long: %d characters (max %d)", len(m.Regex), MaxMarkerRegexLength)
	}
	if _, err := regexp.Compile(m.Regex); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

// Validate validates PrometheusExporterConfig.
func (p *PrometheusExporterConfig) Validate() error {
	if !p.Enabled {
		return nil // No validation needed if disabled
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", p.Port)
	}
	if !strings.HasPrefix(p.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", p.Path)
	}
	if p.Namespace != "" && !prometheusNamespaceRegex.MatchString(p.Namespace) {
		return fmt.Errorf("namespace %q is invalid, must match pattern ^[a-zA-Z_:][a-zA-Z0-9_:]*$", p.Namespace)
	}
	if p.Subsystem != "" && !prometheusNamespaceRegex.MatchString(p.Subsystem) {
		return fmt.Errorf("subsystem %q is invalid, must match pattern ^[a-zA-Z_:][a-zA-Z0-9_:]*$", p.Subsystem)
	}
	return nil
}

// SubstituteEnvVars performs environment variable substitution on path-like fields.
func (c *RestimeConfig) SubstituteEnvVars() {
	c.Settings.NodeName = os.ExpandEnv(c.Settings.NodeName)
	c.Settings.LogFile = os.ExpandEnv(c.Settings.LogFile)
	c.Scan.LogPath = os.ExpandEnv(c.Scan.LogPath)
	if c.Exporters.Prometheus != nil {
		c.Exporters.Prometheus.Textfile = os.ExpandEnv(c.Exporters.Prometheus.Textfile)
		for k, v := range c.Exporters.Prometheus.Labels {
			c.Exporters.Prometheus.Labels[k] = os.ExpandEnv(v)
		}
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Environment variable names read by this package.
const (
	EnvConfig        = "MODELFLEET_CONFIG"
	EnvNATSURL       = "MODELFLEET_NATS_URL"
	EnvListen        = "MODELFLEET_LISTEN"
	EnvCaddyURL      = "MODELFLEET_CADDY_URL"
	EnvPublicURLBase = "MODELFLEET_PUBLIC_URL_BASE"
)

// Config is the configuration shared by all modelfleet binaries. Each
// binary reads the sections it needs.
type Config struct {
	Environment Environment `yaml:"environment"`

	// LogLevel is debug, info, warn, or error. Default: info
	LogLevel string `yaml:"log_level"`

	Controller ControllerConfig `yaml:"controller"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Agent      AgentConfig      `yaml:"agent"`
	Routing    RoutingConfig    `yaml:"routing"`
	Journal    JournalConfig    `yaml:"journal"`
	Registry   RegistryConfig   `yaml:"registry"`
	Reporter   ReporterConfig   `yaml:"reporter"`

	// Per-environment overrides, applied after the base file.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds the sections an environment may override.
// Unset fields leave the base value alone.
type ConfigOverrides struct {
	Scheduler *SchedulerOverrides `yaml:"scheduler,omitempty"`
	Routing   *RoutingOverrides   `yaml:"routing,omitempty"`
	Journal   *JournalConfig      `yaml:"journal,omitempty"`
}

// SchedulerOverrides mirrors SchedulerConfig. The bool is a pointer so
// an override that omits it is distinguishable from one that sets false.
type SchedulerOverrides struct {
	StalenessWindow      time.Duration `yaml:"staleness_window"`
	SkipConnectivityTest *bool         `yaml:"skip_connectivity_test"`
	HealthCheckTimeout   time.Duration `yaml:"health_check_timeout"`
	HealthTTL            time.Duration `yaml:"health_ttl"`
}

// RoutingOverrides mirrors RoutingConfig.
type RoutingOverrides struct {
	EnablePublicURLs *bool         `yaml:"enable_public_urls"`
	AdminURL         string        `yaml:"admin_url"`
	Server           string        `yaml:"server"`
	PublicURLBase    string        `yaml:"public_url_base"`
	Timeout          time.Duration `yaml:"timeout"`
}

// ControllerConfig configures the control API process.
type ControllerConfig struct {
	// Listen is the HTTP listen address. Default: :8090
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful HTTP shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RestartDelay is the pause before a crashed ingestion loop is
	// restarted. Default: 5s
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// IngestConfig configures telemetry ingestion.
type IngestConfig struct {
	NATSURL string `yaml:"nats_url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`

	// FetchTimeout is the per-poll wait. Default: 1s
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// ErrorBackoff is the pause after a failed poll. 0 disables.
	// Default: 1s
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	DegradedThreshold int           `yaml:"degraded_threshold"`
	CooldownThreshold int           `yaml:"cooldown_threshold"`
	CooldownDuration  time.Duration `yaml:"cooldown_duration"`

	// MaxAge bounds stream retention. 0 keeps the server default.
	MaxAge time.Duration `yaml:"max_age"`
}

// SchedulerConfig holds the scheduler's initial tunables. The control
// API can change them at runtime.
type SchedulerConfig struct {
	StalenessWindow      time.Duration `yaml:"staleness_window"`
	SkipConnectivityTest bool          `yaml:"skip_connectivity_test"`
	HealthCheckTimeout   time.Duration `yaml:"health_check_timeout"`

	// HealthTTL is how long a probe result is reused. Default: 30s
	HealthTTL time.Duration `yaml:"health_ttl"`
}

// AgentConfig describes the per-node agent protocol.
type AgentConfig struct {
	Scheme        string        `yaml:"scheme"`
	DeployPath    string        `yaml:"deploy_path"`
	StopPath      string        `yaml:"stop_path"`
	HealthPath    string        `yaml:"health_path"`
	DeployTimeout time.Duration `yaml:"deploy_timeout"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
}

// RoutingConfig configures public URL publication on Caddy.
type RoutingConfig struct {
	EnablePublicURLs bool          `yaml:"enable_public_urls"`
	AdminURL         string        `yaml:"admin_url"`
	Server           string        `yaml:"server"`
	PublicURLBase    string        `yaml:"public_url_base"`
	Timeout          time.Duration `yaml:"timeout"`
}

// JournalConfig configures the deployment journal. An empty Path keeps
// the registry in memory only.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig configures the service-registry announcement made at
// controller startup. An empty URL disables it.
type RegistryConfig struct {
	URL           string        `yaml:"url"`
	ServiceName   string        `yaml:"service_name"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// ReporterConfig configures the node telemetry reporter.
type ReporterConfig struct {
	// NodeID defaults to the hostname.
	NodeID string `yaml:"node_id"`

	// AgentIP is the address the controller should use to reach this
	// node's agent. Empty means the outbound IP toward the NATS server.
	AgentIP   string `yaml:"agent_ip"`
	AgentPort int    `yaml:"agent_port"`

	Interval time.Duration `yaml:"interval"`

	// ContentType is application/json or application/cbor.
	ContentType string `yaml:"content_type"`

	// ContentEncoding is "", zstd, or lz4.
	ContentEncoding string `yaml:"content_encoding"`

	// DiskPath is the filesystem whose usage is reported.
	DiskPath string `yaml:"disk_path"`
}

// Default returns the default configuration. Files and environment
// overrides are applied on top of it.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Controller: ControllerConfig{
			Listen:          ":8090",
			ShutdownTimeout: 10 * time.Second,
			RestartDelay:    5 * time.Second,
		},
		Ingest: IngestConfig{
			NATSURL:           "nats://127.0.0.1:4222",
			Stream:            "SYSTEM_METRICS",
			Subject:           "system-metrics",
			Durable:           "deployment-controller-group",
			FetchTimeout:      time.Second,
			ErrorBackoff:      time.Second,
			DegradedThreshold: 3,
			CooldownThreshold: 10,
			CooldownDuration:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			StalenessWindow:      300 * time.Second,
			SkipConnectivityTest: false,
			HealthCheckTimeout:   60 * time.Second,
			HealthTTL:            30 * time.Second,
		},
		Agent: AgentConfig{
			Scheme:        "http",
			DeployPath:    "/deploy",
			StopPath:      "/stop",
			HealthPath:    "/health",
			DeployTimeout: 11 * time.Minute,
			StopTimeout:   30 * time.Second,
		},
		Routing: RoutingConfig{
			EnablePublicURLs: true,
			AdminURL:         "http://localhost:2019",
			Server:           "srv0",
			PublicURLBase:    "http://localhost",
			Timeout:          10 * time.Second,
		},
		Registry: RegistryConfig{
			ServiceName:   "controller",
			RetryInterval: 5 * time.Second,
			MaxAttempts:   12,
		},
		Reporter: ReporterConfig{
			AgentPort:   8091,
			Interval:    5 * time.Second,
			ContentType: "application/json",
			DiskPath:    "/",
		},
	}
}

// Load loads the file named by MODELFLEET_CONFIG. If the variable is
// unset the defaults are used; environment overrides apply either way.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		cfg := Default()
		cfg.applyEnvironmentVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// Resolve loads from path when it is non-empty and falls back to Load.
// Binaries pass their --config flag value here.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	return Load()
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.applyEnvironmentVariables()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never schedules onto a node it has not reached.
		if overrides == nil {
			skip := false
			overrides = &ConfigOverrides{
				Scheduler: &SchedulerOverrides{SkipConnectivityTest: &skip},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Scheduler != nil {
		if overrides.Scheduler.StalenessWindow != 0 {
			c.Scheduler.StalenessWindow = overrides.Scheduler.StalenessWindow
		}
		if overrides.Scheduler.HealthCheckTimeout != 0 {
			c.Scheduler.HealthCheckTimeout = overrides.Scheduler.HealthCheckTimeout
		}
		if overrides.Scheduler.HealthTTL != 0 {
			c.Scheduler.HealthTTL = overrides.Scheduler.HealthTTL
		}
		if overrides.Scheduler.SkipConnectivityTest != nil {
			c.Scheduler.SkipConnectivityTest = *overrides.Scheduler.SkipConnectivityTest
		}
	}

	if overrides.Routing != nil {
		if overrides.Routing.EnablePublicURLs != nil {
			c.Routing.EnablePublicURLs = *overrides.Routing.EnablePublicURLs
		}
		if overrides.Routing.AdminURL != "" {
			c.Routing.AdminURL = overrides.Routing.AdminURL
		}
		if overrides.Routing.Server != "" {
			c.Routing.Server = overrides.Routing.Server
		}
		if overrides.Routing.PublicURLBase != "" {
			c.Routing.PublicURLBase = overrides.Routing.PublicURLBase
		}
		if overrides.Routing.Timeout != 0 {
			c.Routing.Timeout = overrides.Routing.Timeout
		}
	}

	if overrides.Journal != nil && overrides.Journal.Path != "" {
		c.Journal.Path = overrides.Journal.Path
	}
}

// applyEnvironmentVariables applies the per-host overrides.
func (c *Config) applyEnvironmentVariables() {
	if value := os.Getenv(EnvNATSURL); value != "" {
		c.Ingest.NATSURL = value
	}
	if value := os.Getenv(EnvListen); value != "" {
		c.Controller.Listen = value
	}
	if value := os.Getenv(EnvCaddyURL); value != "" {
		c.Routing.AdminURL = value
	}
	if value := os.Getenv(EnvPublicURLBase); value != "" {
		c.Routing.PublicURLBase = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Journal.Path = expandVars(c.Journal.Path, vars)
	c.Reporter.DiskPath = expandVars(c.Reporter.DiskPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level: %s", c.LogLevel))
	}

	if c.Controller.Listen == "" {
		errs = append(errs, errors.New("controller.listen is required"))
	}

	if c.Ingest.NATSURL == "" {
		errs = append(errs, errors.New("ingest.nats_url is required"))
	}
	if c.Ingest.ErrorBackoff < 0 {
		errs = append(errs, errors.New("ingest.error_backoff must not be negative"))
	}
	if c.Ingest.DegradedThreshold <= 0 || c.Ingest.CooldownThreshold <= c.Ingest.DegradedThreshold {
		errs = append(errs, fmt.Errorf("ingest thresholds must satisfy 0 < degraded (%d) < cooldown (%d)",
			c.Ingest.DegradedThreshold, c.Ingest.CooldownThreshold))
	}

	if c.Scheduler.StalenessWindow <= 0 {
		errs = append(errs, errors.New("scheduler.staleness_window must be positive"))
	}
	if c.Scheduler.HealthCheckTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.health_check_timeout must be positive"))
	}

	if c.Agent.Scheme != "http" && c.Agent.Scheme != "https" {
		errs = append(errs, fmt.Errorf("agent.scheme must be http or https, got %q", c.Agent.Scheme))
	}
	if c.Agent.DeployTimeout <= 0 || c.Agent.StopTimeout <= 0 {
		errs = append(errs, errors.New("agent timeouts must be positive"))
	}

	if c.Routing.EnablePublicURLs {
		if err := validateURL(c.Routing.AdminURL); err != nil {
			errs = append(errs, fmt.Errorf("routing.admin_url: %w", err))
		}
		if err := validateURL(c.Routing.PublicURLBase); err != nil {
			errs = append(errs, fmt.Errorf("routing.public_url_base: %w", err))
		}
	}

	if c.Registry.URL != "" {
		if err := validateURL(c.Registry.URL); err != nil {
			errs = append(errs, fmt.Errorf("registry.url: %w", err))
		}
	}

	if c.Reporter.AgentPort < 1 || c.Reporter.AgentPort > 65535 {
		errs = append(errs, fmt.Errorf("reporter.agent_port %d out of range", c.Reporter.AgentPort))
	}
	if c.Reporter.Interval <= 0 {
		errs = append(errs, errors.New("reporter.interval must be positive"))
	}
	switch strings.ToLower(c.Reporter.ContentEncoding) {
	case "", "identity", "zstd", "lz4":
	default:
		errs = append(errs, fmt.Errorf("reporter.content_encoding %q is not one of identity, zstd, lz4", c.Reporter.ContentEncoding))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

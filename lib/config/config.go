// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Compression values accepted by debugger.compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Config is the host configuration of the liveprobe agent.
//
// Logger is a host-only value: it is never written to or read from
// YAML and never crosses into the isolated worker. [Project]
// derives the transferable subset.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Service identifies the instrumented application.
	Service ServiceConfig `yaml:"service"`

	// Agent locates the intake that receives diagnostics.
	Agent AgentConfig `yaml:"agent"`

	// SourceControl links captured data back to the code revision.
	SourceControl SourceControlConfig `yaml:"source_control"`

	// Debugger configures the probe engine and its telemetry batching.
	Debugger DebuggerConfig `yaml:"debugger"`

	// Worker configures the isolated worker process.
	Worker WorkerConfig `yaml:"worker"`

	// Control configures the operator-facing sockets.
	Control ControlConfig `yaml:"control"`

	// Logging configures the host log sink.
	Logging LoggingConfig `yaml:"logging"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`

	// RuntimeID identifies this host process. Generated by [Default];
	// stable for the lifetime of the Config.
	RuntimeID string `yaml:"-"`

	// Logger is the host's logger. Nil means slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Agent    *AgentConfig    `yaml:"agent,omitempty"`
	Debugger *DebuggerConfig `yaml:"debugger,omitempty"`
	Logging  *LoggingConfig  `yaml:"logging,omitempty"`
}

// ServiceConfig identifies the instrumented application.
type ServiceConfig struct {
	// Name is the service name reported with every diagnostic. Required.
	Name string `yaml:"name"`

	// Env is the service's environment tag (e.g. "prod", "canary").
	Env string `yaml:"env"`

	// Version is the deployed application version.
	Version string `yaml:"version"`

	// Hostname overrides the detected host name.
	Hostname string `yaml:"hostname"`
}

// AgentConfig locates the intake.
type AgentConfig struct {
	// Host is the intake host. Default: localhost
	Host string `yaml:"host"`

	// Port is the intake port. Default: 8126
	Port int `yaml:"port"`

	// URL, when set, replaces Host and Port entirely (for example an
	// https endpoint or a unix-socket proxy URL).
	URL string `yaml:"url"`
}

// SourceControlConfig links telemetry to a code revision.
type SourceControlConfig struct {
	RepositoryURL string `yaml:"repository_url"`
	CommitSHA     string `yaml:"commit_sha"`
}

// DebuggerConfig configures dynamic instrumentation.
type DebuggerConfig struct {
	// Enabled turns dynamic instrumentation on. Default: true
	Enabled bool `yaml:"enabled"`

	// ProbeFile is an optional JSON file of statically configured
	// probes applied at startup.
	ProbeFile string `yaml:"probe_file"`

	// SourceRoot is the directory probe source files are resolved
	// against. When set, the engine rejects probes on files or lines
	// that do not exist under it.
	SourceRoot string `yaml:"source_root"`

	// Capture holds the default capture limits for probes that do not
	// set their own.
	Capture CaptureConfig `yaml:"capture"`

	// RedactedIdentifiers are additional variable names whose values
	// are never captured.
	RedactedIdentifiers []string `yaml:"redacted_identifiers"`

	// RedactionExcludedIdentifiers are names removed from the built-in
	// redaction list.
	RedactionExcludedIdentifiers []string `yaml:"redaction_excluded_identifiers"`

	// RedactedTypes are type names whose values are never captured.
	RedactedTypes []string `yaml:"redacted_types"`

	// MaxBatchBytes is the size budget of one diagnostics upload.
	// Zero means unlimited. Default: 5 MiB
	MaxBatchBytes int `yaml:"max_batch_bytes"`

	// MaxBatchAge is the time budget of one diagnostics batch,
	// measured from its first record. Default: 1s
	MaxBatchAge time.Duration `yaml:"max_batch_age"`

	// UploadsPerSecond limits upload attempts. Zero means unlimited.
	// Default: 5
	UploadsPerSecond float64 `yaml:"uploads_per_second"`

	// UploadBufferBytes bounds payloads waiting for upload; the oldest
	// are dropped beyond it. Default: 16 MiB
	UploadBufferBytes int `yaml:"upload_buffer_bytes"`

	// Compression is "none" or "zstd". Default: zstd
	Compression string `yaml:"compression"`
}

// CaptureConfig holds default capture limits. Zero fields fall back
// to the probe package defaults.
type CaptureConfig struct {
	MaxReferenceDepth int `yaml:"max_reference_depth"`
	MaxCollectionSize int `yaml:"max_collection_size"`
	MaxFieldCount     int `yaml:"max_field_count"`
	MaxLength         int `yaml:"max_length"`
}

// WorkerConfig configures the isolated worker process.
type WorkerConfig struct {
	// Binary is the executable started with the "worker" subcommand.
	// Empty means the running agent binary.
	Binary string `yaml:"binary"`

	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	// Default: 5s
	GracePeriod time.Duration `yaml:"grace_period"`
}

// ControlConfig configures the operator-facing sockets.
type ControlConfig struct {
	// SocketPath is the Unix socket for apply/remove/list requests.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/liveprobe/control.sock
	SocketPath string `yaml:"socket_path"`

	// MetricsAddress is the listen address for /metrics. Empty
	// disables the metrics endpoint.
	MetricsAddress string `yaml:"metrics_address"`
}

// LoggingConfig configures the host log sink.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Debug enables verbose engine diagnostics.
	Debug bool `yaml:"debug"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		Environment: Development,
		Service: ServiceConfig{
			Hostname: hostname,
		},
		Agent: AgentConfig{
			Host: "localhost",
			Port: 8126,
		},
		Debugger: DebuggerConfig{
			Enabled:           true,
			MaxBatchBytes:     5 << 20,
			MaxBatchAge:       time.Second,
			UploadsPerSecond:  5,
			UploadBufferBytes: 16 << 20,
			Compression:       CompressionZstd,
		},
		Worker: WorkerConfig{
			GracePeriod: 5 * time.Second,
		},
		Control: ControlConfig{
			SocketPath: "${XDG_RUNTIME_DIR:-/tmp}/liveprobe/control.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RuntimeID: uuid.NewString(),
	}
}

// Load loads configuration from the LIVEPROBE_CONFIG environment variable.
//
// There are no fallbacks: if LIVEPROBE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LIVEPROBE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LIVEPROBE_CONFIG environment variable not set; " +
			"set it to the path of your liveprobe.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. The only expansion
// performed is ${VAR} and ${VAR:-default} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: quieter logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Logging: &LoggingConfig{Level: "warn"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Agent != nil {
		if overrides.Agent.Host != "" {
			c.Agent.Host = overrides.Agent.Host
		}
		if overrides.Agent.Port != 0 {
			c.Agent.Port = overrides.Agent.Port
		}
		if overrides.Agent.URL != "" {
			c.Agent.URL = overrides.Agent.URL
		}
	}

	if overrides.Debugger != nil {
		// Enabled is a bool, so we always apply it from overrides.
		c.Debugger.Enabled = overrides.Debugger.Enabled
		if overrides.Debugger.ProbeFile != "" {
			c.Debugger.ProbeFile = overrides.Debugger.ProbeFile
		}
		if overrides.Debugger.MaxBatchBytes != 0 {
			c.Debugger.MaxBatchBytes = overrides.Debugger.MaxBatchBytes
		}
		if overrides.Debugger.MaxBatchAge != 0 {
			c.Debugger.MaxBatchAge = overrides.Debugger.MaxBatchAge
		}
		if overrides.Debugger.UploadsPerSecond != 0 {
			c.Debugger.UploadsPerSecond = overrides.Debugger.UploadsPerSecond
		}
		if overrides.Debugger.Compression != "" {
			c.Debugger.Compression = overrides.Debugger.Compression
		}
		if len(overrides.Debugger.RedactedIdentifiers) > 0 {
			c.Debugger.RedactedIdentifiers = overrides.Debugger.RedactedIdentifiers
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		c.Logging.Debug = overrides.Logging.Debug
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. LoadFile calls it; callers building a Config in code call it
// themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Debugger.ProbeFile = expandVars(c.Debugger.ProbeFile, vars)
	c.Debugger.SourceRoot = expandVars(c.Debugger.SourceRoot, vars)
	c.Worker.Binary = expandVars(c.Worker.Binary, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
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

	if c.Service.Name == "" {
		errs = append(errs, fmt.Errorf("service.name is required"))
	}

	if c.Agent.URL != "" {
		parsed, err := url.Parse(c.Agent.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("agent.url: %w", err))
		} else if parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("agent.url %q must be absolute", c.Agent.URL))
		}
	} else {
		if c.Agent.Host == "" {
			errs = append(errs, fmt.Errorf("agent.host is required when agent.url is unset"))
		}
		if c.Agent.Port < 1 || c.Agent.Port > 65535 {
			errs = append(errs, fmt.Errorf("agent.port %d out of range", c.Agent.Port))
		}
	}

	capture := c.Debugger.Capture
	if capture.MaxReferenceDepth < 0 || capture.MaxCollectionSize < 0 ||
		capture.MaxFieldCount < 0 || capture.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("debugger.capture limits must not be negative"))
	}
	if c.Debugger.MaxBatchBytes < 0 {
		errs = append(errs, fmt.Errorf("debugger.max_batch_bytes must not be negative"))
	}
	if c.Debugger.MaxBatchAge <= 0 {
		errs = append(errs, fmt.Errorf("debugger.max_batch_age must be positive"))
	}
	if c.Debugger.UploadsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("debugger.uploads_per_second must not be negative"))
	}
	if c.Debugger.UploadBufferBytes < 0 {
		errs = append(errs, fmt.Errorf("debugger.upload_buffer_bytes must not be negative"))
	}
	compressionValues := []string{"", CompressionNone, CompressionZstd}
	if !contains(compressionValues, c.Debugger.Compression) {
		errs = append(errs, fmt.Errorf("debugger.compression must be one of: %v", compressionValues[1:]))
	}

	if c.Worker.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("worker.grace_period must not be negative"))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ParseLevel converts a level name (debug, info, warn, error,
// case-insensitive) into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// IntakeURL returns the base URL of the diagnostics intake: Agent.URL
// when set, otherwise http://Host:Port.
func (c *Config) IntakeURL() string {
	if c.Agent.URL != "" {
		if parsed, err := url.Parse(c.Agent.URL); err == nil {
			return parsed.String()
		}
		return c.Agent.URL
	}
	return (&url.URL{
		Scheme: "http",
		Host:   joinHostPort(c.Agent.Host, c.Agent.Port),
	}).String()
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

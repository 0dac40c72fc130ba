// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "liveprobe.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Agent.Host != "localhost" || cfg.Agent.Port != 8126 {
		t.Errorf("expected agent localhost:8126, got %s:%d", cfg.Agent.Host, cfg.Agent.Port)
	}

	if !cfg.Debugger.Enabled {
		t.Error("expected debugger enabled by default")
	}

	if cfg.Debugger.MaxBatchAge != time.Second {
		t.Errorf("expected max_batch_age=1s, got %s", cfg.Debugger.MaxBatchAge)
	}

	if cfg.RuntimeID == "" {
		t.Error("expected a generated runtime id")
	}
	if other := Default(); other.RuntimeID == cfg.RuntimeID {
		t.Error("two defaults share a runtime id")
	}
}

func TestLoad_RequiresLiveprobeConfig(t *testing.T) {
	t.Setenv("LIVEPROBE_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LIVEPROBE_CONFIG not set, got nil")
	}

	expectedMsg := "LIVEPROBE_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithLiveprobeConfig(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
service:
  name: checkout
agent:
  port: 9126
`)
	t.Setenv("LIVEPROBE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Service.Name != "checkout" {
		t.Errorf("expected service.name=checkout, got %s", cfg.Service.Name)
	}
	if cfg.Agent.Port != 9126 {
		t.Errorf("expected agent.port=9126, got %d", cfg.Agent.Port)
	}
	// Unset fields keep their defaults.
	if cfg.Agent.Host != "localhost" {
		t.Errorf("expected default agent.host, got %s", cfg.Agent.Host)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
environment: development

service:
  name: checkout
  env: canary
  version: 1.4.2

source_control:
  repository_url: https://example.com/shop/checkout
  commit_sha: 5d1c0e2

debugger:
  probe_file: /etc/liveprobe/probes.json
  max_batch_bytes: 1024
  max_batch_age: 250ms
  compression: none
  capture:
    max_reference_depth: 5
  redacted_identifiers: [password, token]

worker:
  grace_period: 2s

logging:
  level: debug
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Service.Env != "canary" || cfg.Service.Version != "1.4.2" {
		t.Errorf("service = %+v", cfg.Service)
	}
	if cfg.SourceControl.CommitSHA != "5d1c0e2" {
		t.Errorf("expected commit_sha=5d1c0e2, got %s", cfg.SourceControl.CommitSHA)
	}
	if cfg.Debugger.ProbeFile != "/etc/liveprobe/probes.json" {
		t.Errorf("expected probe_file, got %s", cfg.Debugger.ProbeFile)
	}
	if cfg.Debugger.MaxBatchBytes != 1024 {
		t.Errorf("expected max_batch_bytes=1024, got %d", cfg.Debugger.MaxBatchBytes)
	}
	if cfg.Debugger.MaxBatchAge != 250*time.Millisecond {
		t.Errorf("expected max_batch_age=250ms, got %s", cfg.Debugger.MaxBatchAge)
	}
	if cfg.Debugger.Compression != CompressionNone {
		t.Errorf("expected compression=none, got %s", cfg.Debugger.Compression)
	}
	if cfg.Debugger.Capture.MaxReferenceDepth != 5 {
		t.Errorf("expected max_reference_depth=5, got %d", cfg.Debugger.Capture.MaxReferenceDepth)
	}
	if len(cfg.Debugger.RedactedIdentifiers) != 2 {
		t.Errorf("expected 2 redacted identifiers, got %v", cfg.Debugger.RedactedIdentifiers)
	}
	if cfg.Worker.GracePeriod != 2*time.Second {
		t.Errorf("expected grace_period=2s, got %s", cfg.Worker.GracePeriod)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level=debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	configPath := writeConfig(t, "service: [not, a, map]\n")
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: production

service:
  name: checkout

agent:
  host: localhost

debugger:
  enabled: true
  max_batch_bytes: 4096

production:
  agent:
    host: intake.internal
  debugger:
    enabled: false
  logging:
    level: error
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Agent.Host != "intake.internal" {
		t.Errorf("expected host=intake.internal, got %s", cfg.Agent.Host)
	}
	if cfg.Debugger.Enabled {
		t.Error("expected debugger disabled by production override")
	}
	// Zero-valued override fields leave the base value alone.
	if cfg.Debugger.MaxBatchBytes != 4096 {
		t.Errorf("expected max_batch_bytes=4096, got %d", cfg.Debugger.MaxBatchBytes)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected level=error, got %s", cfg.Logging.Level)
	}
}

func TestProductionDefaultOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: production
service:
  name: checkout
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected production default level=warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadFileExpandsPaths(t *testing.T) {
	t.Setenv("LIVEPROBE_TEST_STATE", "/var/lib/liveprobe")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	configPath := writeConfig(t, `
service:
  name: checkout
debugger:
  probe_file: ${LIVEPROBE_TEST_STATE}/probes.json
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Debugger.ProbeFile != "/var/lib/liveprobe/probes.json" {
		t.Errorf("probe_file = %s", cfg.Debugger.ProbeFile)
	}
	if cfg.Control.SocketPath != "/run/user/1000/liveprobe/control.sock" {
		t.Errorf("socket_path = %s", cfg.Control.SocketPath)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/liveprobe",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/liveprobe",
		},
		{
			input:    "${LIVEPROBE_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Service.Name = "checkout"
	cfg.ExpandVariables()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "missing service name",
			modify:  func(c *Config) { c.Service.Name = "" },
			wantErr: "service.name is required",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Agent.Port = 70000 },
			wantErr: "agent.port",
		},
		{
			name:    "relative url",
			modify:  func(c *Config) { c.Agent.URL = "intake/v1" },
			wantErr: "must be absolute",
		},
		{
			name: "url replaces host and port",
			modify: func(c *Config) {
				c.Agent.URL = "https://intake.example.com"
				c.Agent.Port = 0
			},
		},
		{
			name:    "negative capture limit",
			modify:  func(c *Config) { c.Debugger.Capture.MaxLength = -1 },
			wantErr: "capture limits",
		},
		{
			name:    "zero batch age",
			modify:  func(c *Config) { c.Debugger.MaxBatchAge = 0 },
			wantErr: "max_batch_age",
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.Debugger.Compression = "lz4" },
			wantErr: "debugger.compression",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "empty socket path",
			modify:  func(c *Config) { c.Control.SocketPath = "" },
			wantErr: "control.socket_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Service.Name = ""
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"service.name", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestIntakeURL(t *testing.T) {
	cfg := validConfig()
	if got := cfg.IntakeURL(); got != "http://localhost:8126" {
		t.Errorf("IntakeURL() = %s, want http://localhost:8126", got)
	}

	cfg.Agent.Host = "::1"
	if got := cfg.IntakeURL(); got != "http://[::1]:8126" {
		t.Errorf("IntakeURL() = %s, want bracketed IPv6", got)
	}

	cfg.Agent.URL = "https://intake.example.com/base"
	if got := cfg.IntakeURL(); got != "https://intake.example.com/base" {
		t.Errorf("IntakeURL() = %s, want explicit url", got)
	}
}

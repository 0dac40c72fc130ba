// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"net"
	"strconv"
	"time"
)

// Projected is the transferable subset of [Config] handed to the
// isolated worker at startup and on every reconfiguration. It holds
// plain values only and round-trips through CBOR.
type Projected struct {
	Service     string `cbor:"service"`
	Environment string `cbor:"environment,omitempty"`
	Version     string `cbor:"version,omitempty"`
	RuntimeID   string `cbor:"runtime_id"`
	Hostname    string `cbor:"hostname,omitempty"`

	AgentHost string `cbor:"agent_host,omitempty"`
	AgentPort int    `cbor:"agent_port,omitempty"`
	IntakeURL string `cbor:"intake_url"`

	RepositoryURL string `cbor:"repository_url,omitempty"`
	CommitSHA     string `cbor:"commit_sha,omitempty"`

	DebuggerEnabled bool `cbor:"debugger_enabled"`
	Debug           bool `cbor:"debug,omitempty"`

	Capture    CaptureConfig `cbor:"capture"`
	SourceRoot string        `cbor:"source_root,omitempty"`

	RedactedIdentifiers          []string `cbor:"redacted_identifiers,omitempty"`
	RedactionExcludedIdentifiers []string `cbor:"redaction_excluded_identifiers,omitempty"`
	RedactedTypes                []string `cbor:"redacted_types,omitempty"`

	MaxBatchBytes int           `cbor:"max_batch_bytes"`
	MaxBatchAge   time.Duration `cbor:"max_batch_age"`

	UploadsPerSecond  float64 `cbor:"uploads_per_second,omitempty"`
	UploadBufferBytes int     `cbor:"upload_buffer_bytes,omitempty"`
	Compression       string  `cbor:"compression,omitempty"`

	LogLevel string `cbor:"log_level"`
}

// Project extracts the fields the worker needs from cfg. Logger and
// the environment override sections are never copied.
// Slices are cloned so the result shares no memory with cfg.
func Project(cfg *Config) Projected {
	return Projected{
		Service:     cfg.Service.Name,
		Environment: cfg.Service.Env,
		Version:     cfg.Service.Version,
		RuntimeID:   cfg.RuntimeID,
		Hostname:    cfg.Service.Hostname,

		AgentHost: cfg.Agent.Host,
		AgentPort: cfg.Agent.Port,
		IntakeURL: cfg.IntakeURL(),

		RepositoryURL: cfg.SourceControl.RepositoryURL,
		CommitSHA:     cfg.SourceControl.CommitSHA,

		DebuggerEnabled: cfg.Debugger.Enabled,
		Debug:           cfg.Logging.Debug,

		Capture:    cfg.Debugger.Capture,
		SourceRoot: cfg.Debugger.SourceRoot,

		RedactedIdentifiers:          cloneStrings(cfg.Debugger.RedactedIdentifiers),
		RedactionExcludedIdentifiers: cloneStrings(cfg.Debugger.RedactionExcludedIdentifiers),
		RedactedTypes:                cloneStrings(cfg.Debugger.RedactedTypes),

		MaxBatchBytes: cfg.Debugger.MaxBatchBytes,
		MaxBatchAge:   cfg.Debugger.MaxBatchAge,

		UploadsPerSecond:  cfg.Debugger.UploadsPerSecond,
		UploadBufferBytes: cfg.Debugger.UploadBufferBytes,
		Compression:       cfg.Debugger.Compression,

		LogLevel: cfg.Logging.Level,
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"errors"
	"fmt"
)

// Action is what a probe operation does to the worker's catalog.
type Action string

const (
	// Apply installs a probe, or replaces an installed probe with the
	// same ID.
	Apply Action = "apply"

	// Remove uninstalls the probe with the operation's probe ID.
	Remove Action = "remove"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == Apply || a == Remove
}

// Type is the probe kind, which decides what the engine emits when
// the probe location is hit.
type Type string

const (
	LogProbe            Type = "LOG_PROBE"
	MetricProbe         Type = "METRIC_PROBE"
	SpanProbe           Type = "SPAN_PROBE"
	SpanDecorationProbe Type = "SPAN_DECORATION_PROBE"
)

// Valid reports whether t is a known probe type.
func (t Type) Valid() bool {
	switch t {
	case LogProbe, MetricProbe, SpanProbe, SpanDecorationProbe:
		return true
	}
	return false
}

// Default capture limits, applied when a probe leaves a limit unset.
const (
	DefaultMaxReferenceDepth = 3
	DefaultMaxCollectionSize = 100
	DefaultMaxFieldCount     = 20
	DefaultMaxLength         = 255
)

// Default sampling rates in hits per second. Snapshot capture is far
// more expensive than rendering a log template, so it samples lower.
const (
	DefaultSnapshotSamplingRate = 1
	DefaultLogSamplingRate      = 5000
)

// Probe is a live instrumentation point.
type Probe struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Type    Type   `json:"type"`

	Where Location `json:"where"`
	Tags  []string `json:"tags,omitempty"`

	// Template is the log message template rendered at each hit.
	Template string `json:"template,omitempty"`

	// When is an optional condition; the probe only fires when it
	// evaluates true.
	When *Condition `json:"when,omitempty"`

	// CaptureSnapshot requests a full variable snapshot at each hit in
	// addition to the rendered template.
	CaptureSnapshot bool `json:"captureSnapshot,omitempty"`

	Capture  *Capture  `json:"capture,omitempty"`
	Sampling *Sampling `json:"sampling,omitempty"`

	// EvaluateAt is "ENTRY" or "EXIT" for method probes; empty means
	// the engine default.
	EvaluateAt string `json:"evaluateAt,omitempty"`
}

// Location identifies where the probe is installed.
type Location struct {
	SourceFile string `json:"sourceFile"`
	Lines      []int  `json:"lines"`
}

// Condition is an opaque expression evaluated by the engine.
type Condition struct {
	DSL  string `json:"dsl"`
	JSON any    `json:"json,omitempty"`
}

// Capture bounds how much state a snapshot collects. Zero means "use
// the default".
type Capture struct {
	MaxReferenceDepth int `json:"maxReferenceDepth,omitempty"`
	MaxCollectionSize int `json:"maxCollectionSize,omitempty"`
	MaxFieldCount     int `json:"maxFieldCount,omitempty"`
	MaxLength         int `json:"maxLength,omitempty"`
}

// Sampling bounds how often a probe may fire.
type Sampling struct {
	SnapshotsPerSecond float64 `json:"snapshotsPerSecond,omitempty"`
}

// Limits returns the effective capture limits: the probe's own values
// where set, the defaults otherwise.
func (p Probe) Limits() Capture {
	limits := Capture{
		MaxReferenceDepth: DefaultMaxReferenceDepth,
		MaxCollectionSize: DefaultMaxCollectionSize,
		MaxFieldCount:     DefaultMaxFieldCount,
		MaxLength:         DefaultMaxLength,
	}
	if p.Capture == nil {
		return limits
	}
	if p.Capture.MaxReferenceDepth > 0 {
		limits.MaxReferenceDepth = p.Capture.MaxReferenceDepth
	}
	if p.Capture.MaxCollectionSize > 0 {
		limits.MaxCollectionSize = p.Capture.MaxCollectionSize
	}
	if p.Capture.MaxFieldCount > 0 {
		limits.MaxFieldCount = p.Capture.MaxFieldCount
	}
	if p.Capture.MaxLength > 0 {
		limits.MaxLength = p.Capture.MaxLength
	}
	return limits
}

// SamplingRate returns the effective hits-per-second budget.
func (p Probe) SamplingRate() float64 {
	if p.Sampling != nil && p.Sampling.SnapshotsPerSecond > 0 {
		return p.Sampling.SnapshotsPerSecond
	}
	if p.CaptureSnapshot {
		return DefaultSnapshotSamplingRate
	}
	return DefaultLogSamplingRate
}

// Validate reports every structural problem with the probe. A probe
// that fails validation is never installed; the engine acknowledges
// the operation with the returned error.
func (p Probe) Validate() error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if p.Version < 0 {
		errs = append(errs, fmt.Errorf("version must not be negative, got %d", p.Version))
	}
	if !p.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown probe type %q", p.Type))
	}
	if p.Where.SourceFile == "" {
		errs = append(errs, errors.New("where.sourceFile is required"))
	}
	if len(p.Where.Lines) == 0 {
		errs = append(errs, errors.New("where.lines must name at least one line"))
	}
	for _, line := range p.Where.Lines {
		if line <= 0 {
			errs = append(errs, fmt.Errorf("where.lines: line numbers start at 1, got %d", line))
		}
	}
	if p.Capture != nil {
		if p.Capture.MaxReferenceDepth < 0 || p.Capture.MaxCollectionSize < 0 ||
			p.Capture.MaxFieldCount < 0 || p.Capture.MaxLength < 0 {
			errs = append(errs, errors.New("capture limits must not be negative"))
		}
	}
	if p.Sampling != nil && p.Sampling.SnapshotsPerSecond < 0 {
		errs = append(errs, errors.New("sampling.snapshotsPerSecond must not be negative"))
	}
	switch p.EvaluateAt {
	case "", "ENTRY", "EXIT":
	default:
		errs = append(errs, fmt.Errorf("evaluateAt must be ENTRY or EXIT, got %q", p.EvaluateAt))
	}

	if len(errs) > 0 {
		if p.ID != "" {
			return fmt.Errorf("probe %s: %w", p.ID, errors.Join(errs...))
		}
		return errors.Join(errs...)
	}
	return nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// Status is a probe's lifecycle state as reported to the intake.
type Status string

const (
	// StatusReceived is emitted when a new or changed probe arrives.
	StatusReceived Status = "RECEIVED"
	// StatusInstalled is emitted once the probe is in the catalog.
	StatusInstalled Status = "INSTALLED"
	// StatusError is emitted when the probe could not be installed.
	StatusError Status = "ERROR"
)

// Diagnostic is one probe status event. Batches of them are uploaded
// as a JSON array.
type Diagnostic struct {
	Service   string         `json:"service"`
	Source    string         `json:"ddsource"`
	Timestamp int64          `json:"timestamp"`
	Message   string         `json:"message"`
	Debugger  DebuggerFields `json:"debugger"`
}

// DebuggerFields wraps the diagnostics payload.
type DebuggerFields struct {
	Diagnostics ProbeStatus `json:"diagnostics"`
}

// ProbeStatus identifies the probe and the reporting worker.
type ProbeStatus struct {
	ProbeID      string     `json:"probeId"`
	ProbeVersion int        `json:"probeVersion"`
	RuntimeID    string     `json:"runtimeId"`
	ParentID     string     `json:"parentId,omitempty"`
	Status       Status     `json:"status"`
	Exception    *Exception `json:"exception,omitempty"`
}

// Exception describes an ERROR status.
type Exception struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// diagnosticSource tags every diagnostic's ddsource field.
const diagnosticSource = "dd_debugger"

func newDiagnostic(service, runtimeID, parentID string, p probe.Probe, status Status, cause error, now time.Time) Diagnostic {
	diagnostic := Diagnostic{
		Service:   service,
		Source:    diagnosticSource,
		Timestamp: now.UnixMilli(),
		Debugger: DebuggerFields{Diagnostics: ProbeStatus{
			ProbeID:      p.ID,
			ProbeVersion: p.Version,
			RuntimeID:    runtimeID,
			ParentID:     parentID,
			Status:       status,
		}},
	}
	switch status {
	case StatusReceived:
		diagnostic.Message = fmt.Sprintf("Probe %s received", p.ID)
	case StatusInstalled:
		diagnostic.Message = fmt.Sprintf("Probe %s installed at %s", p.ID, location(p))
	case StatusError:
		diagnostic.Message = fmt.Sprintf("Probe %s failed: %v", p.ID, cause)
		diagnostic.Debugger.Diagnostics.Exception = &Exception{
			Type:    fmt.Sprintf("%T", cause),
			Message: cause.Error(),
		}
	}
	return diagnostic
}

func location(p probe.Probe) string {
	if len(p.Where.Lines) == 1 {
		return fmt.Sprintf("%s:%d", p.Where.SourceFile, p.Where.Lines[0])
	}
	return fmt.Sprintf("%s:%v", p.Where.SourceFile, p.Where.Lines)
}

// encode returns the JSON record for the batching queue.
func (d Diagnostic) encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

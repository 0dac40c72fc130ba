// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// ProbeOperation asks the worker to apply or remove a probe.
type ProbeOperation struct {
	Action probe.Action `cbor:"action"`
	Probe  probe.Probe  `cbor:"probe"`

	// AckID correlates the worker's [ProbeAck]. Zero means no
	// acknowledgment is wanted (probes from the static probe file).
	AckID uint64 `cbor:"ack_id,omitempty"`
}

// ProbeAck reports the outcome of a [ProbeOperation] that carried a
// non-zero AckID.
type ProbeAck struct {
	AckID uint64 `cbor:"ack_id"`

	// Error is empty on success.
	Error string `cbor:"error,omitempty"`
}

// LogRecord carries one log call from the worker to the host's logger.
type LogRecord struct {
	Level   slog.Level `cbor:"level"`
	Message string     `cbor:"message"`

	// Args are alternating keys and values, as passed to slog.Logger.Log.
	Args []any `cbor:"args,omitempty"`
}

// ConfigUpdate replaces the worker's projected configuration.
type ConfigUpdate struct {
	Config config.Projected `cbor:"config"`
}

// StartupData is everything a worker needs before it can serve.
type StartupData struct {
	Config config.Projected `cbor:"config"`

	// ParentRuntimeID identifies the spawning Coordinator.
	ParentRuntimeID string `cbor:"parent_runtime_id"`
	ParentPID       int    `cbor:"parent_pid"`

	// File descriptor numbers of the probe, log and config endpoints
	// inside a forked worker. Zero for in-process workers, which
	// receive the endpoints directly.
	ProbeFD  int `cbor:"probe_fd,omitempty"`
	LogFD    int `cbor:"log_fd,omitempty"`
	ConfigFD int `cbor:"config_fd,omitempty"`
}

// LifecycleKind names a worker lifecycle report.
type LifecycleKind string

const (
	// LifecycleOnline is reported once startup succeeded.
	LifecycleOnline LifecycleKind = "online"
	// LifecycleError reports an internal fault; the worker may or may
	// not exit afterwards.
	LifecycleError LifecycleKind = "error"
	// LifecycleMessageError reports a message the worker could not
	// decode. It does not end the worker.
	LifecycleMessageError LifecycleKind = "messageerror"
)

// LifecycleReport is sent by a forked worker on its control channel.
type LifecycleReport struct {
	Kind  LifecycleKind `cbor:"kind"`
	Error string        `cbor:"error,omitempty"`
}

// Endpoints are the worker's sides of the three channel pairs. The
// worker owns them and closes them when it returns.
type Endpoints struct {
	Probes *channel.Endpoint
	Logs   *channel.Endpoint
	Config *channel.Endpoint
}

// Close closes every non-nil endpoint.
func (e Endpoints) Close() {
	for _, endpoint := range []*channel.Endpoint{e.Probes, e.Logs, e.Config} {
		if endpoint != nil {
			endpoint.Close()
		}
	}
}

// Reporter carries lifecycle events from a running worker back to the
// host, whatever the isolation mechanism.
type Reporter interface {
	Online()
	Error(err error)
	MessageError(err error)
}

// EntryFunc is a worker's main function. It calls reporter.Online once
// it is ready, serves until ctx is cancelled or the host closes the
// probe channel, and returns nil on a clean shutdown. The caller closes
// the endpoints after it returns.
type EntryFunc func(ctx context.Context, startup StartupData, endpoints Endpoints, reporter Reporter) error

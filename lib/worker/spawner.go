// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// EventKind names a lifecycle event of a spawned worker.
type EventKind string

const (
	EventOnline       EventKind = "online"
	EventError        EventKind = "error"
	EventMessageError EventKind = "messageerror"
	EventExited       EventKind = "exited"
)

// Event is one lifecycle event. Err is set for EventError and
// EventMessageError; ExitCode for EventExited.
type Event struct {
	Kind     EventKind
	Err      error
	ExitCode int
}

// Listener receives lifecycle events. It may be called from any
// goroutine, but never concurrently for the same worker.
type Listener func(Event)

// RemoteFiles are the worker's sides of the three channel pairs.
type RemoteFiles struct {
	Probes *os.File
	Logs   *os.File
	Config *os.File
}

// Close closes every non-nil file.
func (r RemoteFiles) Close() {
	for _, file := range []*os.File{r.Probes, r.Logs, r.Config} {
		if file != nil {
			file.Close()
		}
	}
}

// Spawner starts isolated workers.
type Spawner interface {
	// Spawn starts a worker with startup and the remote channel
	// files. Ownership of the files moves to Spawn, which closes the
	// caller's copies whether or not it succeeds. listener receives
	// the worker's lifecycle events until the handle is detached;
	// EventExited is always the last event.
	Spawn(startup ipc.StartupData, remote RemoteFiles, listener Listener) (Handle, error)
}

// Handle controls one spawned worker.
type Handle interface {
	// Terminate asks the worker to stop and blocks until it has
	// exited. The error reports a worker that could not be stopped
	// gracefully before ctx ended.
	Terminate(ctx context.Context) error

	// Detach stops the delivery of lifecycle events to the listener.
	Detach()
}

// eventSink gates a Listener behind Detach.
type eventSink struct {
	listener Listener
	detached atomic.Bool
}

func (s *eventSink) emit(event Event) {
	if !s.detached.Load() {
		s.listener(event)
	}
}

func (s *eventSink) detach() {
	s.detached.Store(true)
}

// sinkReporter adapts an eventSink to the ipc.Reporter a worker entry
// function reports through.
type sinkReporter struct {
	sink *eventSink
}

func (r sinkReporter) Online()                { r.sink.emit(Event{Kind: EventOnline}) }
func (r sinkReporter) Error(err error)        { r.sink.emit(Event{Kind: EventError, Err: err}) }
func (r sinkReporter) MessageError(err error) { r.sink.emit(Event{Kind: EventMessageError, Err: err}) }

// panicError describes a recovered worker panic.
func panicError(recovered any) error {
	return fmt.Errorf("worker panic: %v", recovered)
}

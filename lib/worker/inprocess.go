// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// Exit codes reported for in-process workers.
const (
	exitOK    = 0
	exitError = 1
	exitPanic = 2
)

// InProcessSpawner runs each worker's entry function in a goroutine of
// the agent process. The channels are still real socketpairs, so the
// worker sees exactly the endpoints a forked worker would; only the
// crash isolation is weaker (a panic is recovered, a deadlock is not).
type InProcessSpawner struct {
	Entry ipc.EntryFunc
}

// Spawn implements [Spawner].
func (s *InProcessSpawner) Spawn(startup ipc.StartupData, remote RemoteFiles, listener Listener) (Handle, error) {
	if s.Entry == nil {
		remote.Close()
		return nil, errors.New("in-process spawner has no entry function")
	}

	endpoints, err := endpointsFromFiles(remote)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &inProcessHandle{
		cancel: cancel,
		sink:   &eventSink{listener: listener},
		exited: make(chan struct{}),
	}

	go func() {
		code := handle.run(ctx, s.Entry, startup, endpoints)
		close(handle.exited)
		handle.sink.emit(Event{Kind: EventExited, ExitCode: code})
	}()

	return handle, nil
}

// endpointsFromFiles wraps every remote file, closing all of them if
// any fails.
func endpointsFromFiles(remote RemoteFiles) (ipc.Endpoints, error) {
	var endpoints ipc.Endpoints
	var err error
	if endpoints.Probes, err = channel.FromFile(remote.Probes); err != nil {
		remote.Logs.Close()
		remote.Config.Close()
		return ipc.Endpoints{}, err
	}
	if endpoints.Logs, err = channel.FromFile(remote.Logs); err != nil {
		endpoints.Close()
		remote.Config.Close()
		return ipc.Endpoints{}, err
	}
	if endpoints.Config, err = channel.FromFile(remote.Config); err != nil {
		endpoints.Close()
		return ipc.Endpoints{}, err
	}
	return endpoints, nil
}

type inProcessHandle struct {
	cancel context.CancelFunc
	sink   *eventSink
	exited chan struct{}
}

// run calls entry and converts its outcome into an exit code. The
// endpoints are closed however entry returns.
func (h *inProcessHandle) run(ctx context.Context, entry ipc.EntryFunc, startup ipc.StartupData, endpoints ipc.Endpoints) (code int) {
	reporter := sinkReporter{sink: h.sink}
	defer endpoints.Close()
	defer func() {
		if recovered := recover(); recovered != nil {
			reporter.Error(panicError(recovered))
			code = exitPanic
		}
	}()

	if err := entry(ctx, startup, endpoints, reporter); err != nil {
		reporter.Error(err)
		return exitError
	}
	return exitOK
}

// Terminate cancels the entry function's context and waits for it to
// return. A goroutine cannot be killed, so if ctx ends first the
// worker is abandoned and an error is returned.
func (h *inProcessHandle) Terminate(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-process worker did not return: %w", ctx.Err())
	}
}

// Detach implements [Handle].
func (h *inProcessHandle) Detach() {
	h.sink.detach()
}

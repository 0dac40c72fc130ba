// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// RunChild is the body of a forked worker. It reads the startup data
// from the control channel on fd 6, wraps the channel descriptors it
// names, reports online, and runs entry until it returns.
//
// ctx should be cancelled on SIGTERM. RunChild also cancels entry's
// context when the control channel reaches EOF, which means the agent
// is gone.
func RunChild(ctx context.Context, entry ipc.EntryFunc) error {
	control, err := channel.FromFile(os.NewFile(ControlFD, "control"))
	if err != nil {
		return fmt.Errorf("opening control channel (was this process started by the agent?): %w", err)
	}
	defer control.Close()

	raw, err := control.Receive()
	if err != nil {
		return fmt.Errorf("reading startup data: %w", err)
	}
	var startup ipc.StartupData
	if err := codec.Unmarshal(raw, &startup); err != nil {
		return fmt.Errorf("decoding startup data: %w", err)
	}

	endpoints, err := endpointsFromFiles(RemoteFiles{
		Probes: os.NewFile(uintptr(startup.ProbeFD), "probes"),
		Logs:   os.NewFile(uintptr(startup.LogFD), "logs"),
		Config: os.NewFile(uintptr(startup.ConfigFD), "config"),
	})
	if err != nil {
		return fmt.Errorf("opening worker channels: %w", err)
	}
	defer endpoints.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Nothing is sent after the startup data; returning means the
		// agent closed its side or exited.
		control.Serve(func(codec.RawMessage) {})
		cancel()
	}()

	reporter := controlReporter{control: control}
	if err := entry(ctx, startup, endpoints, reporter); err != nil {
		reporter.Error(err)
		return err
	}
	return nil
}

// controlReporter sends lifecycle reports over the control channel.
type controlReporter struct {
	control *channel.Endpoint
}

func (r controlReporter) Online() {
	r.control.Send(ipc.LifecycleReport{Kind: ipc.LifecycleOnline})
}

func (r controlReporter) Error(err error) {
	r.control.Send(ipc.LifecycleReport{Kind: ipc.LifecycleError, Error: err.Error()})
}

func (r controlReporter) MessageError(err error) {
	r.control.Send(ipc.LifecycleReport{Kind: ipc.LifecycleMessageError, Error: err.Error()})
}

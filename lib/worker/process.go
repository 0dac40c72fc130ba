// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/clock"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// File descriptor numbers of the channels inside a forked worker.
// exec.Cmd.ExtraFiles[i] becomes fd 3+i.
const (
	ProbeFD   = 3
	LogFD     = 4
	ConfigFD  = 5
	ControlFD = 6
)

// DefaultGracePeriod is how long Terminate waits between SIGTERM and
// SIGKILL when ProcessSpawner.GracePeriod is zero.
const DefaultGracePeriod = 5 * time.Second

// ProcessSpawner runs each worker as a child process:
//
//	<Binary> <Args...>
//
// with the probe, log and config channels on fds 3, 4 and 5 and a
// private control channel on fd 6. The control channel carries
// [ipc.StartupData] to the child and [ipc.LifecycleReport] back.
type ProcessSpawner struct {
	// Binary is the executable. Empty means the running executable.
	Binary string

	// Args follow the binary. Nil means {"worker"}.
	Args []string

	// Env is appended to the agent's own environment.
	Env []string

	// GracePeriod is the SIGTERM to SIGKILL delay.
	GracePeriod time.Duration

	// Stderr receives the child's stderr. Nil means os.Stderr.
	Stderr io.Writer

	// Clock times the grace period. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Spawn implements [Spawner].
func (s *ProcessSpawner) Spawn(startup ipc.StartupData, remote RemoteFiles, listener Listener) (Handle, error) {
	defer remote.Close()

	binary := s.Binary
	if binary == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker binary: %w", err)
		}
		binary = executable
	}
	args := s.Args
	if args == nil {
		args = []string{"worker"}
	}

	control, controlFile, err := channel.Pair()
	if err != nil {
		return nil, fmt.Errorf("creating control channel: %w", err)
	}

	command := exec.Command(binary, args...)
	command.Env = append(os.Environ(), s.Env...)
	command.ExtraFiles = []*os.File{remote.Probes, remote.Logs, remote.Config, controlFile}
	command.Stderr = s.Stderr
	if command.Stderr == nil {
		command.Stderr = os.Stderr
	}
	command.SysProcAttr = sysProcAttr()

	if err := command.Start(); err != nil {
		control.Close()
		controlFile.Close()
		return nil, fmt.Errorf("starting worker %q: %w", binary, err)
	}

	// Close the child's ends in the parent; the child has its own copies.
	controlFile.Close()

	startup.ProbeFD = ProbeFD
	startup.LogFD = LogFD
	startup.ConfigFD = ConfigFD
	if err := control.Send(startup); err != nil {
		command.Process.Kill()
		command.Wait()
		control.Close()
		return nil, fmt.Errorf("sending startup data: %w", err)
	}

	handle := &processHandle{
		command:     command,
		control:     control,
		sink:        &eventSink{listener: listener},
		gracePeriod: s.GracePeriod,
		clock:       s.Clock,
		logger:      s.Logger,
		exited:      make(chan struct{}),
	}
	if handle.gracePeriod <= 0 {
		handle.gracePeriod = DefaultGracePeriod
	}
	if handle.clock == nil {
		handle.clock = clock.Real()
	}
	if handle.logger == nil {
		handle.logger = slog.Default()
	}

	reportsDone := make(chan struct{})
	go func() {
		defer close(reportsDone)
		handle.readReports()
	}()
	go handle.wait(reportsDone)

	return handle, nil
}

type processHandle struct {
	command     *exec.Cmd
	control     *channel.Endpoint
	sink        *eventSink
	gracePeriod time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	// exited is closed once the child has been reaped.
	exited chan struct{}

	// eventMu serialises listener calls from the two goroutines.
	eventMu sync.Mutex
}

func (h *processHandle) emit(event Event) {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	h.sink.emit(event)
}

// readReports turns lifecycle reports from the child into events until
// the control channel closes.
func (h *processHandle) readReports() {
	err := h.control.Serve(func(raw codec.RawMessage) {
		var report ipc.LifecycleReport
		if err := codec.Unmarshal(raw, &report); err != nil {
			h.logger.Warn("undecodable worker lifecycle report", "error", err)
			return
		}
		switch report.Kind {
		case ipc.LifecycleOnline:
			h.emit(Event{Kind: EventOnline})
		case ipc.LifecycleError:
			h.emit(Event{Kind: EventError, Err: errors.New(report.Error)})
		case ipc.LifecycleMessageError:
			h.emit(Event{Kind: EventMessageError, Err: errors.New(report.Error)})
		default:
			h.logger.Warn("unknown worker lifecycle report", "kind", report.Kind)
		}
	})
	if err != nil {
		h.logger.Debug("worker control channel failed", "error", err)
	}
}

// wait reaps the child, then reports the exit after every lifecycle
// report the child sent before dying.
func (h *processHandle) wait(reportsDone <-chan struct{}) {
	waitErr := h.command.Wait()
	code := exitCode(h.command.ProcessState, waitErr)

	// The child's end of the control channel is closed now, so the
	// reader drains what is buffered and stops. Bound the wait in case
	// a grandchild inherited the descriptor.
	select {
	case <-reportsDone:
	case <-h.clock.After(time.Second):
	}
	h.control.Close()

	close(h.exited)
	h.emit(Event{Kind: EventExited, ExitCode: code})
}

// Terminate sends SIGTERM, then SIGKILL after the grace period or when
// ctx ends, and waits for the child to be reaped.
func (h *processHandle) Terminate(ctx context.Context) error {
	select {
	case <-h.exited:
		return nil
	default:
	}

	if err := h.command.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.logger.Warn("signalling worker failed", "error", err)
	}

	var result error
	select {
	case <-h.exited:
		return nil
	case <-h.clock.After(h.gracePeriod):
		h.logger.Warn("worker ignored SIGTERM, killing", "pid", h.command.Process.Pid, "grace_period", h.gracePeriod)
	case <-ctx.Done():
		result = fmt.Errorf("worker did not stop gracefully: %w", ctx.Err())
	}

	if err := h.command.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker: %w", err)
	}
	<-h.exited
	return result
}

// Detach implements [Handle].
func (h *processHandle) Detach() {
	h.sink.detach()
}

// exitCode maps a reaped process to a shell-style exit code: the exit
// status, or 128 plus the signal number for a signalled process.
func exitCode(state *os.ProcessState, waitErr error) int {
	if state == nil {
		if waitErr != nil {
			return -1
		}
		return 0
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/clock"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
	"github.com/bureau-foundation/liveprobe/lib/probe"
	"github.com/bureau-foundation/liveprobe/lib/testutil"
)

// helperModeEnv switches the test binary into a worker. The spawner
// tests re-execute the test binary with it set.
const helperModeEnv = "LIVEPROBE_TEST_WORKER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelperWorker(mode))
	}
	os.Exit(m.Run())
}

func runHelperWorker(mode string) int {
	ctx := context.Background()
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
	} else {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGTERM)
		defer stop()
	}

	if err := RunChild(ctx, helperEntry(mode)); err != nil {
		return 1
	}
	return 0
}

// helperEntry acknowledges every operation. In "crash" mode the first
// operation exits the process with status 3; in "ignore-term" mode the
// worker never returns on its own.
func helperEntry(mode string) ipc.EntryFunc {
	return func(ctx context.Context, startup ipc.StartupData, endpoints ipc.Endpoints, reporter ipc.Reporter) error {
		reporter.Online()
		if mode == "ignore-term" {
			for {
				time.Sleep(time.Hour) //nolint:realclock waits for SIGKILL
			}
		}
		go func() {
			<-ctx.Done()
			endpoints.Probes.Close()
		}()
		return endpoints.Probes.Serve(func(raw codec.RawMessage) {
			var operation ipc.ProbeOperation
			if err := codec.Unmarshal(raw, &operation); err != nil {
				reporter.MessageError(err)
				return
			}
			if mode == "crash" {
				os.Exit(3)
			}
			if operation.AckID != 0 {
				endpoints.Probes.Send(ipc.ProbeAck{AckID: operation.AckID})
			}
		})
	}
}

func helperSpawner(mode string) *ProcessSpawner {
	return &ProcessSpawner{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    []string{helperModeEnv + "=" + mode},
		Logger: slog.New(slog.DiscardHandler),
	}
}

func TestProcessWorkerRoundTrip(t *testing.T) {
	coordinator, metrics := newTestCoordinator(helperSpawner("echo"))
	client := newFakeClient()
	if err := coordinator.Start(testConfig(), client); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := testutil.RequireReceive(t, client.deliver(t, probe.Apply, testProbe(id)), waitTimeout, "ack for %s", id); err != nil {
			t.Fatalf("ack for %s = %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	coordinator.Stop(ctx)

	if coordinator.IsStarted() {
		t.Error("IsStarted after Stop")
	}
	if got := promtestutil.ToFloat64(metrics.exits.WithLabelValues("stopped")); got != 1 {
		t.Errorf("stopped exits = %v, want 1", got)
	}
}

func TestProcessWorkerCrash(t *testing.T) {
	coordinator, _ := newTestCoordinator(helperSpawner("crash"))
	client := newFakeClient()
	if err := coordinator.Start(testConfig(), client); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer coordinator.Stop(context.Background())

	err := testutil.RequireReceive(t, client.deliver(t, probe.Apply, testProbe("p1")), waitTimeout, "ack")
	var exitError *UnexpectedExitError
	if !errors.As(err, &exitError) || exitError.Code != 3 {
		t.Fatalf("ack = %v, want UnexpectedExitError code 3", err)
	}
}

// spawnDirect spawns a helper worker with freshly created channels and
// returns its handle and event stream.
func spawnDirect(t *testing.T, spawner *ProcessSpawner) (Handle, <-chan Event) {
	t.Helper()
	var remote RemoteFiles
	var hostEnds []*channel.Endpoint
	for _, file := range []**os.File{&remote.Probes, &remote.Logs, &remote.Config} {
		endpoint, remoteFile, err := channel.Pair()
		if err != nil {
			t.Fatalf("Pair: %v", err)
		}
		hostEnds = append(hostEnds, endpoint)
		*file = remoteFile
	}
	t.Cleanup(func() {
		for _, endpoint := range hostEnds {
			endpoint.Close()
		}
	})

	events := make(chan Event, 16)
	handle, err := spawner.Spawn(ipc.StartupData{ParentPID: os.Getpid()}, remote, func(event Event) {
		events <- event
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return handle, events
}

func TestProcessTerminateKillsAfterGracePeriod(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	spawner := helperSpawner("ignore-term")
	spawner.Clock = fakeClock
	spawner.GracePeriod = 3 * time.Second

	handle, events := spawnDirect(t, spawner)
	if event := testutil.RequireReceive(t, events, waitTimeout, "online"); event.Kind != EventOnline {
		t.Fatalf("first event = %v, want online", event.Kind)
	}

	terminated := make(chan error, 1)
	go func() { terminated <- handle.Terminate(context.Background()) }()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(3 * time.Second)

	if err := testutil.RequireReceive(t, terminated, waitTimeout, "Terminate"); err != nil {
		t.Fatalf("Terminate = %v, want nil after SIGKILL", err)
	}
	exited := testutil.RequireReceive(t, events, waitTimeout, "exit event")
	if exited.Kind != EventExited || exited.ExitCode != 128+int(syscall.SIGKILL) {
		t.Fatalf("exit event = %+v, want exit code %d", exited, 128+int(syscall.SIGKILL))
	}
}

func TestProcessTerminateContextEnds(t *testing.T) {
	spawner := helperSpawner("ignore-term")
	spawner.GracePeriod = time.Hour

	handle, events := spawnDirect(t, spawner)
	testutil.RequireReceive(t, events, waitTimeout, "online")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := handle.Terminate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Terminate = %v, want context canceled", err)
	}
}

func TestProcessDetachSilencesEvents(t *testing.T) {
	handle, events := spawnDirect(t, helperSpawner("echo"))
	testutil.RequireReceive(t, events, waitTimeout, "online")

	handle.Detach()
	if err := handle.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case event := <-events:
		t.Fatalf("event %v delivered after Detach", event.Kind)
	default:
	}
}

func TestProcessSpawnMissingBinary(t *testing.T) {
	spawner := &ProcessSpawner{Binary: "/nonexistent/liveprobe-agent"}
	var remote RemoteFiles
	for _, file := range []**os.File{&remote.Probes, &remote.Logs, &remote.Config} {
		endpoint, remoteFile, err := channel.Pair()
		if err != nil {
			t.Fatalf("Pair: %v", err)
		}
		defer endpoint.Close()
		*file = remoteFile
	}

	if _, err := spawner.Spawn(ipc.StartupData{}, remote, func(Event) {}); err == nil {
		t.Fatal("Spawn succeeded with a missing binary")
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteconfig

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/probe"
	"github.com/bureau-foundation/liveprobe/lib/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testProbe(id string, version int) probe.Probe {
	return probe.Probe{
		ID:      id,
		Version: version,
		Type:    probe.LogProbe,
		Where:   probe.Location{SourceFile: "handlers/orders.go", Lines: []int{42}},
	}
}

// delivery is one handler invocation.
type delivery struct {
	action   probe.Action
	probe    probe.Probe
	configID string
	ack      AckFunc
}

// recordingHandler returns a handler that pushes every delivery onto
// a channel, leaving acknowledgment to the test.
func recordingHandler() (ProductHandler, <-chan delivery) {
	deliveries := make(chan delivery, 16)
	return func(action probe.Action, p probe.Probe, id string, ack AckFunc) {
		deliveries <- delivery{action: action, probe: p, configID: id, ack: ack}
	}, deliveries
}

// ackingHandler acknowledges every delivery immediately with err.
func ackingHandler(err error) ProductHandler {
	return func(action probe.Action, p probe.Probe, id string, ack AckFunc) {
		ack(err)
	}
}

func TestDeliverWithoutHandler(t *testing.T) {
	registry := NewRegistry(testLogger())
	err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 1))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Deliver = %v, want ErrNoHandler", err)
	}
}

func TestDeliverApplyRecordsConfig(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(nil))

	p := testProbe("p1", 1)
	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	applied := registry.List()
	if len(applied) != 1 {
		t.Fatalf("List = %+v, want one entry", applied)
	}
	if applied[0].ConfigID != "cfg-1" || applied[0].Probe.ID != "p1" {
		t.Errorf("applied = %+v", applied[0])
	}
	wantDigest, _ := p.Digest()
	if applied[0].Digest != wantDigest {
		t.Errorf("digest = %s, want %s", applied[0].Digest, wantDigest)
	}
}

func TestDeliverFailedAckLeavesStateUnchanged(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(errors.New("line 42 is not executable")))

	err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 1))
	if err == nil || !strings.Contains(err.Error(), "not executable") {
		t.Fatalf("Deliver = %v, want handler error", err)
	}
	if applied := registry.List(); len(applied) != 0 {
		t.Errorf("List = %+v after failed apply", applied)
	}
}

func TestDeliverRejectsInvalidProbe(t *testing.T) {
	registry := NewRegistry(testLogger())
	handler, deliveries := recordingHandler()
	registry.SetProductHandler(LiveDebugging, handler)

	invalid := testProbe("p1", 1)
	invalid.Where.Lines = nil
	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", invalid); err == nil {
		t.Fatal("Deliver accepted an invalid probe")
	}
	select {
	case got := <-deliveries:
		t.Fatalf("handler called for invalid probe: %+v", got)
	default:
	}
}

func TestDeliverRemove(t *testing.T) {
	registry := NewRegistry(testLogger())
	handler, deliveries := recordingHandler()
	registry.SetProductHandler(LiveDebugging, handler)

	go func() {
		for d := range deliveries {
			d.ack(nil)
		}
	}()

	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 2)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := registry.Deliver(context.Background(), probe.Remove, "cfg-1", probe.Probe{}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if applied := registry.List(); len(applied) != 0 {
		t.Errorf("List = %+v after remove", applied)
	}
}

func TestDeliverRemovePassesStoredProbe(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(nil))
	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 4)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	handler, deliveries := recordingHandler()
	registry.SetProductHandler(LiveDebugging, handler)
	// The new handler first receives the replayed apply.
	replayed := testutil.RequireReceive(t, deliveries, 5*time.Second, "replay")
	replayed.ack(nil)

	result := make(chan error, 1)
	go func() {
		result <- registry.Deliver(context.Background(), probe.Remove, "cfg-1", probe.Probe{})
	}()

	removal := testutil.RequireReceive(t, deliveries, 5*time.Second, "remove delivery")
	if removal.action != probe.Remove || removal.probe.ID != "p1" || removal.probe.Version != 4 {
		t.Errorf("remove delivered %s %s v%d", removal.action, removal.probe.ID, removal.probe.Version)
	}
	removal.ack(nil)
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Deliver result"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestDeliverRemoveUnknown(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(nil))

	err := registry.Deliver(context.Background(), probe.Remove, "cfg-missing", probe.Probe{})
	if !errors.Is(err, ErrUnknownConfig) {
		t.Fatalf("Deliver = %v, want ErrUnknownConfig", err)
	}
}

func TestDeliverRejectsProbeIDChange(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(nil))

	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p2", 1))
	if err == nil || !strings.Contains(err.Error(), "already carries probe p1") {
		t.Fatalf("Deliver = %v, want probe id conflict", err)
	}
}

func TestDeliverTimesOutWithoutAck(t *testing.T) {
	registry := NewRegistry(testLogger())
	handler, _ := recordingHandler()
	registry.SetProductHandler(LiveDebugging, handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := registry.Deliver(ctx, probe.Apply, "cfg-1", testProbe("p1", 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Deliver = %v, want context.Canceled", err)
	}
	if applied := registry.List(); len(applied) != 0 {
		t.Errorf("List = %+v after unacknowledged apply", applied)
	}
}

func TestSecondAckIsIgnored(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, func(action probe.Action, p probe.Probe, id string, ack AckFunc) {
		ack(nil)
		ack(errors.New("late failure"))
	})

	if err := registry.Deliver(context.Background(), probe.Apply, "cfg-1", testProbe("p1", 1)); err != nil {
		t.Fatalf("Deliver = %v, want first acknowledgment to win", err)
	}
}

func TestSetProductHandlerReplaysApplied(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.SetProductHandler(LiveDebugging, ackingHandler(nil))
	for _, configID := range []string{"cfg-b", "cfg-a"} {
		if err := registry.Deliver(context.Background(), probe.Apply, configID, testProbe("probe-"+configID, 1)); err != nil {
			t.Fatalf("apply %s: %v", configID, err)
		}
	}

	registry.RemoveProductHandler(LiveDebugging)
	if registry.HasHandler(LiveDebugging) {
		t.Fatal("handler still registered after RemoveProductHandler")
	}

	var mu sync.Mutex
	var replayed []string
	done := make(chan struct{})
	registry.SetProductHandler(LiveDebugging, func(action probe.Action, p probe.Probe, id string, ack AckFunc) {
		mu.Lock()
		defer mu.Unlock()
		if action != probe.Apply {
			t.Errorf("replay action = %s", action)
		}
		replayed = append(replayed, id)
		ack(nil)
		if len(replayed) == 2 {
			close(done)
		}
	})

	testutil.RequireClosed(t, done, 5*time.Second, "replay")
	mu.Lock()
	defer mu.Unlock()
	if replayed[0] != "cfg-a" || replayed[1] != "cfg-b" {
		t.Errorf("replayed = %v, want config id order", replayed)
	}
}

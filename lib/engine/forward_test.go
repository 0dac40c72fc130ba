// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// logPair returns a forwarding endpoint and the host end that
// receives its records.
func logPair(t *testing.T) (worker, host *channel.Endpoint) {
	t.Helper()
	host, file, err := channel.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	worker, err = channel.FromFile(file)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	t.Cleanup(func() {
		worker.Close()
		host.Close()
	})
	return worker, host
}

func receiveRecord(t *testing.T, host *channel.Endpoint) ipc.LogRecord {
	t.Helper()
	raw, err := host.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	var record ipc.LogRecord
	if err := codec.Unmarshal(raw, &record); err != nil {
		t.Fatalf("decoding LogRecord: %v", err)
	}
	return record
}

// argMap pairs up alternating keys and values.
func argMap(t *testing.T, args []any) map[string]any {
	t.Helper()
	if len(args)%2 != 0 {
		t.Fatalf("odd number of args: %v", args)
	}
	result := make(map[string]any)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			t.Fatalf("arg %d is %T, want string key", i, args[i])
		}
		result[key] = args[i+1]
	}
	return result
}

func TestForwardingHandlerSendsRecords(t *testing.T) {
	worker, host := logPair(t)
	logger := slog.New(NewForwardingHandler(worker, nil)).With("component", "engine")

	logger.WithGroup("probe").Warn("install failed",
		"id", "p1",
		"lines", 3,
		"ratio", 0.5,
		"enabled", true,
		"wait", 1500*time.Millisecond,
		"error", errors.New("no code at line"),
		slog.Group("where", "file", "orders.go"),
	)

	record := receiveRecord(t, host)
	if record.Level != slog.LevelWarn || record.Message != "install failed" {
		t.Fatalf("record = %v %q", record.Level, record.Message)
	}
	args := argMap(t, record.Args)
	want := map[string]any{
		"component":        "engine",
		"probe.id":         "p1",
		"probe.enabled":    true,
		"probe.wait":       "1.5s",
		"probe.error":      "no code at line",
		"probe.where.file": "orders.go",
	}
	for key, value := range want {
		if args[key] != value {
			t.Errorf("%s = %#v, want %#v", key, args[key], value)
		}
	}
	// CBOR decodes integers into interface values as uint64 or int64.
	switch lines := args["probe.lines"].(type) {
	case uint64:
		if lines != 3 {
			t.Errorf("probe.lines = %d", lines)
		}
	case int64:
		if lines != 3 {
			t.Errorf("probe.lines = %d", lines)
		}
	default:
		t.Errorf("probe.lines = %#v", lines)
	}
	if args["probe.ratio"] != 0.5 {
		t.Errorf("probe.ratio = %#v", args["probe.ratio"])
	}
}

func TestForwardingHandlerLevel(t *testing.T) {
	worker, host := logPair(t)
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(NewForwardingHandler(worker, level))

	logger.Info("suppressed")
	logger.Error("kept")
	if record := receiveRecord(t, host); record.Message != "kept" {
		t.Fatalf("first forwarded record = %q, want kept", record.Message)
	}

	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	if record := receiveRecord(t, host); record.Message != "now visible" {
		t.Fatalf("record after level change = %q", record.Message)
	}
}

func TestForwardingHandlerReportsClosedChannel(t *testing.T) {
	worker, _ := logPair(t)
	handler := NewForwardingHandler(worker, nil)
	worker.Close()

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "after close", 0) //nolint:realclock record timestamp is not inspected
	if err := handler.Handle(t.Context(), record); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("Handle after Close = %v, want ErrClosed", err)
	}
}

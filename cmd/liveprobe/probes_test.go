// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/probe"
	"github.com/bureau-foundation/liveprobe/lib/remoteconfig"
	"github.com/bureau-foundation/liveprobe/lib/testutil"
)

const probesJSON = `[
	// checkout path
	{"id": "p1", "version": 1, "type": "LOG_PROBE", "where": {"sourceFile": "orders.go", "lines": [12]}},
	{"id": "p2", "version": 3, "type": "LOG_PROBE", "where": {"sourceFile": "orders.go", "lines": [40, 41]}},
]`

// startControl serves a registry whose handler rejects probes on
// line 41, standing in for an agent.
func startControl(t *testing.T) (string, *remoteconfig.Registry) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := remoteconfig.NewRegistry(logger)
	registry.SetProductHandler(remoteconfig.LiveDebugging, func(action probe.Action, p probe.Probe, id string, ack remoteconfig.AckFunc) {
		for _, line := range p.Where.Lines {
			if line == 41 {
				ack(errors.New("no code at line 41"))
				return
			}
		}
		ack(nil)
	})

	socketPath := filepath.Join(testutil.SocketDir(t), "control.sock")
	server := remoteconfig.NewServer(socketPath, registry, time.Second, logger)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, served, 5*time.Second, "control server shutdown")
	})

	testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, "socket %s", socketPath)
	return socketPath, registry
}

type testConsole struct {
	*console
	out *bytes.Buffer
}

func newTestConsole(t *testing.T, terminal bool, stdin string) testConsole {
	out := &bytes.Buffer{}
	return testConsole{
		console: &console{
			ctx:      t.Context(),
			stdin:    strings.NewReader(stdin),
			stdout:   out,
			stderr:   &bytes.Buffer{},
			terminal: terminal,
		},
		out: out,
	}
}

func execute(c testConsole, args ...string) error {
	return rootCommand(c.console).Execute(args, &bytes.Buffer{})
}

func writeProbes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probes.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestApplyReportsEachProbe(t *testing.T) {
	socket, registry := startControl(t)
	c := newTestConsole(t, false, "")

	err := execute(c, "apply", "--socket", socket, writeProbes(t, probesJSON))
	if err == nil || !strings.Contains(err.Error(), "1 of 2 operations failed") {
		t.Fatalf("apply = %v", err)
	}

	var results []operationResult
	if err := json.Unmarshal(c.out.Bytes(), &results); err != nil {
		t.Fatalf("apply output is not JSON: %v\n%s", err, c.out)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].ConfigID != "p1" || results[0].Error != "" {
		t.Errorf("p1 result = %+v", results[0])
	}
	if results[1].Version != 3 || results[1].Error != "no code at line 41" {
		t.Errorf("p2 result = %+v", results[1])
	}
	if applied := registry.List(); len(applied) != 1 || applied[0].ConfigID != "p1" {
		t.Errorf("registry holds %+v", applied)
	}
}

func TestApplyFromStdinWithConfigID(t *testing.T) {
	socket, registry := startControl(t)
	single := `[{"id": "p1", "version": 1, "type": "LOG_PROBE", "where": {"sourceFile": "orders.go", "lines": [12]}}]`
	c := newTestConsole(t, true, single)

	if err := execute(c, "apply", "--socket", socket, "--config-id", "checkout-debug", "-"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := c.out.String(); got != "applied checkout-debug (probe p1)\n" {
		t.Errorf("terminal output = %q", got)
	}
	if applied := registry.List(); len(applied) != 1 || applied[0].ConfigID != "checkout-debug" {
		t.Errorf("registry holds %+v", applied)
	}
}

func TestApplyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr string
	}{
		{
			name:    "no file",
			args:    func(*testing.T) []string { return []string{"apply"} },
			wantErr: "exactly one probe file",
		},
		{
			name: "config id with several probes",
			args: func(t *testing.T) []string {
				return []string{"apply", "--config-id", "x", writeProbes(t, probesJSON)}
			},
			wantErr: "--config-id needs a single probe",
		},
		{
			name: "invalid probe",
			args: func(t *testing.T) []string {
				return []string{"apply", writeProbes(t, `[{"id": "p1", "type": "LOG_PROBE"}]`)}
			},
			wantErr: "entry 0",
		},
		{
			name:    "empty file",
			args:    func(t *testing.T) []string { return []string{"apply", writeProbes(t, `[]`)} },
			wantErr: "contains no probes",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestConsole(t, false, "")
			err := execute(c, test.args(t)...)
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("apply = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestListTableAndJSON(t *testing.T) {
	socket, _ := startControl(t)
	if err := execute(newTestConsole(t, false, ""), "apply", "--socket", socket, writeProbes(t, probesJSON)); err == nil {
		t.Fatal("expected p2 to fail")
	}

	table := newTestConsole(t, true, "")
	if err := execute(table, "list", "--socket", socket); err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(table.out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "CONFIG ID") {
		t.Fatalf("table = %q", table.out.String())
	}
	for _, cell := range []string{"p1", "LOG_PROBE", "orders.go:12"} {
		if !strings.Contains(lines[1], cell) {
			t.Errorf("row %q lacks %q", lines[1], cell)
		}
	}

	forced := newTestConsole(t, true, "")
	if err := execute(forced, "list", "--socket", socket, "--json"); err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var rows []appliedProbe
	if err := json.Unmarshal(forced.out.Bytes(), &rows); err != nil {
		t.Fatalf("list --json output: %v", err)
	}
	if len(rows) != 1 || rows[0].Digest == "" || rows[0].Location != "orders.go:12" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestRemove(t *testing.T) {
	socket, registry := startControl(t)
	if err := execute(newTestConsole(t, false, ""), "apply", "--socket", socket, "--config-id", "cfg-1",
		writeProbes(t, `[{"id": "p1", "version": 1, "type": "LOG_PROBE", "where": {"sourceFile": "a.go", "lines": [1]}}]`)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	c := newTestConsole(t, true, "")
	err := execute(c, "remove", "--socket", socket, "cfg-1", "cfg-missing")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 operations failed") {
		t.Fatalf("remove = %v", err)
	}
	output := c.out.String()
	if !strings.Contains(output, "removed cfg-1\n") || !strings.Contains(output, "failed  cfg-missing:") {
		t.Errorf("output = %q", output)
	}
	if len(registry.List()) != 0 {
		t.Errorf("registry still holds %+v", registry.List())
	}
}

func TestUnreachableAgent(t *testing.T) {
	c := newTestConsole(t, false, "")
	missing := filepath.Join(testutil.SocketDir(t), "absent.sock")
	err := execute(c, "list", "--socket", missing, "--timeout", "1s")
	if err == nil || !strings.Contains(err.Error(), "connecting") {
		t.Fatalf("list against a missing socket = %v", err)
	}
}

func TestSocketPathResolution(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "liveprobe.yaml")
	if err := os.WriteFile(configPath, []byte("control:\n  socket_path: /run/checkout/control.sock\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("LIVEPROBE_SOCKET", "/run/env.sock")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	tests := []struct {
		name string
		conn connection
		want string
	}{
		{"flag wins", connection{socket: "/tmp/flag.sock", configPath: configPath}, "/tmp/flag.sock"},
		{"config file", connection{configPath: configPath}, "/run/checkout/control.sock"},
		{"environment", connection{}, "/run/env.sock"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.conn.socketPath()
			if err != nil {
				t.Fatalf("socketPath: %v", err)
			}
			if got != test.want {
				t.Errorf("socketPath = %q, want %q", got, test.want)
			}
		})
	}

	t.Setenv("LIVEPROBE_SOCKET", "")
	got, err := (&connection{}).socketPath()
	if err != nil || got != "/run/user/1000/liveprobe/control.sock" {
		t.Errorf("default socketPath = %q, %v", got, err)
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	err := execute(newTestConsole(t, false, ""), "aply")
	if err == nil || !strings.Contains(err.Error(), `did you mean "apply"`) {
		t.Fatalf("Execute(aply) = %v", err)
	}
}

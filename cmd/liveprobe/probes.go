// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/liveprobe/lib/probe"
	"github.com/bureau-foundation/liveprobe/lib/probefile"
	"github.com/bureau-foundation/liveprobe/lib/remoteconfig"
)

// operationResult is one row of apply or remove output.
type operationResult struct {
	ConfigID string `json:"config_id"`
	ProbeID  string `json:"probe_id,omitempty"`
	Version  int    `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
}

// appliedProbe is one row of list output.
type appliedProbe struct {
	ConfigID string `json:"config_id"`
	ProbeID  string `json:"probe_id"`
	Version  int    `json:"version"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Digest   string `json:"digest"`
}

func applyCommand(console *console) *Command {
	var (
		conn     connection
		configID string
	)
	return &Command{
		Name:    "apply",
		Summary: "Apply the probes in a JSON file",
		Description: `Apply every probe in a JSON (or JSONC) array of probe definitions and
wait for the agent to acknowledge each one. Use "-" to read stdin.

Each probe is applied under a configuration id equal to its probe id
unless --config-id is given, which is only allowed for a single probe.
The whole file is rejected if any probe is invalid or duplicated.`,
		Usage: "liveprobe apply [flags] <probes.json | ->",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("apply", pflag.ContinueOnError)
			conn.register(flagSet)
			flagSet.StringVar(&configID, "config-id", "", "configuration id for a single-probe file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("apply takes exactly one probe file argument")
			}
			probes, err := readProbes(console, args[0])
			if err != nil {
				return err
			}
			if len(probes) == 0 {
				return fmt.Errorf("%s contains no probes", args[0])
			}
			if configID != "" && len(probes) > 1 {
				return fmt.Errorf("--config-id needs a single probe, %s has %d", args[0], len(probes))
			}

			client, err := conn.client()
			if err != nil {
				return err
			}

			results := make([]operationResult, 0, len(probes))
			for _, p := range probes {
				id := configID
				if id == "" {
					id = p.ID
				}
				result := operationResult{ConfigID: id, ProbeID: p.ID, Version: p.Version}
				if err := withTimeout(console.ctx, conn.timeout, func(ctx context.Context) error {
					return client.Apply(ctx, id, p)
				}); err != nil {
					result.Error = errorMessage(err)
				}
				results = append(results, result)
			}
			return reportResults(console, conn, "applied", results)
		},
	}
}

func removeCommand(console *console) *Command {
	var conn connection
	return &Command{
		Name:    "remove",
		Summary: "Remove applied configurations",
		Description: `Remove one or more applied configurations by configuration id and wait
for the agent to acknowledge each removal.`,
		Usage: "liveprobe remove [flags] <config-id>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("remove", pflag.ContinueOnError)
			conn.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("remove needs at least one configuration id")
			}
			client, err := conn.client()
			if err != nil {
				return err
			}

			results := make([]operationResult, 0, len(args))
			for _, id := range args {
				result := operationResult{ConfigID: id}
				if err := withTimeout(console.ctx, conn.timeout, func(ctx context.Context) error {
					return client.Remove(ctx, id)
				}); err != nil {
					result.Error = errorMessage(err)
				}
				results = append(results, result)
			}
			return reportResults(console, conn, "removed", results)
		},
	}
}

func listCommand(console *console) *Command {
	var conn connection
	return &Command{
		Name:    "list",
		Summary: "List applied configurations",
		Usage:   "liveprobe list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			client, err := conn.client()
			if err != nil {
				return err
			}

			var applied []remoteconfig.Applied
			if err := withTimeout(console.ctx, conn.timeout, func(ctx context.Context) error {
				applied, err = client.List(ctx)
				return err
			}); err != nil {
				return err
			}

			rows := make([]appliedProbe, 0, len(applied))
			for _, entry := range applied {
				rows = append(rows, appliedProbe{
					ConfigID: entry.ConfigID,
					ProbeID:  entry.Probe.ID,
					Version:  entry.Probe.Version,
					Type:     string(entry.Probe.Type),
					Location: formatLocation(entry.Probe.Where),
					Digest:   entry.Digest,
				})
			}

			if conn.json || !console.terminal {
				return writeJSON(console.stdout, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(console.stdout, "no probes applied")
				return nil
			}
			table := newTable(console.stdout, "CONFIG ID", "PROBE", "VERSION", "TYPE", "LOCATION", "DIGEST")
			for _, row := range rows {
				table.row(row.ConfigID, row.ProbeID, strconv.Itoa(row.Version), row.Type, row.Location, shortDigest(row.Digest))
			}
			return table.flush()
		},
	}
}

func readProbes(console *console, path string) ([]probe.Probe, error) {
	if path != "-" {
		return probefile.Read(path)
	}
	data, err := io.ReadAll(console.stdin)
	if err != nil {
		return nil, fmt.Errorf("reading probes from stdin: %w", err)
	}
	probes, err := probefile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	return probes, nil
}

func withTimeout(parent context.Context, timeout time.Duration, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return call(ctx)
}

// errorMessage unwraps the agent's own message from a ServiceError.
func errorMessage(err error) string {
	var serviceError *remoteconfig.ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.Message
	}
	return err.Error()
}

// reportResults writes results and returns an error when any failed.
func reportResults(console *console, conn connection, verb string, results []operationResult) error {
	failed := 0
	for _, result := range results {
		if result.Error != "" {
			failed++
		}
	}

	if conn.json || !console.terminal {
		if err := writeJSON(console.stdout, results); err != nil {
			return err
		}
	} else {
		for _, result := range results {
			label := result.ConfigID
			if result.ProbeID != "" && result.ProbeID != result.ConfigID {
				label += " (probe " + result.ProbeID + ")"
			}
			if result.Error != "" {
				fmt.Fprintf(console.stdout, "failed  %s: %s\n", label, result.Error)
			} else {
				fmt.Fprintf(console.stdout, "%s %s\n", verb, label)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d operations failed", failed, len(results))
	}
	return nil
}

func formatLocation(where probe.Location) string {
	lines := make([]string, len(where.Lines))
	for i, line := range where.Lines {
		lines[i] = strconv.Itoa(line)
	}
	return where.SourceFile + ":" + strings.Join(lines, ",")
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/remoteconfig"
	"github.com/bureau-foundation/liveprobe/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streams := &console{
		ctx:      ctx,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		terminal: term.IsTerminal(int(os.Stdout.Fd())),
	}
	if err := rootCommand(streams).Execute(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// console carries the process's streams into the commands so tests can
// substitute them.
type console struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// terminal is true when stdout is a TTY. Tables are written to
	// terminals and JSON everywhere else.
	terminal bool
}

// connection holds the flags shared by every command that talks to the
// agent.
type connection struct {
	socket     string
	configPath string
	timeout    time.Duration
	json       bool
}

// defaultTimeout exceeds the agent's acknowledgment timeout so that a
// slow worker is reported by the agent rather than cut off here.
const defaultTimeout = remoteconfig.DefaultAckTimeout + 5*time.Second

func (c *connection) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socket, "socket", "", "control socket path (default: from --config, $LIVEPROBE_SOCKET, or the agent default)")
	flagSet.StringVar(&c.configPath, "config", "", "agent configuration file to read the control socket path from")
	flagSet.DurationVar(&c.timeout, "timeout", defaultTimeout, "how long to wait for the agent")
	flagSet.BoolVar(&c.json, "json", false, "output as JSON even on a terminal")
}

// socketPath resolves the control socket: --socket, then the --config
// file, then $LIVEPROBE_SOCKET, then the agent's default.
func (c *connection) socketPath() (string, error) {
	if c.socket != "" {
		return c.socket, nil
	}
	if c.configPath != "" {
		cfg, err := config.LoadFile(c.configPath)
		if err != nil {
			return "", fmt.Errorf("reading agent configuration: %w", err)
		}
		return cfg.Control.SocketPath, nil
	}
	if fromEnvironment := os.Getenv("LIVEPROBE_SOCKET"); fromEnvironment != "" {
		return fromEnvironment, nil
	}
	cfg := config.Default()
	cfg.ExpandVariables()
	return cfg.Control.SocketPath, nil
}

func (c *connection) client() (*remoteconfig.ControlClient, error) {
	path, err := c.socketPath()
	if err != nil {
		return nil, err
	}
	return remoteconfig.NewControlClient(path), nil
}

func rootCommand(console *console) *Command {
	var showVersion bool
	root := &Command{
		Name:        "liveprobe",
		Summary:     "Manage probes on a running liveprobe-agent",
		Description: "Manage probes on a running liveprobe-agent through its control socket.",
		Subcommands: []*Command{
			applyCommand(console),
			removeCommand(console),
			listCommand(console),
			{
				Name:    "version",
				Summary: "Print version information",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
					flagSet.BoolVar(&showVersion, "full", false, "include Go version and platform")
					return flagSet
				},
				Run: func([]string) error {
					if showVersion {
						fmt.Fprintf(console.stdout, "liveprobe %s\n", version.Full())
					} else {
						fmt.Fprintf(console.stdout, "liveprobe %s\n", version.Info())
					}
					return nil
				},
			},
		},
	}
	return root
}

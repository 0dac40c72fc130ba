// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/engine"
	"github.com/bureau-foundation/liveprobe/lib/version"
	"github.com/bureau-foundation/liveprobe/lib/worker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "worker" {
		return runWorker()
	}

	flags := pflag.NewFlagSet("liveprobe-agent", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to liveprobe.yaml (default: $LIVEPROBE_CONFIG)")
	logLevel := flags.String("log-level", "", "override logging.level (debug, info, warn, error)")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		version.Print("liveprobe-agent")
		return nil
	}

	load := func() (*config.Config, error) {
		var cfg *config.Config
		var err error
		if *configPath != "" {
			cfg, err = config.LoadFile(*configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, err
		}
		if *logLevel != "" {
			cfg.Logging.Level = *logLevel
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := load()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newAgent(cfg, level, logger, &worker.ProcessSpawner{
		Binary:      cfg.Worker.Binary,
		GracePeriod: cfg.Worker.GracePeriod,
		Logger:      logger,
	})

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hangup:
				reloaded, err := load()
				if err != nil {
					logger.Error("reloading configuration failed, keeping the current one", "error", err)
					continue
				}
				a.reconfigure(reloaded)
			}
		}
	}()

	return a.run(ctx)
}

// runWorker is the body of the forked worker process. SIGINT is
// ignored so that a terminal interrupt reaches only the agent, which
// stops the worker itself.
func runWorker() error {
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	return worker.RunChild(ctx, engine.Run)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/clock"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/exporter"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
)

// Options configures an Engine and the worker entry built around it.
// The zero value is what the agent's worker subcommand uses.
type Options struct {
	// Installer places probes. Nil means a SourceInstaller when the
	// configuration names a source root, otherwise NopInstaller.
	Installer Installer

	// Clock drives diagnostic batching and timestamps. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives engine logs. The entry function sets it to a
	// logger writing to the log channel when nil.
	Logger *slog.Logger

	// Sink receives each flushed JSON array of diagnostics. The entry
	// function uploads them with an exporter.Exporter when nil.
	Sink func(payload string)

	// HTTPClient is used by that exporter. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// exporterCloseTimeout bounds the final diagnostics upload on shutdown.
const exporterCloseTimeout = 5 * time.Second

// Run is the worker entry function with default options.
func Run(ctx context.Context, startup ipc.StartupData, endpoints ipc.Endpoints, reporter ipc.Reporter) error {
	return NewEntry(Options{})(ctx, startup, endpoints, reporter)
}

// NewEntry returns a worker entry function. It applies every probe
// operation to an Engine and acknowledges the ones carrying an ack id,
// applies configuration updates, and returns when ctx is cancelled or
// the host closes the probe channel.
func NewEntry(options Options) ipc.EntryFunc {
	return func(ctx context.Context, startup ipc.StartupData, endpoints ipc.Endpoints, reporter ipc.Reporter) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		level := new(slog.LevelVar)
		setLevel(level, startup.Config.LogLevel)
		if options.Logger == nil {
			options.Logger = slog.New(NewForwardingHandler(endpoints.Logs, level))
		}
		logger := options.Logger

		var upload *exporter.Exporter
		if options.Sink == nil {
			var err error
			upload, err = newExporter(startup.Config, options, logger)
			if err != nil {
				return err
			}
			options.Sink = upload.Export
		}

		engine := New(startup, options)

		go endpoints.Config.Serve(func(raw codec.RawMessage) {
			var update ipc.ConfigUpdate
			if err := codec.Unmarshal(raw, &update); err != nil {
				reporter.MessageError(fmt.Errorf("decoding configuration update: %w", err))
				return
			}
			setLevel(level, update.Config.LogLevel)
			engine.Configure(update.Config)
			logger.Debug("configuration updated")
		})

		go func() {
			<-ctx.Done()
			endpoints.Probes.Close()
		}()

		reporter.Online()
		logger.Info("engine online",
			"service", startup.Config.Service,
			"parent_runtime_id", startup.ParentRuntimeID,
			"parent_pid", startup.ParentPID,
		)

		err := endpoints.Probes.Serve(func(raw codec.RawMessage) {
			var operation ipc.ProbeOperation
			if err := codec.Unmarshal(raw, &operation); err != nil {
				reporter.MessageError(fmt.Errorf("decoding probe operation: %w", err))
				return
			}

			result := engine.Handle(operation)
			if operation.AckID == 0 {
				if result != nil {
					logger.Warn("static probe rejected", "probe_id", operation.Probe.ID, "error", result)
				}
				return
			}

			ack := ipc.ProbeAck{AckID: operation.AckID}
			if result != nil {
				ack.Error = result.Error()
			}
			if err := endpoints.Probes.Send(ack); err != nil {
				logger.Error("sending acknowledgment failed", "ack_id", operation.AckID, "error", err)
			}
		})

		engine.Close()
		if upload != nil {
			closeContext, closeCancel := context.WithTimeout(context.Background(), exporterCloseTimeout)
			defer closeCancel()
			if closeErr := upload.Close(closeContext); closeErr != nil {
				logger.Warn("diagnostics not fully uploaded", "error", closeErr)
			}
		}
		return err
	}
}

func newExporter(projected config.Projected, options Options, logger *slog.Logger) (*exporter.Exporter, error) {
	upload, err := exporter.New(exporter.Config{
		URL:              strings.TrimRight(projected.IntakeURL, "/") + exporter.DiagnosticsPath,
		Client:           options.HTTPClient,
		BufferBytes:      projected.UploadBufferBytes,
		UploadsPerSecond: projected.UploadsPerSecond,
		Compression:      projected.Compression,
		Clock:            options.Clock,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating diagnostics exporter: %w", err)
	}
	return upload, nil
}

// setLevel applies a configured level name, keeping the current level
// when the name is empty or unknown.
func setLevel(level *slog.LevelVar, name string) {
	if name == "" {
		return
	}
	if parsed, err := config.ParseLevel(name); err == nil {
		level.Set(parsed)
	}
}

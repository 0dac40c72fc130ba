// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/remoteconfig"
	"github.com/bureau-foundation/liveprobe/lib/worker"
)

const (
	// metricsShutdownTimeout bounds the graceful close of /metrics.
	metricsShutdownTimeout = 5 * time.Second

	// stopSlack is added to the worker grace period when bounding
	// Coordinator.Stop, so SIGKILL has time to land.
	stopSlack = 2 * time.Second
)

type agent struct {
	cfg    *config.Config
	level  *slog.LevelVar
	logger *slog.Logger

	metrics     *prometheus.Registry
	registry    *remoteconfig.Registry
	coordinator *worker.Coordinator
	server      *remoteconfig.Server
}

func newAgent(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger, spawner worker.Spawner) *agent {
	setLevel(level, cfg.Logging.Level)
	cfg.Logger = logger

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := remoteconfig.NewRegistry(logger.With("component", "registry"))
	return &agent{
		cfg:      cfg,
		level:    level,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		coordinator: worker.New(worker.Options{
			Spawner: spawner,
			Logger:  logger.With("component", "coordinator"),
			Metrics: worker.NewMetrics(metrics),
		}),
		server: remoteconfig.NewServer(cfg.Control.SocketPath, registry, 0, logger.With("component", "control")),
	}
}

// run starts the worker and serves the control socket and metrics
// until ctx is cancelled, then stops the worker.
func (a *agent) run(ctx context.Context) error {
	if !a.cfg.Debugger.Enabled {
		a.logger.Warn("dynamic instrumentation is disabled; probes will be rejected")
	}
	if err := a.coordinator.Start(a.cfg, a.registry); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Serve(groupContext)
	})
	if a.cfg.Control.MetricsAddress != "" {
		group.Go(func() error {
			return a.serveMetrics(groupContext, a.cfg.Control.MetricsAddress)
		})
	}

	a.logger.Info("liveprobe agent running",
		"service", a.cfg.Service.Name,
		"environment", a.cfg.Environment,
		"runtime_id", a.coordinator.RuntimeID(),
		"control_socket", a.cfg.Control.SocketPath,
		"metrics_address", a.cfg.Control.MetricsAddress,
		"intake", a.cfg.IntakeURL(),
	)

	err := group.Wait()

	stopContext, cancel := context.WithTimeout(context.Background(), a.cfg.Worker.GracePeriod+stopSlack)
	defer cancel()
	a.coordinator.Stop(stopContext)

	if err != nil {
		return err
	}
	a.logger.Info("liveprobe agent stopped")
	return nil
}

// reconfigure applies a reloaded configuration. Only settings that the
// worker projection carries, plus the host log level, take effect
// without a restart.
func (a *agent) reconfigure(cfg *config.Config) {
	// The runtime id names the process, not the loaded file.
	cfg.RuntimeID = a.cfg.RuntimeID
	cfg.Logger = a.logger
	setLevel(a.level, cfg.Logging.Level)
	a.coordinator.Configure(cfg)
	a.logger.Info("configuration reloaded", "debugger_enabled", cfg.Debugger.Enabled)
}

func (a *agent) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	return mux
}

func (a *agent) serveMetrics(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	server := &http.Server{
		Handler:           a.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownContext)
	}()

	a.logger.Info("metrics listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}
	return nil
}

// setLevel applies a configured level name. Validate has already
// rejected unknown names, so a parse failure leaves the level alone.
func setLevel(level *slog.LevelVar, name string) {
	if parsed, err := config.ParseLevel(name); err == nil {
		level.Set(parsed)
	}
}

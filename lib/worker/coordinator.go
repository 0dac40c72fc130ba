// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bureau-foundation/liveprobe/lib/channel"
	"github.com/bureau-foundation/liveprobe/lib/codec"
	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
	"github.com/bureau-foundation/liveprobe/lib/probe"
	"github.com/bureau-foundation/liveprobe/lib/probefile"
	"github.com/bureau-foundation/liveprobe/lib/remoteconfig"
)

// Options configures a Coordinator.
type Options struct {
	// Spawner starts the isolated worker. Required.
	Spawner Spawner

	// Logger receives the Coordinator's own logs. Nil means
	// slog.Default().
	Logger *slog.Logger

	// Metrics records worker and acknowledgment counters. Nil creates
	// unregistered collectors.
	Metrics *Metrics
}

// Coordinator owns at most one isolated worker at a time: its handle,
// the host ends of the probe, log and config channels, and the table
// of acknowledgments waiting on the worker.
//
// Start and Stop are serialised. Acknowledgment callbacks and the
// remote-configuration client are always called without internal locks
// held.
type Coordinator struct {
	spawner Spawner
	logger  *slog.Logger
	metrics *Metrics

	// lifecycle serialises Start, Stop and crash cleanup. It is never
	// held while acknowledgment callbacks run, so a callback may Start
	// or Stop the Coordinator.
	lifecycle sync.Mutex

	// mu guards live, runtimeID and nextAckID.
	mu        sync.Mutex
	live      *liveContext
	runtimeID string
	nextAckID uint64
}

// liveContext is everything created by one Start and torn down by the
// matching cleanup.
type liveContext struct {
	handle Handle
	remote remoteconfig.Client

	probes *channel.Endpoint
	logs   *channel.Endpoint
	config *channel.Endpoint

	// acks maps ack ids to the issuer's callbacks. Guarded by
	// Coordinator.mu.
	acks map[uint64]remoteconfig.AckFunc
}

// New returns a Coordinator that has not been started.
func New(options Options) *Coordinator {
	if options.Spawner == nil {
		panic("worker.New: Spawner is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Coordinator{
		spawner: options.Spawner,
		logger:  logger,
		metrics: metrics,
	}
}

// RuntimeID returns the runtime id of the host configuration passed to
// the most recent Start, which workers receive as their parent id. It
// is empty before the first Start.
func (c *Coordinator) RuntimeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtimeID
}

// IsStarted reports whether a worker is currently alive.
func (c *Coordinator) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

// Start spawns the worker with cfg's projection, registers the
// LiveDebugging handler with remote, and starts loading cfg's probe
// file. It is a no-op if already started. The only error is a failure
// to create the channels or spawn the worker, in which case nothing is
// left registered.
func (c *Coordinator) Start(cfg *config.Config, remote remoteconfig.Client) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.IsStarted() {
		return nil
	}

	live := &liveContext{
		remote: remote,
		acks:   make(map[uint64]remoteconfig.AckFunc),
	}
	remoteFiles, err := live.openChannels()
	if err != nil {
		return err
	}

	startup := ipc.StartupData{
		Config:          config.Project(cfg),
		ParentRuntimeID: cfg.RuntimeID,
		ParentPID:       os.Getpid(),
	}

	// Hold mu across spawn and publish so lifecycle events for this
	// worker never observe a half-initialised Coordinator.
	c.mu.Lock()
	handle, err := c.spawner.Spawn(startup, remoteFiles, func(event Event) {
		c.handleEvent(live, event)
	})
	if err != nil {
		c.mu.Unlock()
		live.closeChannels()
		return fmt.Errorf("spawning worker: %w", err)
	}
	live.handle = handle
	c.live = live
	c.runtimeID = cfg.RuntimeID
	c.mu.Unlock()

	c.metrics.starts.Inc()

	hostLogger := cfg.Logger
	if hostLogger == nil {
		hostLogger = c.logger
	}
	go c.serveAcks(live)
	go c.serveLogs(live, hostLogger.With("source", "worker"))

	remote.SetProductHandler(remoteconfig.LiveDebugging, func(action probe.Action, p probe.Probe, id string, ack remoteconfig.AckFunc) {
		c.forwardRemote(live, action, p, id, ack)
	})

	probefile.Load(cfg.Debugger.ProbeFile, c.logger, func(probes []probe.Probe) {
		for _, p := range probes {
			c.forwardStatic(live, p)
		}
	})

	c.logger.Info("worker started", "runtime_id", cfg.RuntimeID)
	return nil
}

// openChannels creates the three channel pairs, keeping the host ends
// in live and returning the worker ends.
func (live *liveContext) openChannels() (RemoteFiles, error) {
	var remote RemoteFiles
	var err error
	if live.probes, remote.Probes, err = channel.Pair(); err != nil {
		return RemoteFiles{}, fmt.Errorf("creating probe channel: %w", err)
	}
	if live.logs, remote.Logs, err = channel.Pair(); err != nil {
		live.closeChannels()
		remote.Close()
		return RemoteFiles{}, fmt.Errorf("creating log channel: %w", err)
	}
	if live.config, remote.Config, err = channel.Pair(); err != nil {
		live.closeChannels()
		remote.Close()
		return RemoteFiles{}, fmt.Errorf("creating config channel: %w", err)
	}
	return remote, nil
}

func (live *liveContext) closeChannels() {
	for _, endpoint := range []*channel.Endpoint{live.probes, live.logs, live.config} {
		if endpoint != nil {
			endpoint.Close()
		}
	}
}

// Configure re-projects cfg and posts it to the worker. It is a no-op
// if not started.
func (c *Coordinator) Configure(cfg *config.Config) {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live == nil {
		return
	}

	if err := live.config.Send(ipc.ConfigUpdate{Config: config.Project(cfg)}); err != nil {
		c.metrics.anomalies.WithLabelValues("send_failed").Inc()
		c.logger.Error("sending configuration to worker failed", "error", err)
	}
}

// Stop terminates the worker and cleans up. It blocks until the worker
// has exited: SIGTERM first, SIGKILL after the spawner's grace period
// or when ctx ends. It is a no-op if not started.
//
// If termination fails the failure is logged and every pending
// acknowledgment receives it; otherwise pending acknowledgments are
// resolved with nil.
func (c *Coordinator) Stop(ctx context.Context) {
	// Registered before the unlock so it runs after it.
	resolve := noPending
	defer func() { resolve() }()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if live == nil {
		return
	}

	err := live.handle.Terminate(ctx)
	if err != nil {
		c.metrics.exits.WithLabelValues("stop_failed").Inc()
		c.logger.Error("stopping worker failed", "error", err)
	} else {
		c.metrics.exits.WithLabelValues("stopped").Inc()
		c.logger.Info("worker stopped")
	}
	resolve = c.cleanup(live, err)
}

// handleEvent reacts to one lifecycle event of the worker owned by
// live.
func (c *Coordinator) handleEvent(live *liveContext, event Event) {
	switch event.Kind {
	case EventOnline:
		c.logger.Debug("worker online")
	case EventError:
		c.logger.Error("worker error", "error", event.Err)
	case EventMessageError:
		c.logger.Error("worker could not decode a message", "error", event.Err)
	case EventExited:
		c.handleExit(live, event.ExitCode)
	}
}

func (c *Coordinator) handleExit(live *liveContext, code int) {
	resolve := noPending
	defer func() { resolve() }()

	// Stop holds the lifecycle lock until its own cleanup is done, so
	// an exit caused by Stop finds live already retired here.
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.isLive(live) {
		return
	}
	c.metrics.exits.WithLabelValues("unexpected").Inc()
	c.logger.Error("worker exited unexpectedly", "exit_code", code)
	resolve = c.cleanup(live, &UnexpectedExitError{Code: code})
}

func (c *Coordinator) isLive(live *liveContext) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live == live
}

func noPending() {}

// cleanup retires live and returns a function that resolves every
// pending acknowledgment with err. Callers hold the lifecycle lock and
// must call the returned function after releasing it. Cleanup of an
// already retired context returns a no-op.
func (c *Coordinator) cleanup(live *liveContext, err error) (resolve func()) {
	c.mu.Lock()
	if c.live != live {
		c.mu.Unlock()
		return noPending
	}
	c.live = nil
	pending := live.acks
	live.acks = nil
	c.mu.Unlock()

	live.remote.RemoveProductHandler(remoteconfig.LiveDebugging)
	live.handle.Detach()
	live.closeChannels()
	c.metrics.pendingAcks.Set(0)

	ids := make([]uint64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	outcome := "aborted"
	if err == nil {
		outcome = "ok"
	}
	return func() {
		for _, id := range ids {
			c.metrics.acks.WithLabelValues(outcome).Inc()
			pending[id](err)
		}
	}
}

// forwardRemote mints an ack id, stores ack under it and sends the
// operation to the worker.
func (c *Coordinator) forwardRemote(live *liveContext, action probe.Action, p probe.Probe, configID string, ack remoteconfig.AckFunc) {
	c.mu.Lock()
	if c.live != live {
		c.mu.Unlock()
		ack(ErrNotStarted)
		return
	}
	c.nextAckID++
	ackID := c.nextAckID
	live.acks[ackID] = ack
	err := live.probes.Send(ipc.ProbeOperation{Action: action, Probe: p, AckID: ackID})
	if err != nil {
		delete(live.acks, ackID)
	}
	pending := len(live.acks)
	c.mu.Unlock()

	c.metrics.pendingAcks.Set(float64(pending))
	if err != nil {
		c.metrics.anomalies.WithLabelValues("send_failed").Inc()
		c.logger.Error("forwarding probe operation failed", "config_id", configID, "probe_id", p.ID, "error", err)
		ack(fmt.Errorf("forwarding %s of probe %s: %w", action, p.ID, err))
		return
	}
	c.metrics.operations.WithLabelValues(string(action), "remote").Inc()
	c.logger.Debug("forwarded probe operation",
		"action", action,
		"config_id", configID,
		"probe_id", p.ID,
		"version", p.Version,
		"ack_id", ackID,
	)
}

// forwardStatic sends a probe from the probe file as an apply that
// wants no acknowledgment.
func (c *Coordinator) forwardStatic(live *liveContext, p probe.Probe) {
	c.mu.Lock()
	if c.live != live {
		c.mu.Unlock()
		return
	}
	err := live.probes.Send(ipc.ProbeOperation{Action: probe.Apply, Probe: p})
	c.mu.Unlock()

	if err != nil {
		c.metrics.anomalies.WithLabelValues("send_failed").Inc()
		c.logger.Error("forwarding static probe failed", "probe_id", p.ID, "error", err)
		return
	}
	c.metrics.operations.WithLabelValues(string(probe.Apply), "file").Inc()
}

// serveAcks resolves acknowledgments arriving on the probe channel
// until it closes.
func (c *Coordinator) serveAcks(live *liveContext) {
	err := live.probes.Serve(func(raw codec.RawMessage) {
		var ack ipc.ProbeAck
		if err := codec.Unmarshal(raw, &ack); err != nil {
			c.metrics.anomalies.WithLabelValues("undecodable").Inc()
			c.logger.Error("undecodable message on probe channel", "error", err)
			return
		}
		c.resolve(live, ack)
	})
	if err != nil {
		c.logger.Error("probe channel failed", "error", err)
	}
}

func (c *Coordinator) resolve(live *liveContext, ack ipc.ProbeAck) {
	c.mu.Lock()
	if c.live != live {
		c.mu.Unlock()
		return
	}
	callback, ok := live.acks[ack.AckID]
	delete(live.acks, ack.AckID)
	pending := len(live.acks)
	c.mu.Unlock()

	if !ok {
		c.metrics.anomalies.WithLabelValues("unknown_ack").Inc()
		c.logger.Warn("acknowledgment for unknown operation", "ack_id", ack.AckID)
		return
	}
	c.metrics.pendingAcks.Set(float64(pending))

	var err error
	if ack.Error != "" {
		err = &RemoteError{Message: ack.Error}
		c.metrics.acks.WithLabelValues("error").Inc()
	} else {
		c.metrics.acks.WithLabelValues("ok").Inc()
	}
	callback(err)
}

// serveLogs replays worker log records on the host logger until the
// log channel closes.
func (c *Coordinator) serveLogs(live *liveContext, hostLogger *slog.Logger) {
	err := live.logs.Serve(func(raw codec.RawMessage) {
		var record ipc.LogRecord
		if err := codec.Unmarshal(raw, &record); err != nil {
			c.metrics.anomalies.WithLabelValues("undecodable").Inc()
			c.logger.Error("undecodable message on log channel", "error", err)
			return
		}
		hostLogger.Log(context.Background(), record.Level, record.Message, record.Args...)
	})
	if err != nil {
		c.logger.Error("log channel failed", "error", err)
	}
}

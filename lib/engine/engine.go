// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/liveprobe/lib/batch"
	"github.com/bureau-foundation/liveprobe/lib/clock"
	"github.com/bureau-foundation/liveprobe/lib/config"
	"github.com/bureau-foundation/liveprobe/lib/ipc"
	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// ErrDisabled fails applies while dynamic instrumentation is turned
// off in the configuration.
var ErrDisabled = errors.New("dynamic instrumentation is disabled")

// Engine is the probe catalog of one worker. It validates and installs
// probes, skips re-applies of identical content, and reports every
// status change as a diagnostic through a batching queue.
//
// Safe for concurrent use.
type Engine struct {
	installer Installer
	logger    *slog.Logger
	clock     clock.Clock
	queue     *batch.Queue
	parentID  string

	mu        sync.Mutex
	config    config.Projected
	installed map[string]installedProbe
}

type installedProbe struct {
	probe  probe.Probe
	digest string
}

// New creates an Engine from the worker's startup data. options.Sink
// is required.
func New(startup ipc.StartupData, options Options) *Engine {
	if options.Installer == nil {
		options.Installer = defaultInstaller(startup.Config)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Engine{
		installer: options.Installer,
		logger:    options.Logger,
		clock:     options.Clock,
		queue: batch.New(batch.Config{
			MaxBytes: startup.Config.MaxBatchBytes,
			MaxAge:   startup.Config.MaxBatchAge,
			OnFlush:  options.Sink,
			Clock:    options.Clock,
		}),
		parentID:  startup.ParentRuntimeID,
		config:    startup.Config,
		installed: make(map[string]installedProbe),
	}
}

func defaultInstaller(projected config.Projected) Installer {
	if projected.SourceRoot != "" {
		return &SourceInstaller{Root: projected.SourceRoot}
	}
	return NopInstaller{}
}

// Handle performs one probe operation.
func (e *Engine) Handle(operation ipc.ProbeOperation) error {
	switch operation.Action {
	case probe.Apply:
		return e.Apply(operation.Probe)
	case probe.Remove:
		return e.Remove(operation.Probe.ID)
	default:
		return fmt.Errorf("unknown action %q", operation.Action)
	}
}

// Apply installs p, replacing an installed probe with the same id. A
// probe identical to the installed one is a successful no-op; an older
// version than the installed one is rejected.
func (e *Engine) Apply(p probe.Probe) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.Validate(); err != nil {
		if p.ID != "" {
			e.emit(p, StatusError, err)
		}
		return err
	}
	digest, err := p.Digest()
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.ID, err)
	}

	if !e.config.DebuggerEnabled {
		return fmt.Errorf("probe %s: %w", p.ID, ErrDisabled)
	}

	current, replacing := e.installed[p.ID]
	if replacing && current.digest == digest {
		e.logger.Debug("probe unchanged", "probe_id", p.ID, "version", p.Version)
		return nil
	}
	if replacing && p.Version < current.probe.Version {
		return fmt.Errorf("probe %s: version %d is older than installed version %d", p.ID, p.Version, current.probe.Version)
	}

	e.emit(p, StatusReceived, nil)

	if replacing {
		if err := e.installer.Uninstall(current.probe); err != nil {
			err = fmt.Errorf("probe %s: removing version %d: %w", p.ID, current.probe.Version, err)
			e.emit(p, StatusError, err)
			return err
		}
		delete(e.installed, p.ID)
	}
	if err := e.installer.Install(p); err != nil {
		err = fmt.Errorf("probe %s: %w", p.ID, err)
		e.emit(p, StatusError, err)
		return err
	}

	e.installed[p.ID] = installedProbe{probe: p, digest: digest}
	e.emit(p, StatusInstalled, nil)
	e.logger.Info("probe installed",
		"probe_id", p.ID,
		"version", p.Version,
		"type", p.Type,
		"location", location(p),
	)
	return nil
}

// Remove uninstalls the probe with the given id. Removing a probe that
// is not installed succeeds.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.installed[id]
	if !ok {
		e.logger.Debug("remove of unknown probe", "probe_id", id)
		return nil
	}
	if err := e.installer.Uninstall(current.probe); err != nil {
		return fmt.Errorf("probe %s: %w", id, err)
	}
	delete(e.installed, id)
	e.logger.Info("probe removed", "probe_id", id, "version", current.probe.Version)
	return nil
}

// Configure replaces the projected configuration. Turning dynamic
// instrumentation off uninstalls every probe.
func (e *Engine) Configure(projected config.Projected) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.config = projected
	if projected.DebuggerEnabled || len(e.installed) == 0 {
		return
	}
	for id, current := range e.installed {
		if err := e.installer.Uninstall(current.probe); err != nil {
			e.logger.Warn("uninstalling probe failed", "probe_id", id, "error", err)
		}
		delete(e.installed, id)
	}
	e.logger.Info("dynamic instrumentation disabled, probes removed")
}

// Probes returns the installed probes ordered by id.
func (e *Engine) Probes() []probe.Probe {
	e.mu.Lock()
	defer e.mu.Unlock()

	probes := make([]probe.Probe, 0, len(e.installed))
	for _, current := range e.installed {
		probes = append(probes, current.probe)
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].ID < probes[j].ID })
	return probes
}

// Close flushes pending diagnostics.
func (e *Engine) Close() {
	e.queue.Flush()
}

// emit queues a status diagnostic. Callers hold e.mu.
func (e *Engine) emit(p probe.Probe, status Status, cause error) {
	diagnostic := newDiagnostic(e.config.Service, e.config.RuntimeID, e.parentID, p, status, cause, e.clock.Now())
	record, err := diagnostic.encode()
	if err != nil {
		e.logger.Error("encoding diagnostic failed", "probe_id", p.ID, "error", err)
		return
	}
	e.queue.Add(record)
}

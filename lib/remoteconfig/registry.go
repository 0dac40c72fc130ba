// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// ErrNoHandler is returned by Deliver when no handler is registered
// for the product.
var ErrNoHandler = errors.New("no handler registered")

// ErrUnknownConfig is returned by Deliver for a remove of a
// configuration that is not applied.
var ErrUnknownConfig = errors.New("configuration not applied")

// Applied describes one configuration currently applied.
type Applied struct {
	ConfigID string      `cbor:"config_id"`
	Probe    probe.Probe `cbor:"probe"`
	Digest   string      `cbor:"digest"`
}

// Registry is an in-memory [Client]. Operations enter through Deliver;
// the registered handler's acknowledgment decides whether the applied
// set changes.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[Product]ProductHandler
	applied  map[string]Applied
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[Product]ProductHandler),
		applied:  make(map[string]Applied),
	}
}

// SetProductHandler registers handler for product. For LiveDebugging,
// every currently applied configuration is replayed to the new handler
// in a separate goroutine; replay acknowledgments are only logged.
func (r *Registry) SetProductHandler(product Product, handler ProductHandler) {
	r.mu.Lock()
	r.handlers[product] = handler
	var replay []Applied
	if product == LiveDebugging {
		replay = r.appliedLocked()
	}
	r.mu.Unlock()

	if len(replay) == 0 {
		return
	}
	go func() {
		for _, entry := range replay {
			configID := entry.ConfigID
			handler(probe.Apply, entry.Probe, configID, r.onceAck(configID, func(err error) {
				if err != nil {
					r.logger.Warn("replaying configuration failed", "config_id", configID, "error", err)
				}
			}))
		}
	}()
}

// RemoveProductHandler unregisters the handler for product.
func (r *Registry) RemoveProductHandler(product Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, product)
}

// HasHandler reports whether a handler is registered for product.
func (r *Registry) HasHandler(product Product) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[product]
	return ok
}

// Deliver hands one LiveDebugging operation to the registered handler
// and waits for its acknowledgment or for ctx to end. On a successful
// acknowledgment the applied set is updated. For a remove, p is
// ignored and the probe recorded under configID is delivered instead.
//
// The handler is called without the registry lock held, so it may call
// back into the registry.
func (r *Registry) Deliver(ctx context.Context, action probe.Action, configID string, p probe.Probe) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	if configID == "" {
		return fmt.Errorf("config id is required")
	}

	r.mu.Lock()
	handler, ok := r.handlers[LiveDebugging]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", LiveDebugging, ErrNoHandler)
	}
	existing, applied := r.applied[configID]
	r.mu.Unlock()

	switch action {
	case probe.Apply:
		if err := p.Validate(); err != nil {
			return err
		}
		if applied && existing.Probe.ID != p.ID {
			return fmt.Errorf("config %s already carries probe %s", configID, existing.Probe.ID)
		}
	case probe.Remove:
		if !applied {
			return fmt.Errorf("config %s: %w", configID, ErrUnknownConfig)
		}
		p = existing.Probe
	}

	result := make(chan error, 1)
	handler(action, p, configID, r.onceAck(configID, func(err error) {
		result <- err
	}))

	select {
	case err := <-result:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for acknowledgment of %s: %w", configID, ctx.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch action {
	case probe.Apply:
		digest, err := p.Digest()
		if err != nil {
			return fmt.Errorf("digesting probe %s: %w", p.ID, err)
		}
		r.applied[configID] = Applied{ConfigID: configID, Probe: p, Digest: digest}
	case probe.Remove:
		delete(r.applied, configID)
	}
	return nil
}

// List returns the applied configurations ordered by config id.
func (r *Registry) List() []Applied {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appliedLocked()
}

func (r *Registry) appliedLocked() []Applied {
	entries := make([]Applied, 0, len(r.applied))
	for _, entry := range r.applied {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ConfigID < entries[j].ConfigID
	})
	return entries
}

// onceAck wraps deliver so that only the first acknowledgment counts.
// Later calls are a handler bug and are logged.
func (r *Registry) onceAck(configID string, deliver func(error)) AckFunc {
	var once sync.Once
	return func(err error) {
		called := false
		once.Do(func() {
			called = true
			deliver(err)
		})
		if !called {
			r.logger.Error("configuration acknowledged more than once", "config_id", configID)
		}
	}
}

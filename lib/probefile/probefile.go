// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package probefile reads the optional on-disk file of statically
// configured probes that the agent applies at startup.
//
// The file is a JSON array of probe definitions. Since it is written
// by hand it may be JSONC: // line comments, /* block comments */ and
// trailing commas are accepted. Every probe is
// validated; a single invalid or duplicate probe rejects the whole
// file so a typo never results in a partially applied set.
package probefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/liveprobe/lib/probe"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the probe array.
func Parse(data []byte) ([]probe.Probe, error) {
	stripped := jsonc.ToJSON(data)

	var probes []probe.Probe
	if err := json.Unmarshal(stripped, &probes); err != nil {
		return nil, fmt.Errorf("parsing probes: %w", err)
	}

	var errs []error
	seen := make(map[string]int, len(probes))
	for index, p := range probes {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", index, err))
			continue
		}
		if first, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("entry %d: duplicate probe id %q (first at entry %d)", index, p.ID, first))
			continue
		}
		seen[p.ID] = index
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return probes, nil
}

// Read reads a probe file from disk and parses it.
func Read(path string) ([]probe.Probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading probe file: %w", err)
	}

	probes, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return probes, nil
}

// Load reads the probe file at path in a new goroutine and passes the
// probes to onProbes. An empty path is a no-op. A read or parse failure
// is logged and onProbes is not called; the caller is never disturbed.
// On success onProbes is called exactly once, possibly with an empty
// slice.
//
// The returned channel is closed once the attempt has finished,
// including the onProbes call.
func Load(path string, logger *slog.Logger, onProbes func([]probe.Probe)) <-chan struct{} {
	done := make(chan struct{})
	if path == "" {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		probes, err := Read(path)
		if err != nil {
			logger.Error("loading probe file failed", "path", path, "error", err)
			return
		}
		logger.Debug("loaded probe file", "path", path, "probes", len(probes))
		onProbes(probes)
	}()
	return done
}

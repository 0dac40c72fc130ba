// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the liveprobe
// agent and projects it into the plain snapshot the isolated worker
// receives.
//
// Configuration is loaded from a single file specified by either the
// LIVEPROBE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults to warn-level
// logging.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// [Project] is the boundary between host and worker: it copies only
// service identity, intake location, source-control metadata, feature
// toggles, capture limits, redaction lists and batching budgets. The
// host-only Logger field never leaves the host.
package config

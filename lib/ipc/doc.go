// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types exchanged between
// the agent host and its isolated worker. Both lib/worker (host side)
// and lib/engine (worker side) import this package so the wire types
// are defined once rather than mirrored.
//
// Four channels connect the two sides:
//
//   - probe: [ProbeOperation] host to worker, [ProbeAck] worker to host
//   - log: [LogRecord] worker to host
//   - config: [ConfigUpdate] host to worker
//   - control (forked workers only): [StartupData] host to worker once,
//     then [LifecycleReport] worker to host
package ipc

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Liveprobe-agent hosts the dynamic instrumentation engine for one
// service. It keeps the engine in a forked worker process so that a
// misbehaving probe can crash or hang the worker without taking the
// agent down, and it restarts the worker when it exits unexpectedly.
//
// Data flow:
//
//	liveprobe apply → control socket → registry → Coordinator → worker engine
//	worker engine → diagnostics batch → exporter → intake /debugger/v1/diagnostics
//
// The agent serves:
//   - the control socket (control.socket_path) for apply, remove and list
//   - Prometheus metrics on control.metrics_address, when set
//
// SIGHUP reloads the configuration file and pushes the new projection
// to the running worker. SIGINT and SIGTERM stop the worker and exit.
//
// The "worker" subcommand is the entry point of the forked process and
// is not meant to be run by hand.
package main

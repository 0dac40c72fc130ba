// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the instrumentation engine in an isolated
// context and keeps probes flowing to it.
//
// A [Coordinator] owns at most one worker at a time. Start creates
// three channel pairs (probes, logs, config), hands the worker ends to
// a [Spawner] together with the projected configuration, registers the
// LIVE_DEBUGGING handler with the remote-configuration client and
// feeds the static probe file. Every remote operation gets an ack id;
// the worker answers each with a [ipc.ProbeAck] and the Coordinator
// resolves the stored callback. Stop, or an unexpected exit of the
// worker, tears everything down and resolves every pending callback.
//
// Two spawners exist:
//
//   - [ProcessSpawner] forks the agent binary's hidden worker
//     subcommand, which calls [RunChild]. A crash or deadlock in the
//     engine cannot take the host with it.
//   - [InProcessSpawner] runs the entry function in a goroutine. Used
//     for embedding and tests.
package worker

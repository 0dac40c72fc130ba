// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the runtime inside the isolated worker.
//
// [NewEntry] builds the worker's entry function: it serves probe
// operations from the probe channel, applies them to an [Engine] and
// acknowledges each one that carries an ack id, applies configuration
// updates from the config channel, and forwards its own logs to the
// host through a [ForwardingHandler] on the log channel.
//
// Every probe status change (RECEIVED, INSTALLED, ERROR) becomes a
// JSON diagnostic. Diagnostics are batched by size and age with
// lib/batch and uploaded by lib/exporter.
package engine

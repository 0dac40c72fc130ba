// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch combines individually serialized JSON records into
// JSON-array payloads, flushing when either a byte budget or a time
// budget is reached.
//
// The queue never blocks or slows its producers. It bounds the number
// of flushes relative to the record volume: with a 5 second age and a
// 1 MB budget, a steady trickle of diagnostics costs one upload every
// five seconds instead of one per record.
//
// The age is measured from the first record of each batch, not from
// the most recent one, so a busy producer cannot postpone a flush
// indefinitely.
package batch

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package exporter uploads batched JSON diagnostics to the agent's
// intake over HTTP.
//
// Data flow:
//
//	batch.Queue flush → Exporter.Export → Buffer → shipper → POST <intake>/debugger/v1/diagnostics
//
// The buffer is bounded in bytes and drops the oldest batches when the
// intake cannot keep up. The shipper is rate limited, optionally
// compresses with zstd, and retries transient failures with
// exponential backoff (1s → 30s cap). Batches the intake rejects with
// a 4xx status are dropped. Close makes one final drain pass.
package exporter

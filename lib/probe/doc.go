// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe defines the operator-authored probe definition and the
// operations that carry it between the configuration source, the host
// coordinator, and the isolated worker.
//
// A [Probe] is immutable once issued. An update is a new Probe with the
// same ID and a higher Version; the coordinator never mutates a probe,
// it only forwards it. The JSON field names match the remote
// configuration wire format, so the same struct decodes the on-disk
// probe file, travels over CBOR channels (via fxamacker's json-tag
// fallback), and is echoed back in diagnostics.
//
// [Probe.Validate] checks structural requirements before a probe is
// accepted into a catalog. [Probe.Digest] returns a stable BLAKE3
// content hash used to recognise re-deliveries of an identical probe.
package probe

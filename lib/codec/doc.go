// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec fixes the CBOR modes used on every internal wire: the
// probe, log and config channels between agent and worker, the
// worker's startup channel, and the operator control socket. Anything
// that leaves the machine or is written by hand (probe files, intake
// uploads, CLI output) is JSON instead.
//
// Types that are only ever CBOR carry `cbor` tags. probe.Probe is read
// from JSON and forwarded as CBOR, so it carries `json` tags only;
// fxamacker/cbor falls back to them.
package codec

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel provides the duplex, message-oriented pipes between
// the agent host and its isolated worker.
//
// A pair is an AF_UNIX stream socketpair. One side is wrapped in an
// [Endpoint] and retained by the creator; the other is returned as an
// *os.File whose ownership moves to the worker (as an inherited file
// descriptor for a forked process, or via [FromFile] for an in-process
// worker). Messages are CBOR items (lib/codec) written back to back on
// the stream.
//
// [Endpoint.Send] encodes the value immediately, so later mutation of
// the value by the caller is never observed by the peer, and queues
// the bytes on an unbounded FIFO drained by a writer goroutine. Send
// therefore never blocks on a slow or stalled peer. Messages sent on
// one endpoint arrive in send order; there is no ordering across
// endpoints.
package channel

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remoteconfig connects probe definitions from an operator or
// control service to whatever consumes them.
//
// The consumer side is the [Client] contract: a consumer registers a
// [ProductHandler] for the [LiveDebugging] product and receives every
// apply or remove together with an [AckFunc] it must call exactly once.
//
// [Registry] is the in-process implementation of that contract. It
// tracks which configurations are currently applied, enforces the
// exactly-once acknowledgment rule, and replays the applied set to a
// newly registered handler so a restarted consumer converges on the
// same probes.
//
// [Server] exposes a Registry on a Unix socket using one CBOR
// request-response per connection, with actions "apply", "remove" and
// "list". [ControlClient] is the matching client used by the operator
// CLI.
package remoteconfig

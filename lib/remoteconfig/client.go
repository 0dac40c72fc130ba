// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remoteconfig

import "github.com/bureau-foundation/liveprobe/lib/probe"

// Product names a class of remote configuration.
type Product string

// LiveDebugging carries probe definitions.
const LiveDebugging Product = "LIVE_DEBUGGING"

// AckFunc reports the outcome of one delivered operation. A nil error
// means the operation was applied. It must be called exactly once.
type AckFunc func(err error)

// ProductHandler receives one operation for a product. id identifies
// the configuration the probe came from.
type ProductHandler func(action probe.Action, p probe.Probe, id string, ack AckFunc)

// Client is the remote-configuration contract consumed by the worker
// Coordinator.
type Client interface {
	// SetProductHandler registers handler for product, replacing any
	// previous handler.
	SetProductHandler(product Product, handler ProductHandler)

	// RemoveProductHandler unregisters the handler for product.
	RemoveProductHandler(product Product)
}

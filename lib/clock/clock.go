// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that batching and upload
// retries depend on.
type Clock interface {
	Now() time.Time

	// After delivers the time on the returned channel once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The fake clock calls f
	// from inside Advance, or before returning when d <= 0.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc. Stop reports whether the call
// was still pending; false does not imply the callback has returned.
// *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

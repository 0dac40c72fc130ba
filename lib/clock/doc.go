// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the diagnostics pipeline run on a clock tests can
// drive. The batch queue arms a timer per open batch and the exporter
// waits between upload attempts; with [Fake] a test ages a batch or
// expires a backoff by calling Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	queue := batch.New(batch.Config{MaxAge: time.Second, OnFlush: f, Clock: fake})
//	queue.Add(`{"a":1}`)
//	fake.Advance(time.Second) // flushes before Advance returns
//
// A timer armed by another goroutine may not be registered yet when
// the test calls Advance; WaitForTimers closes that gap.
package clock

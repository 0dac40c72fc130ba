// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the helpers shared by liveprobe's tests. The
// wait helpers are the only place tests use wall-clock timeouts;
// timers inside the code under test run on lib/clock's fake.
package testutil

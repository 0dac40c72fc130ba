// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// TB is the part of testing.TB the wait helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed. format and args name
// what was awaited.
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, format string, args ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", fmt.Sprintf(format, args...))
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", fmt.Sprintf(format, args...), timeout)
	}
	var zero T
	return zero
}

// RequireClosed waits for ch to be closed or to deliver a value.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, format string, args ...any) {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: not closed within %v", fmt.Sprintf(format, args...), timeout)
	}
}

// Eventually polls condition every millisecond until it holds or
// timeout passes. Use it only where no event signals the change, such
// as state applied on an independent channel.
func Eventually(t TB, timeout time.Duration, condition func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout) //nolint:realclock test hang prevention
	for !condition() {
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("%s: condition not met within %v", fmt.Sprintf(format, args...), timeout)
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling
	}
}

// SocketDir returns a fresh directory directly under /tmp, removed when
// the test ends. Paths under t.TempDir() can exceed the 108-byte
// sun_path limit of Unix sockets.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "liveprobe-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return directory
}

var sequence atomic.Uint64

// UniqueID returns prefix-N with N unique within the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, sequence.Add(1))
}

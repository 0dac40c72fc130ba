// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"strings"
	"testing"
)

// batchOf returns a size-byte batch whose first byte is marker.
func batchOf(marker byte, size int) []byte {
	data := []byte(strings.Repeat(" ", size))
	data[0] = marker
	return data
}

func TestBufferFIFOOrdering(t *testing.T) {
	buffer := NewBuffer(1024)
	batches := []string{`[{"a":1}]`, `[{"b":2}]`, `[{"c":3}]`}
	for _, batch := range batches {
		if err := buffer.Push([]byte(batch)); err != nil {
			t.Fatalf("Push(%s): %v", batch, err)
		}
	}

	for _, want := range batches {
		if got := string(buffer.Peek()); got != want {
			t.Fatalf("Peek = %s, want %s", got, want)
		}
		buffer.Pop()
	}
	if buffer.Len() != 0 {
		t.Fatalf("Len = %d after draining", buffer.Len())
	}
}

func TestBufferSizeTracking(t *testing.T) {
	buffer := NewBuffer(1024)
	buffer.Push(batchOf('a', 100))
	buffer.Push(batchOf('b', 200))
	if buffer.SizeBytes() != 300 {
		t.Fatalf("SizeBytes = %d, want 300", buffer.SizeBytes())
	}
	buffer.Pop()
	if buffer.SizeBytes() != 200 {
		t.Fatalf("SizeBytes after Pop = %d, want 200", buffer.SizeBytes())
	}
}

func TestBufferDropsOldestOnOverflow(t *testing.T) {
	buffer := NewBuffer(500)
	for marker := byte('0'); marker < '5'; marker++ {
		if err := buffer.Push(batchOf(marker, 100)); err != nil {
			t.Fatalf("Push(%c): %v", marker, err)
		}
	}

	// 300 more bytes evicts the three oldest batches.
	if err := buffer.Push(batchOf('X', 300)); err != nil {
		t.Fatalf("Push(big): %v", err)
	}
	if buffer.Dropped() != 3 || buffer.Len() != 3 {
		t.Fatalf("Dropped = %d, Len = %d; want 3 and 3", buffer.Dropped(), buffer.Len())
	}
	if first := buffer.Peek()[0]; first != '3' {
		t.Fatalf("oldest remaining batch = %c, want 3", first)
	}
}

func TestBufferRejectsOversizedAndEmpty(t *testing.T) {
	buffer := NewBuffer(100)
	if err := buffer.Push(batchOf('x', 101)); err == nil {
		t.Error("oversized batch accepted")
	}
	if err := buffer.Push(nil); err == nil {
		t.Error("empty batch accepted")
	}
	if buffer.Len() != 0 || buffer.Dropped() != 0 {
		t.Fatalf("rejected pushes changed the buffer: Len %d, Dropped %d", buffer.Len(), buffer.Dropped())
	}
}

func TestBufferEmptyPeekAndPop(t *testing.T) {
	buffer := NewBuffer(100)
	if data := buffer.Peek(); data != nil {
		t.Fatalf("Peek on empty buffer = %q", data)
	}
	buffer.Pop()
	if buffer.Len() != 0 {
		t.Fatalf("Len = %d", buffer.Len())
	}
}

func TestBufferNotifyCoalesces(t *testing.T) {
	buffer := NewBuffer(1024)
	notify := buffer.Notify()

	select {
	case <-notify:
		t.Fatal("signal before any push")
	default:
	}

	buffer.Push([]byte("[1]"))
	buffer.Push([]byte("[2]"))

	select {
	case <-notify:
	default:
		t.Fatal("no signal after push")
	}
	select {
	case <-notify:
		t.Fatal("two pushes queued two signals")
	default:
	}
}

func TestNewBufferPanicsOnNonPositiveMaxSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewBuffer(0) did not panic")
		}
	}()
	NewBuffer(0)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// Buffer is a byte-bounded FIFO of encoded batches waiting for upload.
// When a Push would exceed the byte limit the oldest batches are
// dropped until the new one fits, so a slow or unreachable intake
// costs old diagnostics rather than memory.
//
// Notify (capacity 1) wakes the shipper when data arrives.
type Buffer struct {
	mu        sync.Mutex
	entries   *queue.Queue // of []byte
	totalSize int
	maxSize   int
	dropped   uint64
	notify    chan struct{}
}

// NewBuffer creates a Buffer holding at most maxSize bytes. maxSize
// must be positive.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		panic(fmt.Sprintf("exporter: buffer maxSize must be positive, got %d", maxSize))
	}
	return &Buffer{
		entries: queue.New(),
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push appends a batch, evicting the oldest batches until it fits. A
// batch larger than the whole buffer or an empty batch is rejected.
func (b *Buffer) Push(data []byte) error {
	size := len(data)
	if size > b.maxSize {
		return fmt.Errorf("batch of %d bytes exceeds upload buffer of %d bytes", size, b.maxSize)
	}
	if size == 0 {
		return fmt.Errorf("refusing to buffer an empty batch")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.totalSize+size > b.maxSize && b.entries.Length() > 0 {
		evicted := b.entries.Remove().([]byte)
		b.totalSize -= len(evicted)
		b.dropped++
	}

	b.entries.Add(data)
	b.totalSize += size

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the oldest batch without removing it, or nil.
func (b *Buffer) Peek() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries.Length() == 0 {
		return nil
	}
	return b.entries.Peek().([]byte)
}

// Pop removes the oldest batch. No-op when empty.
func (b *Buffer) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries.Length() == 0 {
		return
	}
	evicted := b.entries.Remove().([]byte)
	b.totalSize -= len(evicted)
}

// Len returns the number of buffered batches.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Length()
}

// SizeBytes returns the total size of the buffered batches.
func (b *Buffer) SizeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// Dropped returns how many batches were evicted since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Notify receives a signal (at most one pending) after each Push.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}

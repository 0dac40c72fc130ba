// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/liveprobe/lib/clock"
)

// DefaultMaxAge is the batch age used when Config.MaxAge is unset.
const DefaultMaxAge = time.Second

// Config holds the parameters for a [Queue].
type Config struct {
	// MaxBytes is the size budget of one flushed payload, including
	// the brackets and separators. Zero or negative disables the size
	// trigger. A single record larger than the budget is still
	// accepted and flushed alone.
	MaxBytes int

	// MaxAge is how long the first record of a batch may wait before
	// the batch is flushed. Zero or negative means DefaultMaxAge.
	MaxAge time.Duration

	// OnFlush receives each closed JSON array. Calls are made without
	// the queue's lock held and in batch order; OnFlush may call Add.
	OnFlush func(payload string)

	// Clock arms the age timer. Nil means clock.Real().
	Clock clock.Clock
}

// Queue accumulates serialized records into a JSON array.
//
// Safe for concurrent use. Records added from one goroutine appear in
// flushed payloads in the order they were added.
type Queue struct {
	maxBytes int
	maxAge   time.Duration
	onFlush  func(payload string)
	clock    clock.Clock

	mu sync.Mutex

	// open batch state; timer is nil when no batch is open.
	builder    strings.Builder
	size       int
	timer      clock.Timer
	generation uint64

	// ready holds closed payloads awaiting delivery. delivering is
	// true while some goroutine is draining ready, which keeps
	// OnFlush calls ordered and lets OnFlush re-enter Add.
	ready      []string
	delivering bool
}

// New creates a Queue. Panics if OnFlush is nil.
func New(config Config) *Queue {
	if config.OnFlush == nil {
		panic("batch: OnFlush is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	return &Queue{
		maxBytes: config.MaxBytes,
		maxAge:   config.MaxAge,
		onFlush:  config.OnFlush,
		clock:    config.Clock,
	}
}

// Add appends one serialized JSON value, sized by its byte length.
func (q *Queue) Add(record string) {
	q.AddSized(record, len(record))
}

// AddSized appends one serialized JSON value whose encoded size the
// caller already knows.
func (q *Queue) AddSized(record string, size int) {
	q.mu.Lock()

	if q.timer == nil {
		q.openLocked(record, size)
		q.mu.Unlock()
		return
	}

	// One byte for the separator, one for the closing bracket. After
	// the flush the record is added again and opens the next batch.
	if q.maxBytes > 0 && q.size+size+2 > q.maxBytes {
		q.closeLocked()
		q.mu.Unlock()
		q.deliver()
		q.AddSized(record, size)
		return
	}

	q.builder.WriteByte(',')
	q.builder.WriteString(record)
	q.size += size + 1
	q.mu.Unlock()
}

// Flush closes and delivers the open batch immediately. No-op when no
// batch is open. Used to drain the queue on shutdown.
func (q *Queue) Flush() {
	q.mu.Lock()
	if q.timer == nil {
		q.mu.Unlock()
		return
	}
	q.closeLocked()
	q.mu.Unlock()
	q.deliver()
}

// openLocked starts a new batch holding record and arms its timer.
// The timer only flushes the batch generation it was armed for.
func (q *Queue) openLocked(record string, size int) {
	q.builder.WriteByte('[')
	q.builder.WriteString(record)
	q.size = size + 1
	q.generation++
	generation := q.generation
	q.timer = q.clock.AfterFunc(q.maxAge, func() { q.expire(generation) })
}

// expire is the timer callback for one batch generation.
func (q *Queue) expire(generation uint64) {
	q.mu.Lock()
	if q.timer == nil || q.generation != generation {
		q.mu.Unlock()
		return
	}
	q.closeLocked()
	q.mu.Unlock()
	q.deliver()
}

// closeLocked terminates the open batch, moves it to the ready list,
// and resets the batch state so a subsequent Add starts fresh.
func (q *Queue) closeLocked() {
	q.builder.WriteByte(']')
	payload := q.builder.String()

	q.timer.Stop()
	q.timer = nil
	q.builder = strings.Builder{}
	q.size = 0

	q.ready = append(q.ready, payload)
}

// deliver hands ready payloads to OnFlush in order. Only one goroutine
// delivers at a time; others leave their payloads for it.
func (q *Queue) deliver() {
	q.mu.Lock()
	if q.delivering {
		q.mu.Unlock()
		return
	}
	q.delivering = true
	for len(q.ready) > 0 {
		payload := q.ready[0]
		q.ready[0] = ""
		q.ready = q.ready[1:]
		q.mu.Unlock()

		q.onFlush(payload)

		q.mu.Lock()
	}
	q.delivering = false
	q.mu.Unlock()
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Timers fire inside Advance,
// ordered by deadline and then by registration. A firing callback may
// arm new timers but must not call Advance.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	timers   timerHeap
	sequence uint64

	// armed is broadcast whenever a timer is added.
	armed *sync.Cond
}

// Fake returns a FakeClock reading start. It is safe for concurrent
// use.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.armed = sync.NewCond(&c.mu)
	return c
}

type fakeTimer struct {
	clock *FakeClock
	when  time.Time
	order uint64
	fire  func(now time.Time)

	// index is the position in the heap, or -1 once popped or stopped.
	index int
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	delivered := make(chan time.Time, 1)
	if d <= 0 {
		delivered <- c.Now()
		return delivered
	}
	c.schedule(d, func(now time.Time) { delivered <- now })
	return delivered
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, index: -1}
	}
	return c.schedule(d, func(time.Time) { f() })
}

func (c *FakeClock) schedule(d time.Duration, fire func(time.Time)) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence++
	timer := &fakeTimer{clock: c, when: c.now.Add(d), order: c.sequence, fire: fire}
	heap.Push(&c.timers, timer)
	c.armed.Broadcast()
	return timer
}

// Advance moves the clock forward by d, then fires every timer due at
// or before the new time, including timers armed by those callbacks.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	for len(c.timers) > 0 && !c.timers[0].when.After(target) {
		timer := heap.Pop(&c.timers).(*fakeTimer)
		c.mu.Unlock()
		timer.fire(target)
		c.mu.Lock()
	}
	c.mu.Unlock()
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.armed.Wait()
	}
}

// PendingCount returns how many timers have neither fired nor been
// stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// timerHeap orders timers by deadline, then registration.
type timerHeap []*fakeTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].order < h[j].order
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	timer := x.(*fakeTimer)
	timer.index = len(*h)
	*h = append(*h, timer)
}

func (h *timerHeap) Pop() any {
	old := *h
	last := len(old) - 1
	timer := old[last]
	old[last] = nil
	timer.index = -1
	*h = old[:last]
	return timer
}

// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"container/heap"
	"sync"
	"time"
)

// deadlineScheduler tracks per-request absolute deadlines and invokes a
// callback when the earliest one elapses. Its heap/index/timer fields are
// guarded by its own mutex, since the timer fires onFire from its own
// goroutine independent of whatever lock the owning component's
// insert/erase calls happen to hold. onFire itself runs outside that
// lock and is expected to acquire whatever lock guards the owning
// component's state (see Requestor.onTimeout). Modeled on cppwamp's
// internal TimeoutScheduler (insert/update/erase keyed by request id, a
// single pending timer for the earliest deadline).
type deadlineScheduler struct {
	mu      sync.Mutex
	items   deadlineHeap
	index   map[uint64]*deadlineItem
	timer   *time.Timer
	onFire  func(requestID uint64)
	nowFunc func() time.Time
}

type deadlineItem struct {
	requestID uint64
	at        time.Time
	index     int
}

type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *deadlineHeap) Push(x any) {
	it := x.(*deadlineItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func newDeadlineScheduler(onFire func(requestID uint64)) *deadlineScheduler {
	return &deadlineScheduler{
		index:   make(map[uint64]*deadlineItem),
		onFire:  onFire,
		nowFunc: time.Now,
	}
}

// insert schedules requestID to fire onFire after d elapses. d<=0 means no
// timeout and is a no-op.
func (s *deadlineScheduler) insert(requestID uint64, d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &deadlineItem{requestID: requestID, at: s.nowFunc().Add(d)}
	s.index[requestID] = it
	heap.Push(&s.items, it)
	s.rearm()
}

// update replaces requestID's deadline with one d from now. If requestID
// had no deadline, one is added; d<=0 leaves it with none.
func (s *deadlineScheduler) update(requestID uint64, d time.Duration) {
	s.erase(requestID)
	s.insert(requestID, d)
}

// erase cancels requestID's deadline, if any. Erasing and completing a
// request must happen atomically with respect to the scheduler firing, so
// callers erase before invoking the request's completion.
func (s *deadlineScheduler) erase(requestID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.index[requestID]
	if !ok {
		return
	}
	delete(s.index, requestID)
	heap.Remove(&s.items, it.index)
	s.rearm()
}

func (s *deadlineScheduler) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[uint64]*deadlineItem)
	s.items = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// rearm resets the single pending timer to fire at the new earliest
// deadline, if any. Callers must hold s.mu.
func (s *deadlineScheduler) rearm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.items) == 0 {
		return
	}
	earliest := s.items[0]
	d := earliest.at.Sub(s.nowFunc())
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, func() {
		s.fireExpired()
	})
}

// fireExpired is invoked by the timer's own goroutine; it pops every item
// whose deadline has elapsed under s.mu, then invokes onFire for each
// outside the lock so onFire is free to acquire whatever lock guards the
// owning component's state (see Requestor.onTimeout) without risking
// lock-order inversion with insert/erase.
func (s *deadlineScheduler) fireExpired() {
	s.mu.Lock()
	now := s.nowFunc()
	var expired []uint64
	for len(s.items) > 0 && !s.items[0].at.After(now) {
		it := heap.Pop(&s.items).(*deadlineItem)
		delete(s.index, it.requestID)
		expired = append(expired, it.requestID)
	}
	s.rearm()
	s.mu.Unlock()

	for _, id := range expired {
		s.onFire(id)
	}
}

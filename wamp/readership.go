// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import "sync"

// Event is the subscriber-facing view of an incoming EVENT.
type Event struct {
	SubscriptionID uint64
	PublicationID  uint64
	Topic          string
	Details        map[string]any
	Args           []any
	Kwargs         map[string]any
}

// EventSlot handles one delivered event.
type EventSlot func(event Event)

// EventError reports an EventSlot panic, annotated with the subscription
// and publication ids of the event that triggered it. It never propagates
// back to the I/O loop; it is only ever observed via Readership.errors.
type EventError struct {
	SubscriptionID uint64
	PublicationID  uint64
	Topic          string
	Err            error
}

type matchUri struct {
	uri    string
	policy MatchPolicy
}

type eventListener struct {
	id   uint64
	slot EventSlot
}

type subscriptionRecord struct {
	topic      matchUri
	slots      map[uint64]*eventListener
	nextSlotID uint64
}

func (r *subscriptionRecord) addSlot(slot EventSlot) uint64 {
	r.nextSlotID++
	id := r.nextSlotID
	r.slots[id] = &eventListener{id: id, slot: slot}
	return id
}

func (r *subscriptionRecord) removeSlot(id uint64) { delete(r.slots, id) }

func (r *subscriptionRecord) empty() bool { return len(r.slots) == 0 }

// Readership tracks local subscriptions and dispatches incoming EVENTs to
// their slots, merging multiple local subscribers of the same topic+policy
// into one router-level subscription. Grounded on cppwamp's Readership
// (internal/readership.hpp).
type Readership struct {
	mu       sync.Mutex
	bySubID  map[uint64]*subscriptionRecord
	byTopic  map[matchUri]uint64
	executor Executor
	errors   chan EventError
}

func newReadership(executor Executor) *Readership {
	return &Readership{
		bySubID:  make(map[uint64]*subscriptionRecord),
		byTopic:  make(map[matchUri]uint64),
		executor: defaultExecutor(executor),
		errors:   make(chan EventError, 16),
	}
}

// Errors returns the channel on which EventSlot panics are reported.
// Readers should drain it; when the channel is full the new report is
// silently dropped (the report is best-effort, never blocking dispatch).
func (r *Readership) Errors() <-chan EventError { return r.errors }

// findLocalSubscription reports whether a subscription already exists for
// topic+policy (the caller can then add a slot without a wire round-trip).
func (r *Readership) findLocalSubscription(topic string, policy MatchPolicy) (subID uint64, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subID, found = r.byTopic[matchUri{uri: topic, policy: policy}]
	return subID, found
}

// addSlot attaches slot to an already-known local subscription.
func (r *Readership) addSlot(subID uint64, slot EventSlot) (slotID uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, found := r.bySubID[subID]
	if !found {
		return 0, false
	}
	return rec.addSlot(slot), true
}

// createSubscription records a brand-new router-assigned subscription id
// for topic+policy, with slot as its first local listener.
func (r *Readership) createSubscription(subID uint64, topic string, policy MatchPolicy, slot EventSlot) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := matchUri{uri: topic, policy: policy}
	if existing, ok := r.bySubID[subID]; ok {
		return existing.addSlot(slot)
	}
	rec := &subscriptionRecord{topic: key, slots: make(map[uint64]*eventListener)}
	slotID := rec.addSlot(slot)
	r.bySubID[subID] = rec
	r.byTopic[key] = subID
	return slotID
}

// unsubscribe removes one local slot. It reports whether that was the last
// slot for its subscription, meaning the caller must send UNSUBSCRIBE.
func (r *Readership) unsubscribe(subID, slotID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.bySubID[subID]
	if !ok {
		return false
	}
	rec.removeSlot(slotID)
	if !rec.empty() {
		return false
	}
	delete(r.byTopic, rec.topic)
	delete(r.bySubID, subID)
	return true
}

// onEvent dispatches msg to every local slot of its subscription. It
// reports whether a matching subscription was found.
func (r *Readership) onEvent(msg *Message) bool {
	r.mu.Lock()
	rec, ok := r.bySubID[msg.SubscriptionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	topic := rec.topic.uri
	listeners := make([]*eventListener, 0, len(rec.slots))
	for _, l := range rec.slots {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	event := Event{
		SubscriptionID: msg.SubscriptionID,
		PublicationID:  msg.PublicationID,
		Topic:          topic,
		Details:        msg.Options,
		Args:           msg.Args,
		Kwargs:         msg.Kwargs,
	}
	for _, l := range listeners {
		slot := l.slot
		r.executor.Post(func() {
			if err := safeInvokeEventSlot(slot, event); err != nil {
				r.reportEventError(EventError{
					SubscriptionID: event.SubscriptionID,
					PublicationID:  event.PublicationID,
					Topic:          event.Topic,
					Err:            err,
				})
			}
		})
	}
	return true
}

// safeInvokeEventSlot runs slot, converting a panic into a *Error the same
// way safeInvokeCallSlot does for call-slots (see wamp/registry.go).
func safeInvokeEventSlot(slot EventSlot, event Event) (err *Error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = panicToError(rv)
		}
	}()
	slot(event)
	return nil
}

// reportEventError posts ee without blocking dispatch; a slow or absent
// reader drops the report rather than stalling event delivery.
func (r *Readership) reportEventError(ee EventError) {
	select {
	case r.errors <- ee:
	default:
	}
}

// topicOf returns the topic URI of a known subscription, for diagnostics.
func (r *Readership) topicOf(subID uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.bySubID[subID]
	if !ok {
		return ""
	}
	return rec.topic.uri
}

// clear drops every local subscription record without notifying any
// router, used when the session is lost.
func (r *Readership) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySubID = make(map[uint64]*subscriptionRecord)
	r.byTopic = make(map[matchUri]uint64)
}

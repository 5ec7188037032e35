// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSender records every message sent and lets tests synthesize replies.
type fakeSender struct {
	mu   sync.Mutex
	sent []*Message
}

func (f *fakeSender) Send(ctx context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last() *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func TestRequestorRequestReply(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	done := make(chan struct{})
	var reply *Message
	var replyErr error
	go func() {
		reply, replyErr = r.request(context.Background(), NewSubscribe(0, map[string]any{}, "com.example.topic"), 0)
		close(done)
	}()

	deadline := time.After(time.Second)
	var sentID uint64
	for sentID == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for SUBSCRIBE to be sent")
		case <-time.After(time.Millisecond):
		}
		if msg := peer.last(); msg != nil {
			sentID = msg.RequestID
		}
	}

	r.onReply(NewSubscribed(sentID, 555))
	<-done

	if replyErr != nil {
		t.Fatalf("request() error = %v", replyErr)
	}
	if reply.SubscriptionID != 555 {
		t.Errorf("reply.SubscriptionID = %d, want 555", reply.SubscriptionID)
	}
}

func TestRequestorRequestErrorReply(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	done := make(chan struct{})
	var replyErr error
	go func() {
		_, replyErr = r.request(context.Background(), NewCall(0, map[string]any{}, "com.example.missing", nil, nil), 0)
		close(done)
	}()

	deadline := time.After(time.Second)
	var sentID uint64
	for sentID == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for CALL to be sent")
		case <-time.After(time.Millisecond):
		}
		if msg := peer.last(); msg != nil {
			sentID = msg.RequestID
		}
	}

	r.onReply(NewErrorMessage(KindCall, sentID, ErrURINoSuchProcedure, map[string]any{}, nil, nil))
	<-done

	var werr *Error
	if !errors.As(replyErr, &werr) || werr.URI != ErrURINoSuchProcedure {
		t.Errorf("request() error = %v, want wamp error %s", replyErr, ErrURINoSuchProcedure)
	}
}

func TestRequestorContextCancelUnblocks(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.request(ctx, NewCall(0, map[string]any{}, "com.example.slow", nil, nil), 0)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("request() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for canceled request to unblock")
	}
}

func TestRequestorTimeout(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	_, err := r.request(context.Background(), NewCall(0, map[string]any{}, "com.example.slow", nil, nil), 20*time.Millisecond)
	var werr *Error
	if !errors.As(err, &werr) || werr.URI != ErrURITimeout {
		t.Errorf("request() error = %v, want wamp.error.timeout", err)
	}
}

func TestRequestorAbandonAll(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	done := make(chan error, 1)
	go func() {
		_, err := r.request(context.Background(), NewCall(0, map[string]any{}, "com.example.slow", nil, nil), 0)
		done <- err
	}()

	deadline := time.After(time.Second)
	for peer.last() == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for request to be sent")
		case <-time.After(time.Millisecond):
		}
	}

	wantErr := errors.New("session ended")
	r.abandonAll(wantErr)

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Errorf("request() error = %v, want %v", err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for abandoned request to unblock")
	}
}

func TestRequestorNonTrackedSend(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	id, err := r.nonTrackedSend(context.Background(), NewPublish(0, map[string]any{}, "com.example.topic", nil, nil))
	if err != nil {
		t.Fatalf("nonTrackedSend() = %v", err)
	}
	if id == 0 {
		t.Error("nonTrackedSend() returned id 0")
	}
	if peer.last().RequestID != id {
		t.Errorf("sent message RequestID = %d, want %d", peer.last().RequestID, id)
	}
}

func TestRequestorCancelCallKillNoWait(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	caller, err := r.requestCall(context.Background(), NewCall(0, map[string]any{}, "com.example.slow", nil, nil), 0)
	if err != nil {
		t.Fatalf("requestCall() = %v", err)
	}

	if err := r.cancelCall(context.Background(), caller.RequestID(), CancelKillNoWait); err != nil {
		t.Fatalf("cancelCall() = %v", err)
	}

	select {
	case <-caller.Results():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for results channel to close")
	}
	if !errors.Is(caller.Err(), ErrCanceled) {
		t.Errorf("caller.Err() = %v, want ErrCanceled", caller.Err())
	}
}

func TestRequestorCancelCallSkip(t *testing.T) {
	peer := &fakeSender{}
	r := newRequestor(peer)

	caller, err := r.requestCall(context.Background(), NewCall(0, map[string]any{}, "com.example.slow", nil, nil), 0)
	if err != nil {
		t.Fatalf("requestCall() = %v", err)
	}

	if err := r.cancelCall(context.Background(), caller.RequestID(), CancelSkip); err != nil {
		t.Fatalf("cancelCall() = %v", err)
	}

	select {
	case <-caller.Results():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for results channel to close")
	}
	if !errors.Is(caller.Err(), ErrCanceled) {
		t.Errorf("caller.Err() = %v, want ErrCanceled", caller.Err())
	}

	r.mu.Lock()
	_, stillPending := r.pending[RequestKey{Kind: KindCall, RequestID: caller.RequestID()}]
	r.mu.Unlock()
	if stillPending {
		t.Error("pending record still present after skip-mode cancel, want removed")
	}
}

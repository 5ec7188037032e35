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

func testWishes(t *testing.T) ([]Wish, *PipeTransport) {
	t.Helper()
	a, b := NewPipe()
	return []Wish{{Name: "pipe", Dial: func(ctx context.Context) (Transport, error) { return a, nil }}}, b
}

func newTestPeer(t *testing.T, h handlers) (*Peer, *PipeTransport) {
	t.Helper()
	wishes, far := testWishes(t)
	p := newPeer(JSONCodec{}, nil, h)
	if err := p.Connect(context.Background(), wishes); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	return p, far
}

func TestPeerConnectStartsAtStateClosed(t *testing.T) {
	p, _ := newTestPeer(t, handlers{})
	if got := p.State(); got != StateClosed {
		t.Errorf("State() after Connect = %s, want %s", got, StateClosed)
	}
}

func TestPeerSendHelloTransitionsToEstablishing(t *testing.T) {
	p, far := newTestPeer(t, handlers{})
	if err := p.Send(context.Background(), NewHello("realm1", map[string]any{})); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if got := p.State(); got != StateEstablishing {
		t.Errorf("State() after HELLO = %s, want %s", got, StateEstablishing)
	}
	frame, err := far.Receive(context.Background())
	if err != nil {
		t.Fatalf("far.Receive() = %v", err)
	}
	msg, err := JSONCodec{}.Decode(frame)
	if err != nil || msg.Kind != KindHello {
		t.Errorf("decoded = %+v, err=%v, want HELLO", msg, err)
	}
}

func TestPeerSendRejectedByState(t *testing.T) {
	p, _ := newTestPeer(t, handlers{})
	// CALL is not admitted before the session is established.
	err := p.Send(context.Background(), NewCall(1, map[string]any{}, "com.example.p", nil, nil))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Send() error = %v, want ErrInvalidState", err)
	}
}

func TestPeerSendPayloadSizeExceededDoesNotFailSession(t *testing.T) {
	a, _ := NewPipe()
	a.MaxLength = 16
	wishes := []Wish{{Name: "pipe", Dial: func(ctx context.Context) (Transport, error) { return a, nil }}}
	p := newPeer(JSONCodec{}, nil, handlers{})
	if err := p.Connect(context.Background(), wishes); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	err := p.Send(context.Background(), NewHello("realm-with-a-long-enough-name-to-overflow", map[string]any{}))
	var tooLarge *PayloadSizeExceededError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("Send() error = %v, want PayloadSizeExceededError", err)
	}
	if got := p.State(); got == StateFailed {
		t.Error("State() = failed after a payload-size-exceeded Send, want the session to survive")
	}
}

func TestPeerDispatchWelcomeInvokesOnWelcome(t *testing.T) {
	var mu sync.Mutex
	var welcomed *Message
	done := make(chan struct{})
	p, far := newTestPeer(t, handlers{
		onWelcome: func(msg *Message) {
			mu.Lock()
			welcomed = msg
			mu.Unlock()
			close(done)
		},
	})

	if err := p.Send(context.Background(), NewHello("realm1", map[string]any{})); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if _, err := far.Receive(context.Background()); err != nil {
		t.Fatalf("far.Receive() = %v", err)
	}

	frame, _ := JSONCodec{}.Encode(NewWelcome(42, map[string]any{}))
	if err := far.Send(context.Background(), frame); err != nil {
		t.Fatalf("far.Send() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onWelcome")
	}

	mu.Lock()
	defer mu.Unlock()
	if welcomed == nil || welcomed.SessionID != 42 {
		t.Errorf("welcomed = %+v, want SessionID 42", welcomed)
	}
	if got := p.State(); got != StateEstablished {
		t.Errorf("State() after WELCOME = %s, want %s", got, StateEstablished)
	}
}

func TestPeerDispatchAbortInvokesOnFailed(t *testing.T) {
	failed := make(chan error, 1)
	p, far := newTestPeer(t, handlers{
		onFailed: func(err error) { failed <- err },
	})

	if err := p.Send(context.Background(), NewHello("realm1", map[string]any{})); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if _, err := far.Receive(context.Background()); err != nil {
		t.Fatalf("far.Receive() = %v", err)
	}

	frame, _ := JSONCodec{}.Encode(NewAbort(map[string]any{"message": "no such realm"}, ErrURINoSuchRealm))
	if err := far.Send(context.Background(), frame); err != nil {
		t.Fatalf("far.Send() = %v", err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Error("onFailed called with nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onFailed")
	}
}

func TestPeerDisconnectIsIdempotent(t *testing.T) {
	p, _ := newTestPeer(t, handlers{})
	if err := p.Disconnect(); err != nil {
		t.Fatalf("first Disconnect() = %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() = %v", err)
	}
	if got := p.State(); got != StateDisconnected {
		t.Errorf("State() after Disconnect = %s, want %s", got, StateDisconnected)
	}
}

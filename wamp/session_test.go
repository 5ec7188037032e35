// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeRouter plays the router side of a session over a PipeTransport end,
// replying to each decoded frame via handle. A nil reply sends nothing.
type fakeRouter struct {
	transport *PipeTransport
	handle    func(msg *Message) *Message
	stop      chan struct{}
}

func startFakeRouter(t *testing.T, transport *PipeTransport, handle func(msg *Message) *Message) *fakeRouter {
	t.Helper()
	r := &fakeRouter{transport: transport, handle: handle, stop: make(chan struct{})}
	go r.run()
	return r
}

func (r *fakeRouter) run() {
	codec := JSONCodec{}
	for {
		frame, err := r.transport.Receive(context.Background())
		if err != nil {
			return
		}
		msg, err := codec.Decode(frame)
		if err != nil {
			continue
		}
		reply := r.handle(msg)
		if reply == nil {
			continue
		}
		out, err := codec.Encode(reply)
		if err != nil {
			continue
		}
		if err := r.transport.Send(context.Background(), out); err != nil {
			return
		}
	}
}

func newConnectedSession(t *testing.T, handle func(msg *Message) *Message) (*Session, *fakeRouter) {
	t.Helper()
	a, b := NewPipe()
	s := NewSession(Config{Realm: "realm1", Executor: SyncExecutor{}})
	wishes := []Wish{{Name: "pipe", Dial: func(ctx context.Context) (Transport, error) { return a, nil }}}
	if err := s.Connect(context.Background(), wishes); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	router := startFakeRouter(t, b, handle)
	return s, router
}

func TestSessionJoin(t *testing.T) {
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		if msg.Kind == KindHello {
			return NewWelcome(7, map[string]any{"roles": map[string]any{}})
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessionID, _, err := s.Join(ctx, "realm1")
	if err != nil {
		t.Fatalf("Join() = %v", err)
	}
	if sessionID != 7 {
		t.Errorf("sessionID = %d, want 7", sessionID)
	}
	if got := s.State(); got != StateEstablished {
		t.Errorf("State() = %s, want %s", got, StateEstablished)
	}
}

func TestSessionJoinAborted(t *testing.T) {
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		if msg.Kind == KindHello {
			return NewAbort(map[string]any{"message": "nope"}, ErrURINoSuchRealm)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Join(ctx, "realm1"); err == nil {
		t.Fatal("Join() = nil error, want abort error")
	}
}

func TestSessionCallRoundTrip(t *testing.T) {
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		switch msg.Kind {
		case KindHello:
			return NewWelcome(1, map[string]any{})
		case KindCall:
			sum := msg.Args[0].(float64) + msg.Args[1].(float64)
			return NewResult(msg.RequestID, map[string]any{}, []any{sum}, nil)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Join(ctx, "realm1"); err != nil {
		t.Fatalf("Join() = %v", err)
	}

	args, _, err := s.Call(ctx, "com.example.add", CallOptions{}, []any{float64(2), float64(3)}, nil)
	if err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if len(args) != 1 || args[0].(float64) != 5 {
		t.Errorf("Call() result = %v, want [5]", args)
	}
}

func TestSessionPublishUnacknowledgedDoesNotBlock(t *testing.T) {
	var seenTopic string
	done := make(chan struct{})
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		switch msg.Kind {
		case KindHello:
			return NewWelcome(1, map[string]any{})
		case KindPublish:
			seenTopic = msg.Topic
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Join(ctx, "realm1"); err != nil {
		t.Fatalf("Join() = %v", err)
	}

	if _, err := s.Publish(ctx, "com.example.topic", PublishOptions{}, nil, nil); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for router to observe PUBLISH")
	}
	if seenTopic != "com.example.topic" {
		t.Errorf("seenTopic = %q, want com.example.topic", seenTopic)
	}
}

func TestSessionSubscribeAndEvent(t *testing.T) {
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		switch msg.Kind {
		case KindHello:
			return NewWelcome(1, map[string]any{})
		case KindSubscribe:
			return NewSubscribed(msg.RequestID, 555)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Join(ctx, "realm1"); err != nil {
		t.Fatalf("Join() = %v", err)
	}

	events := make(chan Event, 1)
	sub, err := s.Subscribe(ctx, "com.example.topic", MatchExact, func(e Event) { events <- e })
	if err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if sub.ID() != 555 {
		t.Errorf("Subscription.ID() = %d, want 555", sub.ID())
	}

	s.readers.onEvent(NewEvent(555, 1, map[string]any{}, []any{"hi"}, nil))

	select {
	case e := <-events:
		if e.Args[0] != "hi" {
			t.Errorf("event.Args = %v, want [hi]", e.Args)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSessionChallengeAuthenticateThenKillModeCancel(t *testing.T) {
	challenges := make(chan Challenge, 1)

	a, b := NewPipe()
	s := NewSession(Config{
		Realm:       "realm1",
		AuthMethods: []string{"wampcra"},
		AuthID:      "alice",
		Challenge:   func(c Challenge) { challenges <- c },
	})
	wishes := []Wish{{Name: "pipe", Dial: func(ctx context.Context) (Transport, error) { return a, nil }}}
	if err := s.Connect(context.Background(), wishes); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	cancelSeen := make(chan uint64, 1)
	router := startFakeRouter(t, b, func(msg *Message) *Message {
		switch msg.Kind {
		case KindHello:
			return NewChallenge("wampcra", map[string]any{})
		case KindAuthenticate:
			return NewWelcome(9, map[string]any{"roles": map[string]any{}})
		case KindCall:
			return nil
		case KindCancel:
			cancelSeen <- msg.RequestID
			return NewErrorMessage(KindCall, msg.RequestID, ErrURICanceled, map[string]any{}, nil, nil)
		}
		return nil
	})
	_ = router

	joinDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := s.Join(ctx, "realm1")
		joinDone <- err
	}()

	select {
	case c := <-challenges:
		if c.AuthMethod != "wampcra" {
			t.Errorf("Challenge.AuthMethod = %q, want wampcra", c.AuthMethod)
		}
		if err := s.Authenticate(context.Background(), "signed-"+c.AuthMethod, nil); err != nil {
			t.Fatalf("Authenticate() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for challenge notification")
	}

	select {
	case err := <-joinDone:
		if err != nil {
			t.Fatalf("Join() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Join() to return after AUTHENTICATE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	channel, err := s.OpenStream(ctx, "com.example.slow", CallOptions{}, nil, nil)
	if err != nil {
		t.Fatalf("OpenStream() = %v", err)
	}

	if err := s.Cancel(ctx, channel.RequestID(), CancelKill); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}

	select {
	case id := <-cancelSeen:
		if id != channel.RequestID() {
			t.Errorf("router saw CANCEL for requestID %d, want %d", id, channel.RequestID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for router to observe CANCEL")
	}

	select {
	case <-channel.Results():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for results channel to close")
	}
	var werr *Error
	if !errors.As(channel.Err(), &werr) || werr.URI != ErrURICanceled {
		t.Errorf("channel.Err() = %v, want wamp error %s", channel.Err(), ErrURICanceled)
	}

	if got := s.State(); got != StateEstablished {
		t.Errorf("State() = %s, want %s", got, StateEstablished)
	}
}

func TestSessionEnrollAndInvoke(t *testing.T) {
	yielded := make(chan *Message, 1)
	s, _ := newConnectedSession(t, func(msg *Message) *Message {
		switch msg.Kind {
		case KindHello:
			return NewWelcome(1, map[string]any{})
		case KindRegister:
			return NewRegistered(msg.RequestID, 77)
		case KindYield:
			yielded <- msg
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := s.Join(ctx, "realm1"); err != nil {
		t.Fatalf("Join() = %v", err)
	}

	reg, err := s.Enroll(ctx, "com.example.double", RegisterOptions{}, func(ctx context.Context, inv Invocation) Outcome {
		return ResultOutcome([]any{inv.Args[0].(float64) * 2}, nil)
	}, nil)
	if err != nil {
		t.Fatalf("Enroll() = %v", err)
	}
	if reg.ID() != 77 {
		t.Errorf("Registration.ID() = %d, want 77", reg.ID())
	}

	s.registry.onInvocation(ctx, NewInvocation(1, 77, map[string]any{}, []any{float64(21)}, nil))

	select {
	case msg := <-yielded:
		if msg.Args[0].(float64) != 42 {
			t.Errorf("yielded result = %v, want [42]", msg.Args)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for YIELD")
	}
}

// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is a session's position in the connection/handshake/closure state
// machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateClosed
	StateEstablishing
	StateAuthenticating
	StateEstablished
	StateShuttingDown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateClosed:
		return "closed"
	case StateEstablishing:
		return "establishing"
	case StateAuthenticating:
		return "authenticating"
	case StateEstablished:
		return "established"
	case StateShuttingDown:
		return "shuttingDown"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Challenge is the callee-facing view of an incoming CHALLENGE.
type Challenge struct {
	AuthMethod string
	Extra      map[string]any
}

// ChallengeHandler is notified of an incoming CHALLENGE. It must not block:
// the reply is sent later, possibly asynchronously and from a different
// goroutine, via Session.Authenticate.
type ChallengeHandler func(Challenge)

// handlers are the session façade's callbacks, wired in once at
// construction; Peer calls them as messages are decoded.
type handlers struct {
	onReply      func(*Message)
	onEvent      func(*Message)
	onInvocation func(*Message)
	onInterrupt  func(*Message)
	onGoodbye    func(reason string)
	onWelcome    func(msg *Message)
	onChallenge  ChallengeHandler
	onFailed     func(err error)
}

// Peer owns the transport and codec, drives the session state machine and
// dispatches decoded messages. Grounded on the dispatch-loop/state
// tracking in the surrounding example pack (ethereum-go-ethereum's rpc
// Client.dispatch, mellium-xmpp's session state bitmask) but serialized
// here with a plain mutex rather than a channel actor.
type Peer struct {
	mu        sync.Mutex
	state     State
	transport Transport
	codec     Codec
	sessionID uint64
	logger    *slog.Logger
	h         handlers

	receiveDone chan struct{}
	cancelRecv  context.CancelFunc
}

func newPeer(codec Codec, logger *slog.Logger, h handlers) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peer{state: StateDisconnected, codec: codec, logger: logger, h: h}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.state = s
	p.logger.Debug("wamp: state transition", "state", s.String())
}

// Connect attempts each wish in order and, on success, moves to
// StateClosed (connected, not yet joined) and starts the receive loop.
func (p *Peer) Connect(ctx context.Context, wishes []Wish) error {
	p.mu.Lock()
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return ErrInvalidState
	}
	p.setState(StateConnecting)
	p.mu.Unlock()

	t, err := connectWithWishes(ctx, wishes)
	p.mu.Lock()
	if err != nil {
		p.setState(StateFailed)
		p.mu.Unlock()
		return err
	}
	p.transport = t
	p.setState(StateClosed)
	recvCtx, cancel := context.WithCancel(context.Background())
	p.cancelRecv = cancel
	p.receiveDone = make(chan struct{})
	p.mu.Unlock()

	go p.receiveLoop(recvCtx)
	return nil
}

// Send validates that the current state permits sending msg.Kind, encodes
// it, and writes it to the transport.
func (p *Peer) Send(ctx context.Context, msg *Message) error {
	p.mu.Lock()
	if err := p.admits(msg.Kind); err != nil {
		p.mu.Unlock()
		return err
	}
	switch msg.Kind {
	case KindHello:
		p.setState(StateEstablishing)
	case KindAuthenticate:
		p.setState(StateEstablishing)
	case KindGoodbye:
		if p.state == StateEstablished {
			p.setState(StateShuttingDown)
		}
	}
	transport := p.transport
	p.mu.Unlock()

	frame, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := transport.Send(ctx, frame); err != nil {
		var tooLarge *PayloadSizeExceededError
		if errors.As(err, &tooLarge) {
			return err
		}
		p.fail(&TransportError{Reason: "failed", Cause: err})
		return err
	}
	return nil
}

// admits reports whether kind may be sent in the current state. Must be
// called with p.mu held.
func (p *Peer) admits(kind Kind) error {
	switch p.state {
	case StateClosed:
		if kind == KindHello {
			return nil
		}
	case StateEstablishing, StateAuthenticating:
		if kind == KindAuthenticate || kind == KindAbort {
			return nil
		}
	case StateEstablished:
		if kind != KindHello && kind != KindWelcome && kind != KindChallenge {
			return nil
		}
	}
	return ErrInvalidState
}

func (p *Peer) receiveLoop(ctx context.Context) {
	defer close(p.receiveDone)
	for {
		frame, err := p.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.fail(&TransportError{Reason: "failed", Cause: err})
			return
		}
		msg, err := p.codec.Decode(frame)
		if err != nil {
			p.protocolViolation(err)
			return
		}
		if p.dispatch(ctx, msg) {
			return
		}
	}
}

// dispatch routes one decoded message. It returns true if the receive
// loop should stop (session ended).
func (p *Peer) dispatch(ctx context.Context, msg *Message) bool {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch msg.Kind {
	case KindWelcome:
		if state != StateEstablishing && state != StateAuthenticating {
			p.protocolViolation(fmt.Errorf("unexpected welcome in state %s", state))
			return true
		}
		p.mu.Lock()
		p.sessionID = msg.SessionID
		p.setState(StateEstablished)
		p.mu.Unlock()
		if p.h.onWelcome != nil {
			p.h.onWelcome(msg)
		}
		return false

	case KindAbort:
		p.mu.Lock()
		p.setState(StateClosed)
		p.mu.Unlock()
		if p.h.onFailed != nil {
			reason, _ := msg.Options["message"].(string)
			if reason == "" {
				reason = msg.Reason
			}
			p.h.onFailed(fmt.Errorf("%w: %s", ErrSessionAbortedByPeer, reason))
		}
		return true

	case KindChallenge:
		if state != StateEstablishing {
			p.protocolViolation(fmt.Errorf("unexpected challenge in state %s", state))
			return true
		}
		if p.h.onChallenge == nil {
			p.abort(ErrURIAuthorizationFailed, "no challenge handler registered")
			return true
		}
		p.mu.Lock()
		p.setState(StateAuthenticating)
		p.mu.Unlock()
		p.h.onChallenge(Challenge{AuthMethod: msg.AuthMethod, Extra: msg.Options})
		return false

	case KindGoodbye:
		p.mu.Lock()
		wasShuttingDown := p.state == StateShuttingDown
		p.mu.Unlock()
		if !wasShuttingDown {
			ack := NewGoodbye(map[string]any{}, ErrURIGoodbyeAndOut)
			_ = p.Send(context.Background(), ack)
		}
		p.mu.Lock()
		p.setState(StateClosed)
		p.mu.Unlock()
		if p.h.onGoodbye != nil {
			p.h.onGoodbye(msg.Reason)
		}
		return true

	case KindEvent:
		if p.h.onEvent != nil {
			p.h.onEvent(msg)
		}
		return false

	case KindInvocation, KindInterrupt:
		if msg.Kind == KindInvocation && p.h.onInvocation != nil {
			p.h.onInvocation(msg)
		} else if msg.Kind == KindInterrupt && p.h.onInterrupt != nil {
			p.h.onInterrupt(msg)
		}
		return false

	case KindError:
		if msg.RequestKind == KindInvocation {
			if p.h.onInterrupt != nil {
				p.h.onInterrupt(msg)
			}
			return false
		}
		if p.h.onReply != nil {
			p.h.onReply(msg)
		}
		return false

	default:
		if msg.IsReply() {
			if p.h.onReply != nil {
				p.h.onReply(msg)
			}
			return false
		}
		p.protocolViolation(fmt.Errorf("unexpected message kind %s", msg.Kind))
		return true
	}
}

func (p *Peer) abort(reason, message string) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state == StateEstablishing || state == StateAuthenticating {
		details := map[string]any{}
		if message != "" {
			details["message"] = message
		}
		_ = p.Send(context.Background(), NewAbort(details, reason))
	}
	p.mu.Lock()
	p.setState(StateClosed)
	p.mu.Unlock()
	if p.h.onFailed != nil {
		p.h.onFailed(fmt.Errorf("%s: %s", reason, message))
	}
}

func (p *Peer) protocolViolation(cause error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	p.logger.Warn("wamp: protocol violation", "error", cause)
	if state == StateEstablishing || state == StateAuthenticating || state == StateEstablished {
		details := map[string]any{"message": cause.Error()}
		_ = p.Send(context.Background(), NewAbort(details, ErrURIProtocolViolation))
	}
	p.mu.Lock()
	p.setState(StateFailed)
	p.mu.Unlock()
	if p.h.onFailed != nil {
		p.h.onFailed(fmt.Errorf("%w: %v", ErrProtocolViolation, cause))
	}
}

func (p *Peer) fail(err error) {
	p.mu.Lock()
	p.setState(StateFailed)
	p.mu.Unlock()
	p.logger.Warn("wamp: transport failed", "error", err)
	if p.h.onFailed != nil {
		p.h.onFailed(err)
	}
}

// Disconnect gracefully tears the transport down and waits for the receive
// loop to exit. It does not call onFailed; failing operations still in
// flight is left to the session façade (Session.Disconnect).
func (p *Peer) Disconnect() error {
	p.mu.Lock()
	if p.state == StateDisconnected {
		p.mu.Unlock()
		return nil
	}
	transport := p.transport
	cancel := p.cancelRecv
	p.setState(StateDisconnected)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if transport != nil {
		err = transport.Close()
	}
	if p.receiveDone != nil {
		<-p.receiveDone
	}
	return err
}

// Terminate drops the transport immediately without waiting for the
// receive loop to notice; pending completions are abandoned by the
// session façade, not invoked.
func (p *Peer) Terminate() error {
	p.mu.Lock()
	transport := p.transport
	cancel := p.cancelRecv
	p.setState(StateDisconnected)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if transport == nil {
		return nil
	}
	return transport.Close()
}

var _ sender = (*Peer)(nil)

// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Session's construction, following the
// options-struct pattern used throughout the surrounding example pack.
type Config struct {
	// Realm names the session's realm. Join does not read it; the realm
	// to join is Join's own argument.
	Realm string

	// AuthMethods lists the authmethod values offered in HELLO.details
	// whenever it is non-empty.
	AuthMethods []string

	// AuthID is the optional authid offered in HELLO.details.
	AuthID string

	// Challenge is notified of a router-issued CHALLENGE. It is posted to
	// Executor rather than called from the receive loop, so it may block
	// or take as long as it needs; the reply is sent later, from any
	// goroutine, via Session.Authenticate. Required iff AuthMethods is
	// non-empty.
	Challenge ChallengeHandler

	// DefaultCallTimeout applies to Call/OpenStream when the per-call
	// CallOptions.TimeoutMillis is zero. Zero means no default.
	DefaultCallTimeout time.Duration

	// Executor dispatches user callbacks (event slots, call slots,
	// chunk handlers). Defaults to GoroutineExecutor.
	Executor Executor

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Codec encodes/decodes wire frames. Defaults to JSONCodec.
	Codec Codec
}

// Session composes the Peer, Requestor, Readership and ProcedureRegistry
// into the user-facing API: connect, join, leave, subscribe/unsubscribe,
// publish, enroll/unregister, call/cancel, openStream.
type Session struct {
	cfg       Config
	peer      *Peer
	requestor *Requestor
	readers   *Readership
	registry  *ProcedureRegistry
	logger    *slog.Logger

	goodbyeCh chan string
	welcomeCh chan *Message
	failedCh  chan error
}

// NewSession constructs a Session ready for Connect.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	executor := defaultExecutor(cfg.Executor)

	s := &Session{
		cfg:       cfg,
		logger:    cfg.Logger,
		goodbyeCh: make(chan string, 1),
		welcomeCh: make(chan *Message, 1),
		failedCh:  make(chan error, 1),
	}
	s.peer = newPeer(cfg.Codec, cfg.Logger, handlers{
		onReply:      s.onReply,
		onEvent:      s.onEvent,
		onInvocation: s.onInvocation,
		onInterrupt:  s.onInterrupt,
		onGoodbye:    s.onGoodbye,
		onWelcome:    s.onWelcome,
		onChallenge:  s.onChallengeWith(executor),
		onFailed:     s.onFailed,
	})
	s.requestor = newRequestor(s.peer)
	s.readers = newReadership(executor)
	s.registry = newProcedureRegistry(s.peer, executor, cfg.Logger)
	return s
}

// onChallengeWith wraps cfg.Challenge so it runs off the receive loop, on
// executor, the same way event/call/chunk handlers are dispatched. Returns
// nil if no challenge handler was configured, so Peer still aborts an
// unexpected CHALLENGE the same way it would have with no wrapping.
func (s *Session) onChallengeWith(executor Executor) ChallengeHandler {
	if s.cfg.Challenge == nil {
		return nil
	}
	return func(c Challenge) {
		executor.Post(func() { s.cfg.Challenge(c) })
	}
}

func (s *Session) onReply(msg *Message)      { s.requestor.onReply(msg) }
func (s *Session) onEvent(msg *Message)      { s.readers.onEvent(msg) }
func (s *Session) onInvocation(msg *Message) { s.registry.onInvocation(context.Background(), msg) }
func (s *Session) onInterrupt(msg *Message)  { s.registry.onInterrupt(context.Background(), msg) }

func (s *Session) onGoodbye(reason string) {
	select {
	case s.goodbyeCh <- reason:
	default:
	}
	s.abandon(ErrSessionEndedByPeer)
}

func (s *Session) onWelcome(msg *Message) {
	select {
	case s.welcomeCh <- msg:
	default:
	}
}

func (s *Session) onFailed(err error) {
	select {
	case s.failedCh <- err:
	default:
	}
	s.abandon(err)
}

func (s *Session) abandon(reason error) {
	s.requestor.abandonAll(reason)
	s.registry.abandonAll(reason)
	s.readers.clear()
}

// Connect attempts each transport in wishes and, on success, leaves the
// session ready for Join.
func (s *Session) Connect(ctx context.Context, wishes []Wish) error {
	return s.peer.Connect(ctx, wishes)
}

// Join sends HELLO for realm and blocks until WELCOME or ABORT.
func (s *Session) Join(ctx context.Context, realm string) (sessionID uint64, details map[string]any, err error) {
	details2 := map[string]any{"roles": advertisedRoles()}
	if len(s.cfg.AuthMethods) > 0 {
		details2["authmethods"] = s.cfg.AuthMethods
	}
	if s.cfg.AuthID != "" {
		details2["authid"] = s.cfg.AuthID
	}

	if err := s.peer.Send(ctx, NewHello(realm, details2)); err != nil {
		return 0, nil, err
	}

	select {
	case msg := <-s.welcomeCh:
		return msg.SessionID, msg.Options, nil
	case err := <-s.failedCh:
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Authenticate sends AUTHENTICATE in reply to a previously delivered
// CHALLENGE. It is the façade counterpart to Config.Challenge: user code
// may call it from any goroutine, at any point after the challenge
// notification runs, independently of whether the original Join call is
// still blocked waiting for WELCOME/ABORT (it is, across the whole
// challenge/authenticate exchange).
func (s *Session) Authenticate(ctx context.Context, signature string, extra map[string]any) error {
	if extra == nil {
		extra = map[string]any{}
	}
	return s.peer.Send(ctx, NewAuthenticate(signature, extra))
}

// Leave sends GOODBYE with reason and waits for the router's GOODBYE ack
// or ctx to expire.
func (s *Session) Leave(ctx context.Context, reason string) error {
	if err := s.peer.Send(ctx, NewGoodbye(map[string]any{}, reason)); err != nil {
		return err
	}
	select {
	case <-s.goodbyeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect gracefully tears the session down: outstanding operations
// fail with ErrSessionEnded.
func (s *Session) Disconnect() error {
	s.abandon(ErrSessionEnded)
	return s.peer.Disconnect()
}

// Terminate drops the transport immediately without resolving pending
// completions.
func (s *Session) Terminate() error {
	return s.peer.Terminate()
}

// State returns the session's current position in the connection state
// machine.
func (s *Session) State() State { return s.peer.State() }

// EventErrors returns the channel on which panics from subscription event
// slots are reported, annotated with the subscription/publication ids of
// the event that triggered them. They never propagate back to the
// session's own dispatch; a caller that cares about them must drain this
// channel.
func (s *Session) EventErrors() <-chan EventError { return s.readers.Errors() }

// Subscription is the user-facing handle returned by Subscribe.
type Subscription struct {
	id     uint64
	slotID uint64
	topic  string
	s      *Session
}

// ID returns the router-assigned subscription id.
func (sub Subscription) ID() uint64 { return sub.id }

// Unsubscribe detaches this slot; if it was the last local slot for the
// subscription, it also sends UNSUBSCRIBE.
func (sub Subscription) Unsubscribe(ctx context.Context) error {
	return sub.s.unsubscribe(ctx, sub)
}

// Subscribe attaches slot to topic under policy. If a local subscription
// already covers the same topic+policy, slot is attached without a wire
// round-trip.
func (s *Session) Subscribe(ctx context.Context, topic string, policy MatchPolicy, slot EventSlot) (Subscription, error) {
	if policy == "" {
		policy = MatchExact
	}
	if subID, ok := s.readers.findLocalSubscription(topic, policy); ok {
		slotID, ok := s.readers.addSlot(subID, slot)
		if ok {
			return Subscription{id: subID, slotID: slotID, topic: topic, s: s}, nil
		}
	}

	options := SubscribeOptions{Match: policy}.toWire()
	reply, err := s.requestor.request(ctx, NewSubscribe(0, options, topic), 0)
	if err != nil {
		return Subscription{}, err
	}
	subID := reply.SubscriptionID
	slotID := s.readers.createSubscription(subID, topic, policy, slot)
	return Subscription{id: subID, slotID: slotID, topic: topic, s: s}, nil
}

func (s *Session) unsubscribe(ctx context.Context, sub Subscription) error {
	last := s.readers.unsubscribe(sub.id, sub.slotID)
	if !last {
		return nil
	}
	_, err := s.requestor.request(ctx, NewUnsubscribe(0, sub.id), 0)
	return err
}

// Publish sends PUBLISH. If opts.Acknowledge is set, it blocks for
// PUBLISHED and returns the publication id.
func (s *Session) Publish(ctx context.Context, topic string, opts PublishOptions, args []any, kwargs map[string]any) (publicationID uint64, err error) {
	options := opts.toWire()
	if !opts.Acknowledge {
		_, err := s.requestor.nonTrackedSend(ctx, NewPublish(0, options, topic, args, kwargs))
		return 0, err
	}
	reply, err := s.requestor.request(ctx, NewPublish(0, options, topic, args, kwargs), 0)
	if err != nil {
		return 0, err
	}
	return reply.PublicationID, nil
}

// Registration is the user-facing handle returned by Enroll.
type Registration struct {
	id uint64
	s  *Session
}

// ID returns the router-assigned registration id.
func (r Registration) ID() uint64 { return r.id }

// Unregister removes this registration both locally and at the router.
func (r Registration) Unregister(ctx context.Context) error {
	return r.s.unregister(ctx, r.id)
}

// Enroll registers procedure with callSlot (and optional interruptSlot).
func (s *Session) Enroll(ctx context.Context, procedure string, opts RegisterOptions, callSlot CallSlot, interruptSlot InterruptSlot) (Registration, error) {
	return s.enrollWith(ctx, procedure, opts, func(regID uint64) error {
		return s.registry.enrollProcedure(regID, procedure, callSlot, interruptSlot, nil)
	})
}

// EnrollLimited is Enroll with an optional per-registration rate limiter
// consulted before each invocation is dispatched.
func (s *Session) EnrollLimited(ctx context.Context, procedure string, opts RegisterOptions, callSlot CallSlot, interruptSlot InterruptSlot, limiter *rate.Limiter) (Registration, error) {
	return s.enrollWith(ctx, procedure, opts, func(regID uint64) error {
		return s.registry.enrollProcedure(regID, procedure, callSlot, interruptSlot, limiter)
	})
}

// EnrollStream registers procedure as a streaming endpoint. slot is
// invoked exactly once per invocation with a fresh CalleeChannel.
func (s *Session) EnrollStream(ctx context.Context, procedure string, opts RegisterOptions, invitationExpected bool, slot StreamSlot) (Registration, error) {
	return s.enrollWith(ctx, procedure, opts, func(regID uint64) error {
		return s.registry.enrollStream(regID, procedure, slot, invitationExpected)
	})
}

func (s *Session) enrollWith(ctx context.Context, procedure string, opts RegisterOptions, install func(regID uint64) error) (Registration, error) {
	options := opts.toWire()
	reply, err := s.requestor.request(ctx, NewRegister(0, options, procedure), 0)
	if err != nil {
		return Registration{}, err
	}
	regID := reply.RegistrationID
	if err := install(regID); err != nil {
		_, _ = s.requestor.request(ctx, NewUnregister(0, regID), 0)
		return Registration{}, err
	}
	return Registration{id: regID, s: s}, nil
}

func (s *Session) unregister(ctx context.Context, regID uint64) error {
	s.registry.unregister(regID)
	_, err := s.requestor.request(ctx, NewUnregister(0, regID), 0)
	return err
}

// Call invokes procedure and blocks for a single, non-progressive result.
func (s *Session) Call(ctx context.Context, procedure string, opts CallOptions, args []any, kwargs map[string]any) ([]any, map[string]any, error) {
	timeout := time.Duration(opts.TimeoutMillis) * time.Millisecond
	if timeout == 0 {
		timeout = s.cfg.DefaultCallTimeout
	}
	options := opts.toWire()
	reply, err := s.requestor.request(ctx, NewCall(0, options, procedure, args, kwargs), timeout)
	if err != nil {
		return nil, nil, err
	}
	return reply.Args, reply.Kwargs, nil
}

// OpenStream invokes procedure expecting progressive results (and,
// optionally, lets the caller itself send progressive chunks via the
// returned CallerChannel).
func (s *Session) OpenStream(ctx context.Context, procedure string, opts CallOptions, args []any, kwargs map[string]any) (*CallerChannel, error) {
	timeout := time.Duration(opts.TimeoutMillis) * time.Millisecond
	if timeout == 0 {
		timeout = s.cfg.DefaultCallTimeout
	}
	opts.ReceiveProgress = true
	options := opts.toWire()
	channel, err := s.requestor.requestCall(ctx, NewCall(0, options, procedure, args, kwargs), timeout)
	if err != nil {
		return nil, err
	}
	channel.procedure = procedure
	channel.options = options
	return channel, nil
}

// Cancel requests cancellation of an in-flight call.
func (s *Session) Cancel(ctx context.Context, requestID uint64, mode CancelMode) error {
	return s.requestor.cancelCall(ctx, requestID, mode)
}

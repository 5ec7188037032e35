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

	"golang.org/x/time/rate"
)

// Invocation is the callee-facing view of an incoming INVOCATION.
type Invocation struct {
	RequestID      uint64
	RegistrationID uint64
	Procedure      string
	Details        map[string]any
	Args           []any
	Kwargs         map[string]any

	registry *ProcedureRegistry
}

// Yield completes this invocation with a result. It is the handle a
// call-slot retains when it returns Deferred() and replies asynchronously.
func (i Invocation) Yield(args []any, kwargs map[string]any) error {
	return i.registry.yieldResult(i.RequestID, args, kwargs, false)
}

// YieldError completes this invocation with an error.
func (i Invocation) YieldError(err *Error) error {
	return i.registry.yieldError(i.RequestID, err)
}

// Interruption is the callee-facing view of an incoming INTERRUPT.
type Interruption struct {
	RequestID      uint64
	RegistrationID uint64
	Mode           CancelMode
	Reason         string

	registry *ProcedureRegistry
}

func (i Interruption) Yield(args []any, kwargs map[string]any) error {
	return i.registry.yieldResult(i.RequestID, args, kwargs, false)
}

func (i Interruption) YieldError(err *Error) error {
	return i.registry.yieldError(i.RequestID, err)
}

type outcomeKind int

const (
	outcomeDeferred outcomeKind = iota
	outcomeResult
	outcomeError
)

// Outcome is what a CallSlot or InterruptSlot returns: a result, an error,
// or a deferred marker meaning the slot will reply later via the
// Invocation/Interruption's own Yield/YieldError.
type Outcome struct {
	kind   outcomeKind
	args   []any
	kwargs map[string]any
	err    *Error
}

// Deferred indicates the slot will complete the invocation asynchronously.
func Deferred() Outcome { return Outcome{kind: outcomeDeferred} }

// ResultOutcome completes the invocation with a result immediately.
func ResultOutcome(args []any, kwargs map[string]any) Outcome {
	return Outcome{kind: outcomeResult, args: args, kwargs: kwargs}
}

// ErrorOutcome completes the invocation with an error immediately.
func ErrorOutcome(err *Error) Outcome {
	return Outcome{kind: outcomeError, err: err}
}

// CallSlot handles a plain (non-streaming) procedure invocation.
type CallSlot func(ctx context.Context, inv Invocation) Outcome

// InterruptSlot handles a cancellation request for a pending invocation.
type InterruptSlot func(ctx context.Context, intr Interruption) Outcome

// StreamSlot is invoked exactly once per streaming invocation, with a
// fresh CalleeChannel.
type StreamSlot func(ctx context.Context, channel *CalleeChannel)

// CalleeChunkSlot receives subsequent progressive chunks on an accepted
// CalleeChannel.
type CalleeChunkSlot func(channel *CalleeChannel, chunk Chunk)

// Chunk is one fragment of a progressive call or result.
type Chunk struct {
	Args   []any
	Kwargs map[string]any
	Final  bool
}

type invocationRecord struct {
	registrationID uint64
	channel        *CalleeChannel
	invoked        bool
	interrupted    bool
	moot           bool
	closed         bool
}

type procedureRegistration struct {
	uri           string
	callSlot      CallSlot
	interruptSlot InterruptSlot
	limiter       *rate.Limiter
}

type streamRegistration struct {
	uri                string
	slot               StreamSlot
	invitationExpected bool
}

// ProcedureRegistry routes incoming INVOCATION and INTERRUPT messages to
// local procedures and streaming endpoints.
type ProcedureRegistry struct {
	mu          sync.Mutex
	procedures  map[uint64]*procedureRegistration
	streams     map[uint64]*streamRegistration
	invocations map[uint64]*invocationRecord

	peer     sender
	executor Executor
	logger   *slog.Logger
}

// sender is the subset of Peer used by the registry and readership to
// transmit messages that do not go through request/reply correlation.
type sender interface {
	Send(ctx context.Context, msg *Message) error
}

func newProcedureRegistry(peer sender, executor Executor, logger *slog.Logger) *ProcedureRegistry {
	return &ProcedureRegistry{
		procedures:  make(map[uint64]*procedureRegistration),
		streams:     make(map[uint64]*streamRegistration),
		invocations: make(map[uint64]*invocationRecord),
		peer:        peer,
		executor:    defaultExecutor(executor),
		logger:      logger,
	}
}

func (r *ProcedureRegistry) enrollProcedure(regID uint64, uri string, callSlot CallSlot, interruptSlot InterruptSlot, limiter *rate.Limiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procedures[regID]; exists {
		return NewError(ErrURIProcedureAlreadyExists)
	}
	if _, exists := r.streams[regID]; exists {
		return NewError(ErrURIProcedureAlreadyExists)
	}
	r.procedures[regID] = &procedureRegistration{uri: uri, callSlot: callSlot, interruptSlot: interruptSlot, limiter: limiter}
	return nil
}

func (r *ProcedureRegistry) enrollStream(regID uint64, uri string, slot StreamSlot, invitationExpected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procedures[regID]; exists {
		return NewError(ErrURIProcedureAlreadyExists)
	}
	if _, exists := r.streams[regID]; exists {
		return NewError(ErrURIProcedureAlreadyExists)
	}
	r.streams[regID] = &streamRegistration{uri: uri, slot: slot, invitationExpected: invitationExpected}
	return nil
}

// unregister removes a local registration. Returns true if one existed.
func (r *ProcedureRegistry) unregister(regID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procedures[regID]; ok {
		delete(r.procedures, regID)
		return true
	}
	if _, ok := r.streams[regID]; ok {
		delete(r.streams, regID)
		return true
	}
	return false
}

type registryAction func()

// onInvocation dispatches a received INVOCATION message.
func (r *ProcedureRegistry) onInvocation(ctx context.Context, msg *Message) {
	r.mu.Lock()
	preg, isProc := r.procedures[msg.RegistrationID]
	sreg, isStream := r.streams[msg.RegistrationID]

	var action registryAction
	var failure *Error
	switch {
	case isProc:
		action, failure = r.prepareProcedureInvocation(ctx, msg, preg)
	case isStream:
		action, failure = r.prepareStreamInvocation(ctx, msg, sreg)
	default:
		failure = NewError(ErrURINoSuchProcedure)
	}
	r.mu.Unlock()

	if failure != nil {
		r.sendInvocationError(msg.RequestID, failure)
		return
	}
	if action != nil {
		action()
	}
}

// prepareProcedureInvocation must be called with r.mu held.
func (r *ProcedureRegistry) prepareProcedureInvocation(ctx context.Context, msg *Message, reg *procedureRegistration) (registryAction, *Error) {
	if msg.IsProgressive() || msg.ReceivesProgress() {
		return nil, NewError(ErrURIOptionNotAllowed)
	}
	if _, exists := r.invocations[msg.RequestID]; exists {
		return nil, NewError(ErrURIProtocolViolation)
	}
	if reg.limiter != nil && !reg.limiter.Allow() {
		return nil, NewError(ErrURIResourceExhausted)
	}
	r.invocations[msg.RequestID] = &invocationRecord{registrationID: msg.RegistrationID, closed: true}

	inv := Invocation{
		RequestID: msg.RequestID, RegistrationID: msg.RegistrationID,
		Procedure: reg.uri, Details: msg.Options, Args: msg.Args, Kwargs: msg.Kwargs,
		registry: r,
	}
	slot := reg.callSlot
	return func() {
		r.executor.Post(func() {
			outcome := safeInvokeCallSlot(slot, ctx, inv)
			r.dispatchOutcome(outcome, msg.RequestID)
		})
	}, nil
}

// prepareStreamInvocation must be called with r.mu held.
func (r *ProcedureRegistry) prepareStreamInvocation(ctx context.Context, msg *Message, reg *streamRegistration) (registryAction, *Error) {
	rec, exists := r.invocations[msg.RequestID]
	if !exists {
		rec = &invocationRecord{registrationID: msg.RegistrationID}
		r.invocations[msg.RequestID] = rec
	}
	if rec.closed {
		return nil, NewError(ErrURIProtocolViolation)
	}
	rec.closed = !msg.IsProgressive()

	if !rec.invoked {
		rec.invoked = true
		channel := newCalleeChannel(msg, reg.invitationExpected, r, r.executor)
		rec.channel = channel
		slot := reg.slot
		return func() {
			r.executor.Post(func() {
				defer func() {
					if rv := recover(); rv != nil {
						channel.fail(panicToError(rv))
					}
				}()
				slot(ctx, channel)
			})
		}, nil
	}

	channel := rec.channel
	return func() {
		if channel != nil {
			channel.deliverInvocation(msg)
		}
	}, nil
}

// onInterrupt dispatches a received INTERRUPT message.
func (r *ProcedureRegistry) onInterrupt(ctx context.Context, msg *Message) {
	r.mu.Lock()
	rec, ok := r.invocations[msg.RequestID]
	if !ok || rec.interrupted {
		r.mu.Unlock()
		return
	}
	rec.interrupted = true
	regID := rec.registrationID
	channel := rec.channel
	preg, isProc := r.procedures[regID]
	_, isStream := r.streams[regID]
	r.mu.Unlock()

	mode := cancelModeOf(msg.Options)
	reason, _ := msg.Options["reason"].(string)
	intr := Interruption{RequestID: msg.RequestID, RegistrationID: regID, Mode: mode, Reason: reason, registry: r}

	handled := false
	switch {
	case isProc && preg.interruptSlot != nil:
		slot := preg.interruptSlot
		r.executor.Post(func() {
			outcome := safeInvokeInterruptSlot(slot, ctx, intr)
			r.dispatchOutcome(outcome, msg.RequestID)
		})
		handled = true
	case isStream && channel != nil:
		handled = channel.deliverInterrupt(intr)
	}

	if !handled {
		r.autoRespondToInterrupt(msg.RequestID, mode, reason)
	}
}

// autoRespondToInterrupt implements the "no interrupt handling
// available" path: only 'kill' mode needs a synthesized ERROR, since the
// router itself already answers 'killnowait' and never emits INTERRUPT for
// 'skip'.
func (r *ProcedureRegistry) autoRespondToInterrupt(requestID uint64, mode CancelMode, reason string) {
	if mode != CancelKill {
		return
	}
	r.mu.Lock()
	rec, ok := r.invocations[requestID]
	if ok {
		rec.moot = true
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	uri := reason
	if uri == "" {
		uri = ErrURICanceled
	}
	r.sendInvocationError(requestID, NewError(uri))
}

func (r *ProcedureRegistry) dispatchOutcome(outcome Outcome, requestID uint64) {
	switch outcome.kind {
	case outcomeResult:
		r.yieldResult(requestID, outcome.args, outcome.kwargs, false)
	case outcomeError:
		r.yieldError(requestID, outcome.err)
	case outcomeDeferred:
		// The slot will call Invocation.Yield/YieldError itself.
	}
}

func (r *ProcedureRegistry) yieldResult(requestID uint64, args []any, kwargs map[string]any, progress bool) error {
	r.mu.Lock()
	rec, ok := r.invocations[requestID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	moot := rec.moot
	if !progress || moot {
		delete(r.invocations, requestID)
	}
	r.mu.Unlock()
	if moot {
		return nil
	}

	options := map[string]any{}
	if progress {
		options["progress"] = true
	}
	msg := NewYield(requestID, options, args, kwargs)
	err := r.peer.Send(context.Background(), msg)
	var tooLarge *PayloadSizeExceededError
	if errors.As(err, &tooLarge) {
		r.sendInvocationError(requestID, NewError(ErrURIPayloadSizeExceeded))
	}
	return err
}

func (r *ProcedureRegistry) yieldChunk(requestID uint64, chunk Chunk) error {
	return r.yieldResult(requestID, chunk.Args, chunk.Kwargs, !chunk.Final)
}

func (r *ProcedureRegistry) yieldError(requestID uint64, errv *Error) error {
	r.mu.Lock()
	rec, ok := r.invocations[requestID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	moot := rec.moot
	delete(r.invocations, requestID)
	r.mu.Unlock()
	if moot {
		return nil
	}
	return r.sendInvocationError(requestID, errv)
}

func (r *ProcedureRegistry) sendInvocationError(requestID uint64, errv *Error) error {
	msg := NewErrorMessage(KindInvocation, requestID, errv.URI, map[string]any{}, errv.Args, errv.Kwargs)
	return r.peer.Send(context.Background(), msg)
}

// abandonAll terminates every live registration/invocation locally,
// without contacting the router, used when the session is lost.
func (r *ProcedureRegistry) abandonAll(reason error) {
	r.mu.Lock()
	invs := r.invocations
	r.procedures = make(map[uint64]*procedureRegistration)
	r.streams = make(map[uint64]*streamRegistration)
	r.invocations = make(map[uint64]*invocationRecord)
	r.mu.Unlock()

	for _, rec := range invs {
		if rec.channel != nil {
			rec.channel.abandon(reason)
		}
	}
}

func safeInvokeCallSlot(slot CallSlot, ctx context.Context, inv Invocation) (outcome Outcome) {
	defer func() {
		if rv := recover(); rv != nil {
			outcome = ErrorOutcome(panicToError(rv))
		}
	}()
	return slot(ctx, inv)
}

func safeInvokeInterruptSlot(slot InterruptSlot, ctx context.Context, intr Interruption) (outcome Outcome) {
	defer func() {
		if rv := recover(); rv != nil {
			outcome = ErrorOutcome(panicToError(rv))
		}
	}()
	return slot(ctx, intr)
}

// panicToError converts a recovered panic value into a WAMP error: a
// panicked *Error is forwarded as-is (the caller-provided URI), anything
// else becomes invalid_argument.
func panicToError(rv any) *Error {
	if e, ok := rv.(*Error); ok {
		return e
	}
	return NewError(ErrURIInvalidArgument, fmt.Sprint(rv))
}

// --- streaming channel --------------------------------------------------

type calleeChannelState int

const (
	channelAwaiting calleeChannelState = iota
	channelOpen
	channelClosed
)

// CalleeChannel is the callee-facing handle for one streaming invocation.
type CalleeChannel struct {
	mu                 sync.Mutex
	state              calleeChannelState
	requestID          uint64
	registrationID     uint64
	invitationExpected bool
	invitation         Invocation
	chunkHandler       CalleeChunkSlot
	interruptHandler   InterruptSlot
	registry           *ProcedureRegistry
	executor           Executor
}

func newCalleeChannel(msg *Message, invitationExpected bool, registry *ProcedureRegistry, executor Executor) *CalleeChannel {
	return &CalleeChannel{
		state:              channelAwaiting,
		requestID:          msg.RequestID,
		registrationID:     msg.RegistrationID,
		invitationExpected: invitationExpected,
		registry:           registry,
		executor:           executor,
		invitation: Invocation{
			RequestID: msg.RequestID, RegistrationID: msg.RegistrationID,
			Details: msg.Options, Args: msg.Args, Kwargs: msg.Kwargs, registry: registry,
		},
	}
}

// Invitation returns the initial invocation that opened this channel.
func (c *CalleeChannel) Invitation() Invocation { return c.invitation }

// Accept transitions the channel to open and installs the handlers for
// subsequent chunks and interruption, without sending a reply yet.
func (c *CalleeChannel) Accept(chunkHandler CalleeChunkSlot, interruptHandler InterruptSlot) error {
	c.mu.Lock()
	if c.state != channelAwaiting {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.chunkHandler = chunkHandler
	c.interruptHandler = interruptHandler
	c.state = channelOpen
	deliverInitial := !c.invitationExpected && chunkHandler != nil
	inv := c.invitation
	c.mu.Unlock()

	if deliverInitial {
		chunk := Chunk{Args: inv.Args, Kwargs: inv.Kwargs, Final: false}
		c.executor.Post(func() { chunkHandler(c, chunk) })
	}
	return nil
}

// Respond accepts the channel and immediately sends chunk as the
// initial/final reply.
func (c *CalleeChannel) Respond(ctx context.Context, chunk Chunk, chunkHandler CalleeChunkSlot, interruptHandler InterruptSlot) error {
	if err := c.Accept(chunkHandler, interruptHandler); err != nil {
		return err
	}
	return c.Send(ctx, chunk)
}

// Send yields a progressive or final chunk to the caller.
func (c *CalleeChannel) Send(ctx context.Context, chunk Chunk) error {
	c.mu.Lock()
	if c.state == channelClosed {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if chunk.Final {
		c.state = channelClosed
	}
	c.mu.Unlock()
	return c.registry.yieldChunk(c.requestID, chunk)
}

func (c *CalleeChannel) deliverInvocation(msg *Message) {
	c.mu.Lock()
	handler := c.chunkHandler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	chunk := Chunk{Args: msg.Args, Kwargs: msg.Kwargs, Final: !msg.IsProgressive()}
	c.executor.Post(func() { handler(c, chunk) })
}

func (c *CalleeChannel) deliverInterrupt(intr Interruption) bool {
	c.mu.Lock()
	handler := c.interruptHandler
	c.mu.Unlock()
	if handler == nil {
		return false
	}
	c.executor.Post(func() {
		outcome := safeInvokeInterruptSlot(handler, context.Background(), intr)
		c.registry.dispatchOutcome(outcome, c.requestID)
	})
	return true
}

func (c *CalleeChannel) fail(err *Error) {
	c.mu.Lock()
	c.state = channelClosed
	c.mu.Unlock()
	c.registry.yieldError(c.requestID, err)
}

func (c *CalleeChannel) abandon(reason error) {
	c.mu.Lock()
	c.state = channelClosed
	handler := c.chunkHandler
	c.mu.Unlock()
	if handler != nil {
		c.executor.Post(func() {
			handler(c, Chunk{Final: true})
		})
	}
	_ = reason
}

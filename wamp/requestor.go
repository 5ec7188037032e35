// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"sync"
	"time"
)

// Reply is the outcome of a tracked request: either a successful reply
// message (SUBSCRIBED, RESULT, REGISTERED, ...) or an *Error.
type Reply struct {
	Message *Message
	Err     error
}

type pendingKind int

const (
	pendingPlain pendingKind = iota
	pendingCall
)

type pendingRequest struct {
	key      RequestKey
	kind     pendingKind
	done     chan Reply
	caller   *CallerChannel
	canceled bool
}

// Requestor assigns request ids, tracks outstanding requests against their
// deadlines, and matches incoming replies back to callers. Grounded on
// cppwamp's Requestor (internal/requestor.hpp): request/requestStream,
// onReply, cancelCall, abandonAll.
type Requestor struct {
	mu       sync.Mutex
	nextID   uint64
	pending  map[RequestKey]*pendingRequest
	sched    *deadlineScheduler
	peer     sender
}

func newRequestor(peer sender) *Requestor {
	r := &Requestor{
		pending: make(map[RequestKey]*pendingRequest),
		peer:    peer,
	}
	r.sched = newDeadlineScheduler(r.onTimeout)
	return r
}

// nextRequestID returns the next request id. WAMP ids are drawn from
// [1, 2^53]; the counter will not pass 2^53 in any practical session
// lifetime (at one million requests/second, roughly 285 years).
func (r *Requestor) nextRequestID() uint64 {
	r.nextID++
	return r.nextID
}

// request sends msg (after stamping a fresh request id of kind msg.Kind)
// and blocks until the matching reply arrives, ctx is canceled, or
// timeout elapses. timeout<=0 means no deadline.
func (r *Requestor) request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	r.mu.Lock()
	id := r.nextRequestID()
	msg.RequestID = id
	key := RequestKey{Kind: msg.Kind, RequestID: id}
	p := &pendingRequest{key: key, kind: pendingPlain, done: make(chan Reply, 1)}
	r.pending[key] = p
	r.sched.insert(id, timeout)
	r.mu.Unlock()

	if err := r.peer.Send(ctx, msg); err != nil {
		r.mu.Lock()
		delete(r.pending, key)
		r.sched.erase(id)
		r.mu.Unlock()
		return nil, err
	}

	select {
	case reply := <-p.done:
		return reply.Message, reply.Err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, key)
		r.sched.erase(id)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// nonTrackedSend stamps msg with a fresh request id and sends it without
// registering a pending completion, for fire-and-forget requests such as
// an unacknowledged PUBLISH.
func (r *Requestor) nonTrackedSend(ctx context.Context, msg *Message) (uint64, error) {
	r.mu.Lock()
	id := r.nextRequestID()
	msg.RequestID = id
	r.mu.Unlock()
	return id, r.peer.Send(ctx, msg)
}

// requestCall sends a CALL and returns a CallerChannel through which the
// RESULT(s) and any caller-initiated CALL chunks flow. Used instead of
// request when the caller wants progressive results or to later cancel.
func (r *Requestor) requestCall(ctx context.Context, msg *Message, timeout time.Duration) (*CallerChannel, error) {
	r.mu.Lock()
	id := r.nextRequestID()
	msg.RequestID = id
	key := RequestKey{Kind: KindCall, RequestID: id}
	caller := newCallerChannel(id, r)
	p := &pendingRequest{key: key, kind: pendingCall, done: make(chan Reply, 1), caller: caller}
	r.pending[key] = p
	r.sched.insert(id, timeout)
	r.mu.Unlock()

	if err := r.peer.Send(ctx, msg); err != nil {
		r.mu.Lock()
		delete(r.pending, key)
		r.sched.erase(id)
		r.mu.Unlock()
		return nil, err
	}
	return caller, nil
}

// onReply routes an incoming reply message (or a locally synthesized
// error) to its waiting request, if any.
func (r *Requestor) onReply(msg *Message) {
	key, ok := msg.ReplyKey()
	if !ok {
		return
	}
	r.mu.Lock()
	p, found := r.pending[key]
	if !found {
		r.mu.Unlock()
		return
	}
	final := true
	if p.kind == pendingCall && msg.Kind == KindResult && msg.IsProgressive() {
		final = false
	}
	if final {
		delete(r.pending, key)
		r.sched.erase(key.RequestID)
	}
	caller := p.caller
	r.mu.Unlock()

	if caller != nil {
		if msg.Kind == KindError {
			caller.deliver(nil, replyError(msg))
			return
		}
		caller.deliver(msg, nil)
		return
	}

	if msg.Kind == KindError {
		p.done <- Reply{Err: replyError(msg)}
		return
	}
	p.done <- Reply{Message: msg}
}

func replyError(msg *Message) error {
	return &Error{URI: msg.URI, Args: msg.Args, Kwargs: msg.Kwargs}
}

// onTimeout is the deadlineScheduler callback; it synthesizes a timeout
// error for the expired request.
func (r *Requestor) onTimeout(requestID uint64) {
	r.mu.Lock()
	var found *pendingRequest
	var key RequestKey
	for k, p := range r.pending {
		if k.RequestID == requestID {
			found, key = p, k
			break
		}
	}
	if found != nil {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if found == nil {
		return
	}
	err := NewError(ErrURITimeout)
	if found.caller != nil {
		found.caller.deliver(nil, err)
		return
	}
	found.done <- Reply{Err: err}
}

// cancelCall sends CANCEL for an in-flight call. Under kill, the local
// completion waits for the router's eventual RESULT/ERROR. Under
// killnowait and skip, the local completion does not wait for the
// router at all: it is completed immediately with ErrCanceled and its
// pending record is removed, since the router either answers
// immediately and discards the yield (killnowait) or lets the call run
// to completion while discarding the result on the caller's behalf
// (skip) — in both cases nothing arrives back, mirroring cppwamp's
// requestor, for which every mode but kill completes locally.
func (r *Requestor) cancelCall(ctx context.Context, requestID uint64, mode CancelMode) error {
	r.mu.Lock()
	var p *pendingRequest
	for k, cand := range r.pending {
		if k.RequestID == requestID && k.Kind == KindCall {
			p = cand
			break
		}
	}
	if p == nil {
		r.mu.Unlock()
		return ErrInvalidState
	}
	p.canceled = true
	r.mu.Unlock()

	msg := NewCancel(requestID, CancelOptions{Mode: mode}.toWire())
	if err := r.peer.Send(ctx, msg); err != nil {
		return err
	}
	if mode != CancelKill {
		key := RequestKey{Kind: KindCall, RequestID: requestID}
		r.mu.Lock()
		_, stillPending := r.pending[key]
		delete(r.pending, key)
		r.sched.erase(requestID)
		r.mu.Unlock()
		if p.caller != nil {
			p.caller.deliver(nil, ErrCanceled)
		} else if stillPending {
			p.done <- Reply{Err: ErrCanceled}
		}
	}
	return nil
}

// sendCallerChunk transmits a subsequent CALL carrying a caller-initiated
// progressive chunk, reusing requestID and the original kind (KindCall).
func (r *Requestor) sendCallerChunk(ctx context.Context, requestID uint64, chunk Chunk, procedure string, options map[string]any) error {
	if options == nil {
		options = map[string]any{}
	}
	options["progress"] = !chunk.Final
	msg := NewCall(requestID, options, procedure, chunk.Args, chunk.Kwargs)
	return r.peer.Send(ctx, msg)
}

// abandonAll fails every outstanding request with reason, used when the
// underlying session is lost.
func (r *Requestor) abandonAll(reason error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[RequestKey]*pendingRequest)
	r.sched.clear()
	r.mu.Unlock()

	for _, p := range pending {
		if p.caller != nil {
			p.caller.deliver(nil, reason)
			continue
		}
		p.done <- Reply{Err: reason}
	}
}

// --- caller-side streaming channel --------------------------------------

type callerChannelState int

const (
	callerOpen callerChannelState = iota
	callerClosed
)

// CallerChannel is the caller-facing handle for a call that may receive
// progressive results and may itself send progressive chunks.
type CallerChannel struct {
	mu        sync.Mutex
	state     callerChannelState
	requestID uint64
	requestor *Requestor
	procedure string
	options   map[string]any
	chunks    chan Chunk
	errc      chan error
	closeOnce sync.Once
}

func newCallerChannel(requestID uint64, requestor *Requestor) *CallerChannel {
	return &CallerChannel{
		requestID: requestID,
		requestor: requestor,
		chunks:    make(chan Chunk, 8),
		errc:      make(chan error, 1),
	}
}

// RequestID returns the CALL's request id, usable with Session.Cancel.
func (c *CallerChannel) RequestID() uint64 { return c.requestID }

// Results returns the channel of incoming result chunks. It is closed
// once the final result or an error arrives; check Err after it closes.
func (c *CallerChannel) Results() <-chan Chunk { return c.chunks }

// Err returns the terminal error, if the channel closed abnormally.
func (c *CallerChannel) Err() error {
	select {
	case err := <-c.errc:
		return err
	default:
		return nil
	}
}

// Send transmits a caller-initiated progressive chunk for this call.
func (c *CallerChannel) Send(ctx context.Context, chunk Chunk) error {
	return c.requestor.sendCallerChunk(ctx, c.requestID, chunk, c.procedure, c.options)
}

// Cancel requests cancellation of this call with the given mode.
func (c *CallerChannel) Cancel(ctx context.Context, mode CancelMode) error {
	return c.requestor.cancelCall(ctx, c.requestID, mode)
}

func (c *CallerChannel) deliver(msg *Message, err error) {
	c.mu.Lock()
	if c.state == callerClosed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.state = callerClosed
		c.mu.Unlock()
		c.errc <- err
		close(c.chunks)
		return
	}
	final := !msg.IsProgressive()
	if final {
		c.state = callerClosed
	}
	c.mu.Unlock()

	c.chunks <- Chunk{Args: msg.Args, Kwargs: msg.Kwargs, Final: final}
	if final {
		close(c.chunks)
	}
}

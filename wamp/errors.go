// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"errors"
	"fmt"
)

// Well-known error URIs defined by the WAMP basic and advanced profiles.
const (
	ErrURIInvalidURI              = "wamp.error.invalid_uri"
	ErrURINoSuchProcedure         = "wamp.error.no_such_procedure"
	ErrURIProcedureAlreadyExists  = "wamp.error.procedure_already_exists"
	ErrURINoSuchRegistration      = "wamp.error.no_such_registration"
	ErrURINoSuchSubscription      = "wamp.error.no_such_subscription"
	ErrURIInvalidArgument         = "wamp.error.invalid_argument"
	ErrURISystemShutdown          = "wamp.error.system_shutdown"
	ErrURICloseRealm              = "wamp.error.close_realm"
	ErrURIGoodbyeAndOut           = "wamp.error.goodbye_and_out"
	ErrURIProtocolViolation       = "wamp.error.protocol_violation"
	ErrURINotAuthorized           = "wamp.error.not_authorized"
	ErrURIAuthorizationFailed     = "wamp.error.authorization_failed"
	ErrURINoSuchRealm             = "wamp.error.no_such_realm"
	ErrURINoSuchRole              = "wamp.error.no_such_role"
	ErrURICanceled                = "wamp.error.canceled"
	ErrURIOptionNotAllowed        = "wamp.error.option_not_allowed"
	ErrURINoEligibleCallee        = "wamp.error.no_eligible_callee"
	ErrURINetworkFailure          = "wamp.error.network_failure"
	ErrURIPayloadSizeExceeded     = "wamp.error.payload_size_exceeded"
	ErrURITimeout                 = "wamp.error.timeout"
	// ErrURIResourceExhausted is not part of the WAMP advanced profile; it
	// is a local-only outcome used by the optional rate-limiter wiring on
	// a registration and never initiated by a router.
	ErrURIResourceExhausted = "wamp.error.resource_exhausted"
)

// Error is a WAMP application error: a URI plus positional and keyword
// payload, as carried by an ERROR message or raised from a call-slot.
type Error struct {
	URI    string
	Args   []any
	Kwargs map[string]any
}

func NewError(uri string, args ...any) *Error {
	return &Error{URI: uri, Args: args}
}

func (e *Error) Error() string {
	return fmt.Sprintf("wamp error: %s", e.URI)
}

// Is allows errors.Is(err, NewError(uri)) to match purely on URI.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.URI == e.URI
}

// Session errors — reasons for session termination or local refusal.
var (
	ErrSessionEnded         = errors.New("wamp: session ended")
	ErrSessionEndedByPeer   = errors.New("wamp: session ended by peer")
	ErrSessionAbortedByPeer = errors.New("wamp: session aborted by peer")
	ErrInvalidState         = errors.New("wamp: operation not valid in current session state")
	ErrNoSuchRealm          = errors.New("wamp: no such realm")
	ErrNoSuchRole           = errors.New("wamp: no such role")
	ErrProtocolViolation    = errors.New("wamp: protocol violation")
	ErrAuthorizationFailed  = errors.New("wamp: authorization failed")
	ErrCanceled             = errors.New("wamp: call canceled")
)

// TransportError carries a transport-level failure.
type TransportError struct {
	Reason string
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wamp: transport error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("wamp: transport error: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Cause }

var (
	ErrAborted            = &TransportError{Reason: "aborted"}
	ErrTransportFailed    = &TransportError{Reason: "failed"}
	ErrBadTxLength        = &TransportError{Reason: "bad_tx_length"}
	ErrBadRxLength        = &TransportError{Reason: "bad_rx_length"}
	ErrAllTransportsFailed = &TransportError{Reason: "all_transports_failed"}
)

// CodecError carries a decode failure.
type CodecError struct {
	Reason string
	Cause  error
}

func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wamp: codec error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("wamp: codec error: %s", e.Reason)
}

func (e *CodecError) Unwrap() error { return e.Cause }

// PayloadSizeExceededError is returned locally by Send when an outgoing
// message's encoded size exceeds the negotiated maximum. It does not
// terminate the session.
type PayloadSizeExceededError struct {
	Size, Max int
}

func (e *PayloadSizeExceededError) Error() string {
	return fmt.Sprintf("wamp: payload of %d bytes exceeds max length %d", e.Size, e.Max)
}

func (e *PayloadSizeExceededError) Is(target error) bool {
	_, ok := target.(*PayloadSizeExceededError)
	return ok
}

// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import "fmt"

// RequestKey is the (requestKind, requestId) pair used to correlate an
// outgoing request with its eventual reply.
type RequestKey struct {
	Kind      Kind
	RequestID uint64
}

// Message is a tagged-variant structure representing any one of the WAMP
// message kinds the core understands. Not every field is meaningful for
// every Kind; Validate reports which fields a given Kind requires.
type Message struct {
	Kind Kind

	RequestID      uint64
	RequestKind    Kind // ERROR only: the requestType field
	SessionID      uint64
	SubscriptionID uint64
	PublicationID  uint64
	RegistrationID uint64

	Realm     string
	Topic     string
	Procedure string
	AuthMethod string
	Signature string
	Reason    string // ABORT/GOODBYE reason URI
	URI       string // ERROR's error URI

	// Options carries whichever of details/extra/options the wire shape
	// names for this Kind.
	Options map[string]any
	Args    []any
	Kwargs  map[string]any
}

// ReplyKey returns the RequestKey that this message, if it is a reply,
// answers. ok is false if m is not a reply-bearing kind.
func (m *Message) ReplyKey() (key RequestKey, ok bool) {
	if m.Kind == KindError {
		return RequestKey{Kind: m.RequestKind, RequestID: m.RequestID}, true
	}
	if orig, has := replyOf[m.Kind]; has {
		return RequestKey{Kind: orig, RequestID: m.RequestID}, true
	}
	return RequestKey{}, false
}

// OwnKey returns the RequestKey under which a pending outgoing request of
// this kind should be stored, i.e. (m.Kind, m.RequestID).
func (m *Message) OwnKey() RequestKey {
	return RequestKey{Kind: m.Kind, RequestID: m.RequestID}
}

// IsProgressive reports whether the CALL/RESULT/YIELD options carry
// progress=true.
func (m *Message) IsProgressive() bool {
	if m.Options == nil {
		return false
	}
	v, _ := m.Options["progress"].(bool)
	return v
}

// ReceivesProgress reports whether a CALL's options requested progressive
// results via receive_progress=true.
func (m *Message) ReceivesProgress() bool {
	if m.Options == nil {
		return false
	}
	v, _ := m.Options["receive_progress"].(bool)
	return v
}

// fieldSpec describes, for documentation and validation purposes, which
// fields a Kind's wire shape fixes.
type fieldSpec struct {
	requestID      bool
	sessionID      bool
	subscriptionID bool
	publicationID  bool
	registrationID bool
	requestKind    bool
	realm          bool
	topic          bool
	procedure      bool
	authMethod     bool
	signature      bool
	reason         bool
	uri            bool
	options        bool
	argsOptional   bool
}

var fieldSpecs = map[Kind]fieldSpec{
	KindHello:        {realm: true, options: true},
	KindWelcome:      {sessionID: true, options: true},
	KindAbort:        {options: true, reason: true},
	KindChallenge:    {authMethod: true, options: true},
	KindAuthenticate: {signature: true, options: true},
	KindGoodbye:      {options: true, reason: true},
	KindError:        {requestKind: true, requestID: true, options: true, uri: true, argsOptional: true},
	KindPublish:      {requestID: true, options: true, topic: true, argsOptional: true},
	KindPublished:    {requestID: true, publicationID: true},
	KindSubscribe:    {requestID: true, options: true, topic: true},
	KindSubscribed:   {requestID: true, subscriptionID: true},
	KindUnsubscribe:  {requestID: true, subscriptionID: true},
	KindUnsubscribed: {requestID: true},
	KindEvent:        {subscriptionID: true, publicationID: true, options: true, argsOptional: true},
	KindCall:         {requestID: true, options: true, procedure: true, argsOptional: true},
	KindCancel:       {requestID: true, options: true},
	KindResult:       {requestID: true, options: true, argsOptional: true},
	KindRegister:     {requestID: true, options: true, procedure: true},
	KindRegistered:   {requestID: true, registrationID: true},
	KindUnregister:   {requestID: true, registrationID: true},
	KindUnregistered: {requestID: true},
	KindInvocation:   {requestID: true, registrationID: true, options: true, argsOptional: true},
	KindInterrupt:    {requestID: true, options: true},
	KindYield:        {requestID: true, options: true, argsOptional: true},
}

// Validate rejects malformed message shapes: an unknown Kind, a zero
// request-id on a request-bearing Kind (request-id 0 never occurs), or an
// empty realm, topic, procedure, authmethod or error URI where the Kind
// requires one. Session, subscription, publication and registration ids,
// signature and reason are not checked. A nil Options is replaced by an
// empty map for Kinds that carry one.
func (m *Message) Validate() error {
	spec, ok := fieldSpecs[m.Kind]
	if !ok {
		return &CodecError{Reason: fmt.Sprintf("unknown message kind %d", int(m.Kind))}
	}
	if spec.requestID && m.RequestID == 0 {
		return &CodecError{Reason: fmt.Sprintf("%s: missing requestId", m.Kind)}
	}
	if spec.realm && m.Realm == "" {
		return &CodecError{Reason: fmt.Sprintf("%s: missing realm", m.Kind)}
	}
	if spec.topic && m.Topic == "" {
		return &CodecError{Reason: fmt.Sprintf("%s: missing topic", m.Kind)}
	}
	if spec.procedure && m.Procedure == "" {
		return &CodecError{Reason: fmt.Sprintf("%s: missing procedure", m.Kind)}
	}
	if spec.authMethod && m.AuthMethod == "" {
		return &CodecError{Reason: fmt.Sprintf("%s: missing authmethod", m.Kind)}
	}
	if spec.uri && m.URI == "" {
		return &CodecError{Reason: fmt.Sprintf("%s: missing error uri", m.Kind)}
	}
	if m.Options == nil && spec.options {
		m.Options = map[string]any{}
	}
	return nil
}

// --- constructors -----------------------------------------------------

func NewHello(realm string, details map[string]any) *Message {
	return &Message{Kind: KindHello, Realm: realm, Options: details}
}

func NewWelcome(sessionID uint64, details map[string]any) *Message {
	return &Message{Kind: KindWelcome, SessionID: sessionID, Options: details}
}

func NewAbort(details map[string]any, reason string) *Message {
	return &Message{Kind: KindAbort, Options: details, Reason: reason}
}

func NewChallenge(method string, extra map[string]any) *Message {
	return &Message{Kind: KindChallenge, AuthMethod: method, Options: extra}
}

func NewAuthenticate(signature string, extra map[string]any) *Message {
	return &Message{Kind: KindAuthenticate, Signature: signature, Options: extra}
}

func NewGoodbye(details map[string]any, reason string) *Message {
	return &Message{Kind: KindGoodbye, Options: details, Reason: reason}
}

func NewErrorMessage(requestKind Kind, requestID uint64, uri string, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{
		Kind: KindError, RequestKind: requestKind, RequestID: requestID,
		URI: uri, Options: details, Args: args, Kwargs: kwargs,
	}
}

func NewPublish(requestID uint64, options map[string]any, topic string, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindPublish, RequestID: requestID, Options: options, Topic: topic, Args: args, Kwargs: kwargs}
}

func NewPublished(requestID, publicationID uint64) *Message {
	return &Message{Kind: KindPublished, RequestID: requestID, PublicationID: publicationID}
}

func NewSubscribe(requestID uint64, options map[string]any, topic string) *Message {
	return &Message{Kind: KindSubscribe, RequestID: requestID, Options: options, Topic: topic}
}

func NewSubscribed(requestID, subscriptionID uint64) *Message {
	return &Message{Kind: KindSubscribed, RequestID: requestID, SubscriptionID: subscriptionID}
}

func NewUnsubscribe(requestID, subscriptionID uint64) *Message {
	return &Message{Kind: KindUnsubscribe, RequestID: requestID, SubscriptionID: subscriptionID}
}

func NewUnsubscribed(requestID uint64) *Message {
	return &Message{Kind: KindUnsubscribed, RequestID: requestID}
}

func NewEvent(subscriptionID, publicationID uint64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindEvent, SubscriptionID: subscriptionID, PublicationID: publicationID, Options: details, Args: args, Kwargs: kwargs}
}

func NewCall(requestID uint64, options map[string]any, procedure string, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindCall, RequestID: requestID, Options: options, Procedure: procedure, Args: args, Kwargs: kwargs}
}

func NewCancel(requestID uint64, options map[string]any) *Message {
	return &Message{Kind: KindCancel, RequestID: requestID, Options: options}
}

func NewResult(requestID uint64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindResult, RequestID: requestID, Options: details, Args: args, Kwargs: kwargs}
}

func NewRegister(requestID uint64, options map[string]any, procedure string) *Message {
	return &Message{Kind: KindRegister, RequestID: requestID, Options: options, Procedure: procedure}
}

func NewRegistered(requestID, registrationID uint64) *Message {
	return &Message{Kind: KindRegistered, RequestID: requestID, RegistrationID: registrationID}
}

func NewUnregister(requestID, registrationID uint64) *Message {
	return &Message{Kind: KindUnregister, RequestID: requestID, RegistrationID: registrationID}
}

func NewUnregistered(requestID uint64) *Message {
	return &Message{Kind: KindUnregistered, RequestID: requestID}
}

func NewInvocation(requestID, registrationID uint64, details map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindInvocation, RequestID: requestID, RegistrationID: registrationID, Options: details, Args: args, Kwargs: kwargs}
}

func NewInterrupt(requestID uint64, options map[string]any) *Message {
	return &Message{Kind: KindInterrupt, RequestID: requestID, Options: options}
}

func NewYield(requestID uint64, options map[string]any, args []any, kwargs map[string]any) *Message {
	return &Message{Kind: KindYield, RequestID: requestID, Options: options, Args: args, Kwargs: kwargs}
}

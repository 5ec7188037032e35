// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"encoding/json"
	"fmt"

	"github.com/wamp-go/core/internal/strictopts"
)

// Codec encodes and decodes a Message to and from a wire frame. The core
// treats payload/variant contents opaquely; a Codec is
// responsible only for the envelope shape and for round-tripping
// args/kwargs values in whatever representation the application expects.
type Codec interface {
	// Encode serializes msg into a single transport frame.
	Encode(msg *Message) ([]byte, error)
	// Decode parses a single transport frame into a Message. It must
	// return a *CodecError for any structural violation, including empty
	// input.
	Decode(frame []byte) (*Message, error)
}

// JSONCodec implements Codec using the standard WAMP JSON representation:
// a JSON array whose first element is the numeric Kind.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	fields, err := jsonFields(msg)
	if err != nil {
		return nil, &CodecError{Reason: "encode", Cause: err}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &CodecError{Reason: "encode", Cause: err}
	}
	return data, nil
}

func (JSONCodec) Decode(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, &CodecError{Reason: "empty input"}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, &CodecError{Reason: "malformed message array", Cause: err}
	}
	if len(raw) == 0 {
		return nil, &CodecError{Reason: "empty message array"}
	}
	var kindNum int
	if err := json.Unmarshal(raw[0], &kindNum); err != nil {
		return nil, &CodecError{Reason: "malformed kind field", Cause: err}
	}
	msg, err := decodeJSONFields(Kind(kindNum), raw[1:])
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// jsonFields lays msg out as the positional []any the JSON wire
// representation requires for its Kind.
func jsonFields(m *Message) ([]any, error) {
	switch m.Kind {
	case KindHello:
		return []any{int(m.Kind), m.Realm, optMap(m.Options)}, nil
	case KindWelcome:
		return []any{int(m.Kind), m.SessionID, optMap(m.Options)}, nil
	case KindAbort:
		return []any{int(m.Kind), optMap(m.Options), m.Reason}, nil
	case KindChallenge:
		return []any{int(m.Kind), m.AuthMethod, optMap(m.Options)}, nil
	case KindAuthenticate:
		return []any{int(m.Kind), m.Signature, optMap(m.Options)}, nil
	case KindGoodbye:
		return []any{int(m.Kind), optMap(m.Options), m.Reason}, nil
	case KindError:
		return appendArgsKwargs([]any{int(m.Kind), int(m.RequestKind), m.RequestID, optMap(m.Options), m.URI}, m), nil
	case KindPublish:
		return appendArgsKwargs([]any{int(m.Kind), m.RequestID, optMap(m.Options), m.Topic}, m), nil
	case KindPublished:
		return []any{int(m.Kind), m.RequestID, m.PublicationID}, nil
	case KindSubscribe:
		return []any{int(m.Kind), m.RequestID, optMap(m.Options), m.Topic}, nil
	case KindSubscribed:
		return []any{int(m.Kind), m.RequestID, m.SubscriptionID}, nil
	case KindUnsubscribe:
		return []any{int(m.Kind), m.RequestID, m.SubscriptionID}, nil
	case KindUnsubscribed:
		return []any{int(m.Kind), m.RequestID}, nil
	case KindEvent:
		return appendArgsKwargs([]any{int(m.Kind), m.SubscriptionID, m.PublicationID, optMap(m.Options)}, m), nil
	case KindCall:
		return appendArgsKwargs([]any{int(m.Kind), m.RequestID, optMap(m.Options), m.Procedure}, m), nil
	case KindCancel:
		return []any{int(m.Kind), m.RequestID, optMap(m.Options)}, nil
	case KindResult:
		return appendArgsKwargs([]any{int(m.Kind), m.RequestID, optMap(m.Options)}, m), nil
	case KindRegister:
		return []any{int(m.Kind), m.RequestID, optMap(m.Options), m.Procedure}, nil
	case KindRegistered:
		return []any{int(m.Kind), m.RequestID, m.RegistrationID}, nil
	case KindUnregister:
		return []any{int(m.Kind), m.RequestID, m.RegistrationID}, nil
	case KindUnregistered:
		return []any{int(m.Kind), m.RequestID}, nil
	case KindInvocation:
		return appendArgsKwargs([]any{int(m.Kind), m.RequestID, m.RegistrationID, optMap(m.Options)}, m), nil
	case KindInterrupt:
		return []any{int(m.Kind), m.RequestID, optMap(m.Options)}, nil
	case KindYield:
		return appendArgsKwargs([]any{int(m.Kind), m.RequestID, optMap(m.Options)}, m), nil
	default:
		return nil, fmt.Errorf("unknown kind %d", int(m.Kind))
	}
}

func optMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// appendArgsKwargs appends Args/Kwargs only when non-empty, matching the
// wire shape's optional trailing fields.
func appendArgsKwargs(fields []any, m *Message) []any {
	if len(m.Kwargs) > 0 {
		return append(fields, orEmptyList(m.Args), m.Kwargs)
	}
	if len(m.Args) > 0 {
		return append(fields, m.Args)
	}
	return fields
}

func orEmptyList(a []any) []any {
	if a == nil {
		return []any{}
	}
	return a
}

func decodeJSONFields(kind Kind, rest []json.RawMessage) (*Message, error) {
	m := &Message{Kind: kind}
	need := func(n int) error {
		if len(rest) < n {
			return &CodecError{Reason: fmt.Sprintf("%s: expected at least %d fields, got %d", kind, n, len(rest))}
		}
		return nil
	}
	// options decodes rest[idx] into m.Options with duplicate-key
	// hardening, wrapping any failure as a CodecError.
	options := func(idx int) error {
		opts, err := strictopts.DecodeMap(rest[idx])
		if err != nil {
			return &CodecError{Reason: fmt.Sprintf("%s: options", kind), Cause: err}
		}
		m.Options = opts
		return nil
	}
	var err error
	switch kind {
	case KindHello:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.Realm)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindWelcome:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.SessionID)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindAbort:
		if err = need(2); err != nil {
			return nil, err
		}
		if err = options(0); err != nil {
			return nil, err
		}
		unmarshalAll(rest[1:], &m.Reason)
	case KindChallenge:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.AuthMethod)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindAuthenticate:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.Signature)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindGoodbye:
		if err = need(2); err != nil {
			return nil, err
		}
		if err = options(0); err != nil {
			return nil, err
		}
		unmarshalAll(rest[1:], &m.Reason)
	case KindError:
		if err = need(4); err != nil {
			return nil, err
		}
		var requestKind int
		unmarshalAll(rest, &requestKind, &m.RequestID)
		m.RequestKind = Kind(requestKind)
		if err = options(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest[3:], &m.URI)
		if err = decodeTrailing(rest[4:], m); err != nil {
			return nil, err
		}
	case KindPublish:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest[2:], &m.Topic)
		if err = decodeTrailing(rest[3:], m); err != nil {
			return nil, err
		}
	case KindPublished:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.PublicationID)
	case KindSubscribe:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest[2:], &m.Topic)
	case KindSubscribed:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.SubscriptionID)
	case KindUnsubscribe:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.SubscriptionID)
	case KindUnsubscribed:
		if err = need(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
	case KindEvent:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.SubscriptionID, &m.PublicationID)
		if err = options(2); err != nil {
			return nil, err
		}
		if err = decodeTrailing(rest[3:], m); err != nil {
			return nil, err
		}
	case KindCall:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest[2:], &m.Procedure)
		if err = decodeTrailing(rest[3:], m); err != nil {
			return nil, err
		}
	case KindCancel:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindResult:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		if err = decodeTrailing(rest[2:], m); err != nil {
			return nil, err
		}
	case KindRegister:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest[2:], &m.Procedure)
	case KindRegistered:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.RegistrationID)
	case KindUnregister:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.RegistrationID)
	case KindUnregistered:
		if err = need(1); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
	case KindInvocation:
		if err = need(3); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID, &m.RegistrationID)
		if err = options(2); err != nil {
			return nil, err
		}
		if err = decodeTrailing(rest[3:], m); err != nil {
			return nil, err
		}
	case KindInterrupt:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
	case KindYield:
		if err = need(2); err != nil {
			return nil, err
		}
		unmarshalAll(rest, &m.RequestID)
		if err = options(1); err != nil {
			return nil, err
		}
		if err = decodeTrailing(rest[2:], m); err != nil {
			return nil, err
		}
	default:
		return nil, &CodecError{Reason: fmt.Sprintf("unknown message kind %d", int(kind))}
	}
	return m, nil
}

// unmarshalAll decodes each raw element into the corresponding destination
// pointer, ignoring decode errors (Validate catches omissions).
func unmarshalAll(raw []json.RawMessage, dests ...any) {
	for i, d := range dests {
		if i >= len(raw) {
			return
		}
		_ = json.Unmarshal(raw[i], d)
	}
}

// decodeTrailing decodes the optional [args, kwargs] tail common to
// several message shapes; kwargs goes through the same duplicate-key
// hardening as the options maps.
func decodeTrailing(tail []json.RawMessage, m *Message) error {
	if len(tail) > 0 {
		_ = json.Unmarshal(tail[0], &m.Args)
	}
	if len(tail) > 1 {
		kwargs, err := strictopts.DecodeMap(tail[1])
		if err != nil {
			return &CodecError{Reason: fmt.Sprintf("%s: kwargs", m.Kind), Cause: err}
		}
		m.Kwargs = kwargs
	}
	return nil
}

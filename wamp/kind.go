// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import "fmt"

// Kind identifies a WAMP message type. It is always the first element of
// the message's wire array.
type Kind int

const (
	KindHello        Kind = 1
	KindWelcome      Kind = 2
	KindAbort        Kind = 3
	KindChallenge    Kind = 4
	KindAuthenticate Kind = 5
	KindGoodbye      Kind = 6
	KindError        Kind = 8

	KindPublish     Kind = 16
	KindPublished   Kind = 17
	KindSubscribe   Kind = 32
	KindSubscribed  Kind = 33
	KindUnsubscribe Kind = 34
	KindUnsubscribed Kind = 35
	KindEvent       Kind = 36

	KindCall       Kind = 48
	KindCancel     Kind = 49
	KindResult     Kind = 50
	KindRegister   Kind = 64
	KindRegistered Kind = 65
	KindUnregister Kind = 66
	KindUnregistered Kind = 67
	KindInvocation Kind = 68
	KindInterrupt  Kind = 69
	KindYield      Kind = 70
)

var kindNames = map[Kind]string{
	KindHello:        "HELLO",
	KindWelcome:      "WELCOME",
	KindAbort:        "ABORT",
	KindChallenge:    "CHALLENGE",
	KindAuthenticate: "AUTHENTICATE",
	KindGoodbye:      "GOODBYE",
	KindError:        "ERROR",
	KindPublish:      "PUBLISH",
	KindPublished:    "PUBLISHED",
	KindSubscribe:    "SUBSCRIBE",
	KindSubscribed:   "SUBSCRIBED",
	KindUnsubscribe:  "UNSUBSCRIBE",
	KindUnsubscribed: "UNSUBSCRIBED",
	KindEvent:        "EVENT",
	KindCall:         "CALL",
	KindCancel:       "CANCEL",
	KindResult:       "RESULT",
	KindRegister:     "REGISTER",
	KindRegistered:   "REGISTERED",
	KindUnregister:   "UNREGISTER",
	KindUnregistered: "UNREGISTERED",
	KindInvocation:   "INVOCATION",
	KindInterrupt:    "INTERRUPT",
	KindYield:        "YIELD",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// requestBearing is the set of kinds that carry a requestId field and thus
// participate in request/reply correlation.
var requestBearing = map[Kind]bool{
	KindError:        true,
	KindPublish:      true,
	KindPublished:    true,
	KindSubscribe:    true,
	KindSubscribed:   true,
	KindUnsubscribe:  true,
	KindUnsubscribed: true,
	KindCall:         true,
	KindCancel:       true,
	KindResult:       true,
	KindRegister:     true,
	KindRegistered:   true,
	KindUnregister:   true,
	KindUnregistered: true,
	KindInvocation:   true,
	KindInterrupt:    true,
	KindYield:        true,
}

// HasRequestID reports whether messages of this kind carry a requestId.
func (k Kind) HasRequestID() bool { return requestBearing[k] }

// replyOf maps a reply-bearing kind to the request kind it answers, for
// kinds where the relationship is fixed (not carried via ERROR's
// requestType field).
var replyOf = map[Kind]Kind{
	KindPublished:    KindPublish,
	KindSubscribed:   KindSubscribe,
	KindUnsubscribed: KindUnsubscribe,
	KindResult:       KindCall,
	KindRegistered:   KindRegister,
	KindUnregistered: KindUnregister,
}

// IsReply reports whether the kind is one that correlates to an earlier
// outgoing request via a reply-key.
func (k Kind) IsReply() bool {
	if k == KindError {
		return true
	}
	_, ok := replyOf[k]
	return ok
}

// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import "testing"

func TestMessageReplyKey(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want RequestKey
		ok   bool
	}{
		{
			name: "published answers publish",
			msg:  NewPublished(7, 100),
			want: RequestKey{Kind: KindPublish, RequestID: 7},
			ok:   true,
		},
		{
			name: "result answers call",
			msg:  NewResult(3, nil, nil, nil),
			want: RequestKey{Kind: KindCall, RequestID: 3},
			ok:   true,
		},
		{
			name: "error carries its own requestType",
			msg:  NewErrorMessage(KindCall, 5, ErrURITimeout, nil, nil, nil),
			want: RequestKey{Kind: KindCall, RequestID: 5},
			ok:   true,
		},
		{
			name: "event is not a reply",
			msg:  NewEvent(1, 2, nil, nil, nil),
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.msg.ReplyKey()
			if ok != tt.ok {
				t.Fatalf("ReplyKey() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ReplyKey() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"hello with realm", NewHello("realm1", nil), false},
		{"hello without realm", NewHello("", nil), true},
		{"call without procedure", &Message{Kind: KindCall, RequestID: 1}, true},
		{"unregistered with requestID", NewUnregistered(9), false},
		{"unregistered without requestID", &Message{Kind: KindUnregistered}, true},
		{"unknown kind", &Message{Kind: Kind(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsOptions(t *testing.T) {
	msg := NewHello("realm1", nil)
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if msg.Options == nil {
		t.Error("Validate() left Options nil, want defaulted to empty map")
	}
}

func TestIsProgressiveReceivesProgress(t *testing.T) {
	msg := NewCall(1, map[string]any{"receive_progress": true}, "proc", nil, nil)
	if !msg.ReceivesProgress() {
		t.Error("ReceivesProgress() = false, want true")
	}
	if msg.IsProgressive() {
		t.Error("IsProgressive() = true, want false")
	}

	yield := NewYield(1, map[string]any{"progress": true}, nil, nil)
	if !yield.IsProgressive() {
		t.Error("IsProgressive() = false, want true")
	}
}

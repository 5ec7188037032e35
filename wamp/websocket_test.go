// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebSocketTransportSendReceive(t *testing.T) {
	accepted := make(chan *WebSocketTransport, 1)
	listener := NewWebSocketListener(func(t *WebSocketTransport) { accepted <- t }, 0)
	server := httptest.NewServer(listener)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := DialWebSocket(wsURL, nil, nil, 0).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer client.Close()

	var serverSide *WebSocketTransport
	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to accept connection")
	}
	defer serverSide.Close()

	frame := []byte(`[1, "realm1", {}]`)
	if err := client.Send(context.Background(), frame); err != nil {
		t.Fatalf("client.Send() = %v", err)
	}
	got, err := serverSide.Receive(context.Background())
	if err != nil {
		t.Fatalf("serverSide.Receive() = %v", err)
	}
	if string(got) != string(frame) {
		t.Errorf("serverSide.Receive() = %s, want %s", got, frame)
	}
}

func TestWebSocketTransportCloseIsIdempotent(t *testing.T) {
	listener := NewWebSocketListener(func(t *WebSocketTransport) {}, 0)
	server := httptest.NewServer(listener)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := DialWebSocket(wsURL, nil, nil, 0).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestWebSocketListenerRejectsNonUpgrade(t *testing.T) {
	listener := NewWebSocketListener(func(t *WebSocketTransport) {}, 0)
	server := httptest.NewServer(listener)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("http.Get() = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Errorf("plain GET to a WAMP websocket listener = 200, want an upgrade failure status")
	}
}

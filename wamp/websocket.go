// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wampSubprotocol is the WebSocket subprotocol name routers expect for
// the JSON serialization (draft-oberstet-hybi-tavendo-wamp).
const wampSubprotocol = "wamp.2.json"

// WebSocketTransport adapts a gorilla/websocket connection to the frame-
// oriented Transport interface, with Read/Write renamed to Receive/Send
// and JSON-RPC framing dropped in favor of passing the raw frame through
// to the Peer's Codec.
type WebSocketTransport struct {
	conn *websocket.Conn

	// MaxLength caps the encoded frame size Send accepts. Zero means
	// unlimited.
	MaxLength int

	mu        sync.Mutex
	closeOnce sync.Once
}

var _ Transport = (*WebSocketTransport)(nil)

// DialWebSocket connects to url using the wamp.2.json subprotocol and
// returns a Wish suitable for Peer.Connect/Session.Connect. maxLength caps
// the encoded frame size the resulting transport's Send accepts; zero
// means unlimited.
func DialWebSocket(url string, dialer *websocket.Dialer, header http.Header, maxLength int) Wish {
	return Wish{
		Name: url,
		Dial: func(ctx context.Context) (Transport, error) {
			if dialer == nil {
				dialer = websocket.DefaultDialer
			}
			d := *dialer
			d.Subprotocols = []string{wampSubprotocol}
			conn, resp, err := d.DialContext(ctx, url, header)
			if err != nil {
				if resp != nil {
					return nil, fmt.Errorf("websocket connection failed: %w (status: %d)", err, resp.StatusCode)
				}
				return nil, fmt.Errorf("websocket connection failed: %w", err)
			}
			return &WebSocketTransport{conn: conn, MaxLength: maxLength}, nil
		},
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	if t.MaxLength > 0 && len(frame) > t.MaxLength {
		return &PayloadSizeExceededError{Size: len(frame), Max: t.MaxLength}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &TransportError{Reason: "failed", Cause: err}
	}
	return nil
}

func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.conn.Close()
		case <-done:
		}
	}()

	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, &TransportError{Reason: "failed", Cause: err}
	}
	if messageType != websocket.TextMessage {
		return nil, &TransportError{Reason: "bad_rx_length", Cause: fmt.Errorf("unexpected websocket message type %d", messageType)}
	}
	return data, nil
}

func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

// WebSocketListener upgrades incoming HTTP connections to WebSocket
// Transports for a router-side (or test double) peer.
type WebSocketListener struct {
	upgrader  websocket.Upgrader
	accept    func(*WebSocketTransport)
	maxLength int
}

// NewWebSocketListener builds a listener whose ServeHTTP upgrades
// connections and hands each accepted Transport to onAccept. maxLength caps
// the encoded frame size each accepted transport's Send accepts; zero means
// unlimited.
func NewWebSocketListener(onAccept func(*WebSocketTransport), maxLength int) *WebSocketListener {
	return &WebSocketListener{
		accept:    onAccept,
		maxLength: maxLength,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{wampSubprotocol},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
	}
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}
	l.accept(&WebSocketTransport{conn: conn, MaxLength: l.maxLength})
}

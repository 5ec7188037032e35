// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

import (
	"context"
	"io"
	"sync"
)

// Transport delivers and accepts whole message frames. Byte-level
// establishment (TCP/TLS/WebSocket upgrade, handshake framing) is outside
// the core's scope; a Transport is handed to the Peer already
// connected.
type Transport interface {
	// Send writes one frame. It must not interleave partial frames from
	// concurrent callers; implementations serialize writes internally
	// since the Peer calls Send from whichever goroutine is sending,
	// without holding its own lock.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for the next frame, or returns io.EOF when the peer
	// closed the stream gracefully, or another error for abnormal closure.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}

// Wish is one entry in a connect wish-list: a way to attempt a Transport,
// tried in order by Connect.
type Wish struct {
	Name  string
	Dial  func(ctx context.Context) (Transport, error)
}

// connectWithWishes attempts each wish's Dial in order until one succeeds.
// If all fail and there was more than one wish, the returned error is a
// new *TransportError with Reason "all_transports_failed" (the Reason of
// ErrAllTransportsFailed, not that sentinel value itself) wrapping the last
// attempt's error; with exactly one wish, the error is that wish's own
// error.
func connectWithWishes(ctx context.Context, wishes []Wish) (Transport, error) {
	var lastErr error
	for _, w := range wishes {
		t, err := w.Dial(ctx)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	if len(wishes) > 1 {
		return nil, &TransportError{Reason: "all_transports_failed", Cause: lastErr}
	}
	return nil, lastErr
}

// pipeCloser is shared by both ends of a pipe so that either side closing
// it closes both, exactly once.
type pipeCloser struct {
	once sync.Once
	ch   chan struct{}
}

func (c *pipeCloser) close() {
	c.once.Do(func() { close(c.ch) })
}

// PipeTransport is an in-process Transport backed by two channels; it is
// the reference Transport used by tests to connect a session directly to
// a far end without real sockets.
type PipeTransport struct {
	out    chan []byte
	in     chan []byte
	closer *pipeCloser

	// MaxLength caps the encoded frame size Send accepts. Zero means
	// unlimited. Settable directly after NewPipe returns.
	MaxLength int
}

// NewPipe returns two PipeTransports wired to each other.
func NewPipe() (a, b *PipeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	closer := &pipeCloser{ch: make(chan struct{})}
	a = &PipeTransport{out: ab, in: ba, closer: closer}
	b = &PipeTransport{out: ba, in: ab, closer: closer}
	return a, b
}

var _ Transport = (*PipeTransport)(nil)

func (p *PipeTransport) Send(ctx context.Context, frame []byte) error {
	if p.MaxLength > 0 && len(frame) > p.MaxLength {
		return &PayloadSizeExceededError{Size: len(frame), Max: p.MaxLength}
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case p.out <- cp:
		return nil
	case <-p.closer.ch:
		return &TransportError{Reason: "failed", Cause: io.ErrClosedPipe}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.closer.ch:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeTransport) Close() error {
	p.closer.close()
	return nil
}

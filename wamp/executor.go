// Copyright 2024 The Wamp-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wamp

// Executor runs a posted function, possibly on another goroutine. User
// callbacks (event slots, call slots, chunk sinks, interrupt slots) are
// dispatched through an Executor selected by the caller, never while a
// core lock is held. With SyncExecutor they run on the posting goroutine
// (for example the receive loop).
type Executor interface {
	Post(fn func())
}

// GoroutineExecutor runs every posted function on its own goroutine. It is
// the default Executor when none is supplied.
type GoroutineExecutor struct{}

func (GoroutineExecutor) Post(fn func()) { go fn() }

// SyncExecutor runs posted functions immediately on the calling goroutine.
// Useful in tests that need deterministic ordering.
type SyncExecutor struct{}

func (SyncExecutor) Post(fn func()) { fn() }

func defaultExecutor(e Executor) Executor {
	if e == nil {
		return GoroutineExecutor{}
	}
	return e
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvsync

import "sync"

// WaitChan is the kernel's sleep/wakeup rendezvous. xv6's
// sleep(chan, lock) and wakeup(chan) key
// waiters by the address of an arbitrary kernel object. A hosted Go
// process has no stable "address" worth hashing on, so each logical
// wait channel is instead a WaitChan value owned by the structure it
// protects (a buffer's sleep lock, the log's admission condition).
//
// Wait captures the current generation's channel before invoking the
// caller-supplied release function, so a Wakeup that runs concurrently
// with release can never be missed: it closes the very channel the
// waiter is about to block on, not a later one.
type WaitChan struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewWaitChan returns a ready-to-use wait channel.
func NewWaitChan() *WaitChan {
	return &WaitChan{ch: make(chan struct{})}
}

// Wait atomically releases the caller's lock (by invoking release)
// and parks until the next Wakeup. On return, the caller's lock is
// NOT held again; callers follow xv6's convention of re-acquiring it
// themselves and rechecking their condition in a loop.
//
// Parking while h still holds any spin lock is fatal: a suspended
// hart cannot release what it holds, and everything behind that lock
// would wedge with it.
func (w *WaitChan) Wait(h *Hart, release func()) {
	w.mu.Lock()
	gen := w.ch
	w.mu.Unlock()

	release()
	if h.HoldingAny() {
		panic("xvsync: Wait: sleeping while holding a spin lock")
	}

	<-gen
}

// Wakeup marks every current waiter runnable. Waiters that arrive
// after this call are not affected, matching xv6's wakeup(), which
// only wakes procs already asleep on chan at the time it runs.
func (w *WaitChan) Wakeup() {
	w.mu.Lock()
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}

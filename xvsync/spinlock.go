// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvsync

import (
	"sync/atomic"
)

// SpinLock is mutual exclusion for short critical sections. A holder
// must never sleep; call Acquire/Release around the smallest region
// that needs it. Acquiring a SpinLock already held by the calling
// hart is a fatal error, exactly as on bare metal it would deadlock
// the hart against itself.
type SpinLock struct {
	name   string
	state  uint32 // 0 = free, 1 = held
	holder atomic.Pointer[Hart]
}

// NewSpinLock creates a named, initially-free lock. The name is
// carried only for panic messages and diagnostics.
func NewSpinLock(name string) *SpinLock {
	return &SpinLock{name: name}
}

// Acquire spins on an atomic test-and-set until the lock is free,
// then marks the hart as holding one more critical section.
func (l *SpinLock) Acquire(h *Hart) {
	if l.Holding(h) {
		panic("xvsync: " + l.name + ": acquire of lock already held by this hart")
	}
	h.pushOff()
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// busy-wait; no real interrupt controller to yield to.
	}
	l.holder.Store(h)
}

// Release drops the lock. It panics if the calling hart does not
// hold it.
func (l *SpinLock) Release(h *Hart) {
	if !l.Holding(h) {
		panic("xvsync: " + l.name + ": release of lock not held by this hart")
	}
	l.holder.Store(nil)
	atomic.StoreUint32(&l.state, 0)
	h.popOff()
}

// Holding reports whether h currently holds l.
func (l *SpinLock) Holding(h *Hart) bool {
	return atomic.LoadUint32(&l.state) == 1 && l.holder.Load() == h
}

// Name returns the lock's diagnostic name.
func (l *SpinLock) Name() string { return l.name }

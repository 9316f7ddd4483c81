// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xvsync provides the kernel's two mutual-exclusion
// primitives: spin locks, which disable interrupts on the calling
// hart for the duration of the critical section, and sleep locks,
// which park the caller instead of busy-waiting.
//
// A hosted Go process has no hart register and no interrupt
// controller, so where xv6 reads the current CPU out of a RISC-V
// CSR, xvsync callers carry a *Hart explicitly. This is the
// concurrency-model translation recorded in the project's design
// notes: a Hart is the handle a goroutine uses to identify itself to
// the lock package, standing in for "the CPU this code is running
// on".
package xvsync

// Hart is one simulated hardware thread. Code that would run with
// interrupts disabled on bare metal instead tracks its nesting depth
// here.
type Hart struct {
	id   int
	noff int // nesting depth of held spin locks on this hart
}

// NewHart creates a hart with the given id. Callers typically create
// one Hart per worker goroutine at boot and keep reusing it.
func NewHart(id int) *Hart {
	return &Hart{id: id}
}

// ID returns the hart's simulated id, used for diagnostics and by
// the per-CPU page allocator to index its free lists.
func (h *Hart) ID() int {
	return h.id
}

// pushOff records entry into a spin-locked critical section.
func (h *Hart) pushOff() {
	h.noff++
}

// popOff records exit from a spin-locked critical section. It
// panics if called without a matching pushOff, the same invariant
// violation xv6's popoff() guards against.
func (h *Hart) popOff() {
	if h.noff < 1 {
		panic("xvsync: popOff without pushOff")
	}
	h.noff--
}

// HoldingAny reports whether this hart currently holds one or more
// spin locks. WaitChan.Wait uses it to refuse to park while a spin
// lock is held, per the package contract.
func (h *Hart) HoldingAny() bool {
	return h.noff > 0
}

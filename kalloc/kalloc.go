// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kalloc implements the 4 KiB physical frame allocator: one
// singly-linked free list per CPU, each guarded by its own
// spin lock, with cross-CPU stealing when a CPU's own list runs dry.
//
// A hosted Go process has no physical address space to allocate out
// of, so Pool owns a fixed backing array of frames up front and hands
// out Frame, an index into it, instead of a pointer. The free list
// itself is intrusive exactly as in the original allocator: each free
// frame's slot in next links to the next free frame, so pushing and
// popping never allocates.
package kalloc

import "github.com/jnlong/xv6go/xvsync"

// PageSize is the allocation unit, matching the target's 4 KiB pages.
const PageSize = 4096

// Frame identifies one physical page by index into a Pool's backing
// array. The zero value is not a valid frame; use NoFrame to test for
// absence.
type Frame int32

// NoFrame is the sentinel returned by Alloc on exhaustion and used as
// the free-list terminator.
const NoFrame Frame = -1

type perCPU struct {
	lock *xvsync.SpinLock
	head Frame
}

// Pool is the whole-machine allocator: a fixed pool of frames
// distributed across ncpu per-CPU free lists at construction.
type Pool struct {
	frames [][PageSize]byte
	next   []Frame
	cpus   []*perCPU
}

// NewPool builds a pool of nframes pages split round-robin across
// ncpu free lists, so every CPU starts with allocable memory instead
// of needing to steal before it can run.
func NewPool(nframes, ncpu int) *Pool {
	if nframes < 0 || ncpu < 1 {
		panic("kalloc: NewPool: invalid size")
	}
	p := &Pool{
		frames: make([][PageSize]byte, nframes),
		next:   make([]Frame, nframes),
		cpus:   make([]*perCPU, ncpu),
	}
	for i := range p.cpus {
		p.cpus[i] = &perCPU{lock: xvsync.NewSpinLock("kmem"), head: NoFrame}
	}
	for i := nframes - 1; i >= 0; i-- {
		cpu := p.cpus[i%ncpu]
		p.next[i] = cpu.head
		cpu.head = Frame(i)
	}
	return p
}

// NCPU reports how many per-CPU free lists the pool manages.
func (p *Pool) NCPU() int { return len(p.cpus) }

func (p *Pool) cpuOf(h *xvsync.Hart) *perCPU {
	return p.cpus[h.ID()%len(p.cpus)]
}

// Data returns the backing bytes for f. The caller must not retain
// the slice past the frame's next Free.
func (p *Pool) Data(f Frame) []byte {
	return p.frames[f][:]
}

// Alloc returns a free frame, or NoFrame if the whole pool is
// exhausted. It first tries the calling hart's own free list; on a
// miss it scans the other CPUs in order and steals roughly half of
// the first nonempty list it finds, moving only that remote CPU's
// lock at any moment so two per-CPU locks are never held at once.
func (p *Pool) Alloc(h *xvsync.Hart) Frame {
	local := p.cpuOf(h)

	local.lock.Acquire(h)
	if f := p.popLocked(local); f != NoFrame {
		local.lock.Release(h)
		p.poison(f, 5)
		return f
	}
	local.lock.Release(h)

	if !p.steal(h, local) {
		return NoFrame
	}

	local.lock.Acquire(h)
	f := p.popLocked(local)
	local.lock.Release(h)
	if f == NoFrame {
		return NoFrame
	}
	p.poison(f, 5)
	return f
}

// popLocked removes and returns the head of cpu's free list. Caller
// holds cpu.lock.
func (p *Pool) popLocked(cpu *perCPU) Frame {
	f := cpu.head
	if f == NoFrame {
		return NoFrame
	}
	cpu.head = p.next[f]
	return f
}

// steal looks for a remote CPU with spare frames and moves
// approximately half of its list onto local. It releases the remote
// lock before acquiring local, per the allocator's deadlock-freedom
// rule: never hold two per-CPU locks simultaneously.
func (p *Pool) steal(h *xvsync.Hart, local *perCPU) bool {
	me := h.ID() % len(p.cpus)
	for off := 1; off < len(p.cpus); off++ {
		remote := p.cpus[(me+off)%len(p.cpus)]

		remote.lock.Acquire(h)
		if remote.head == NoFrame {
			remote.lock.Release(h)
			continue
		}

		// Fast/slow pointer split: slow lands on the midpoint of the
		// list, so cutting after slow peels off about half. For short
		// even-length lists the split biases toward the thief (a
		// 2-element list moves whole, a 4-element list moves 3);
		// "about half" only holds as the list grows.
		slow := remote.head
		fast := remote.head
		for fast != NoFrame && p.next[fast] != NoFrame {
			fast = p.next[p.next[fast]]
			slow = p.next[slow]
		}
		stolenHead := remote.head
		remote.head = p.next[slow]
		p.next[slow] = NoFrame
		remote.lock.Release(h)

		local.lock.Acquire(h)
		p.next[slow] = local.head
		local.head = stolenHead
		local.lock.Release(h)
		return true
	}
	return false
}

// Free returns f to the calling hart's free list after validating it
// and poisoning its contents to catch dangling references.
func (p *Pool) Free(h *xvsync.Hart, f Frame) {
	if f < 0 || int(f) >= len(p.frames) {
		panic("kalloc: Free: frame out of range")
	}
	p.poison(f, 1)

	cpu := p.cpuOf(h)
	cpu.lock.Acquire(h)
	p.next[f] = cpu.head
	cpu.head = f
	cpu.lock.Release(h)
}

func (p *Pool) poison(f Frame, b byte) {
	data := p.frames[f][:]
	for i := range data {
		data[i] = b
	}
}

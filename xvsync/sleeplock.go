// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvsync

// SleepLock is blocking, long-held mutual exclusion for data that
// may be held across an I/O wait (a buffer's data, an inode's
// fields). Unlike SpinLock, a SleepLock may be held while the holder
// sleeps, and it permits interrupts during the held interval.
type SleepLock struct {
	name   string
	spin   *SpinLock
	wc     *WaitChan
	locked bool
	holder *Hart
}

// NewSleepLock creates a named sleep lock backed by a private spin
// lock, exactly as xv6's acquiresleep builds on top of a spinlock
// guarding the `locked` flag.
func NewSleepLock(name string) *SleepLock {
	return &SleepLock{
		name: name,
		spin: NewSpinLock(name + ".spin"),
		wc:   NewWaitChan(),
	}
}

// Acquire blocks until the lock is free, then takes it.
func (s *SleepLock) Acquire(h *Hart) {
	s.spin.Acquire(h)
	for s.locked {
		s.wc.Wait(h, func() { s.spin.Release(h) })
		s.spin.Acquire(h)
	}
	s.locked = true
	s.holder = h
	s.spin.Release(h)
}

// Release drops the lock and wakes every waiter so they can recheck
// it.
func (s *SleepLock) Release(h *Hart) {
	s.spin.Acquire(h)
	if !s.locked || s.holder != h {
		s.spin.Release(h)
		panic("xvsync: " + s.name + ": release of sleep lock not held by this hart")
	}
	s.locked = false
	s.holder = nil
	s.wc.Wakeup()
	s.spin.Release(h)
}

// Holding reports whether h currently holds the lock.
func (s *SleepLock) Holding(h *Hart) bool {
	s.spin.Acquire(h)
	defer s.spin.Release(h)
	return s.locked && s.holder == h
}

// Name returns the lock's diagnostic name.
func (s *SleepLock) Name() string { return s.name }

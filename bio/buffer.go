// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bio implements the fixed-size, concurrent buffer cache:
// one cached copy of a disk block per (device, block number),
// partitioned into NBUCKET hash buckets each with its own
// spin lock, and a single global eviction lock that serializes cache
// replacement so bucket-lock deadlocks are structurally impossible.
package bio

import (
	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/xvsync"
)

// NBUCKET is the number of hash buckets partitioning the cache.
// 13 is a small prime, keeping collision chains short without
// wasting memory on empty slots.
const NBUCKET = 13

// Buffer is a cached copy of one disk block. At most one Buffer
// exists for a given (Dev, Blockno) pair at any time; callers must
// hold Lock (acquired for them by Bread/bget) before touching Data.
type Buffer struct {
	Dev     uint32
	Blockno uint32
	Data    [diskio.BSIZE]byte

	valid    bool
	ref      uint32
	lastUsed uint64
	bucket   int // current bucket index, -1 if not a member of any

	Lock *xvsync.SleepLock
}

const unbound = ^uint32(0)

func newBuffer(idx int) *Buffer {
	return &Buffer{
		Dev:     unbound,
		Blockno: unbound,
		Lock:    xvsync.NewSleepLock("buffer"),
		bucket:  -1,
	}
}

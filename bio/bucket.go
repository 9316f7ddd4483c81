// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bio

import "github.com/jnlong/xv6go/xvsync"

// hashBucket is one of the cache's NBUCKET partitions: a spin lock
// plus the list of buffers currently hashed into it. Membership
// changes (insert on rebind, remove on eviction-move) always happen
// under Lock.
type hashBucket struct {
	idx  int
	Lock *xvsync.SpinLock
	bufs []*Buffer
}

func newHashBucket(idx int) *hashBucket {
	return &hashBucket{idx: idx, Lock: xvsync.NewSpinLock("bucket")}
}

// find returns the member buffer for (dev, blockno), or nil. Caller
// holds Lock.
func (bk *hashBucket) find(dev, blockno uint32) *Buffer {
	for _, b := range bk.bufs {
		if b.Dev == dev && b.Blockno == blockno {
			return b
		}
	}
	return nil
}

// leastRecentlyUsedFree returns the unreferenced (ref == 0) member
// with the smallest lastUsed, or nil if every member is pinned or
// referenced. Caller holds Lock.
func (bk *hashBucket) leastRecentlyUsedFree() *Buffer {
	var best *Buffer
	for _, b := range bk.bufs {
		if b.ref != 0 {
			continue
		}
		if best == nil || b.lastUsed < best.lastUsed {
			best = b
		}
	}
	return best
}

// add inserts b into the bucket. Caller holds Lock.
func (bk *hashBucket) add(b *Buffer) {
	bk.bufs = append(bk.bufs, b)
	b.bucket = bk.idx
}

// remove deletes b from the bucket. Caller holds Lock.
func (bk *hashBucket) remove(b *Buffer) {
	for i, cur := range bk.bufs {
		if cur == b {
			bk.bufs = append(bk.bufs[:i], bk.bufs[i+1:]...)
			b.bucket = -1
			return
		}
	}
}

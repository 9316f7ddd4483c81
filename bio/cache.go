// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bio

import (
	"sync/atomic"

	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/xvsync"
)

// Cache is the fixed-size buffer cache. All NBUF buffers are
// allocated once at construction and never freed; they are
// repeatedly rebound to different (dev, blockno) pairs by bget.
type Cache struct {
	dev     diskio.Device
	buckets [NBUCKET]*hashBucket
	evict   *xvsync.SpinLock
	clock   uint64 // monotonic logical clock feeding Buffer.lastUsed
}

// NewCache builds a cache of nbuf buffers over dev, distributing
// them evenly across the hash buckets so every bucket starts with
// eviction candidates instead of needing to borrow from a separate
// free list.
func NewCache(dev diskio.Device, nbuf int) *Cache {
	c := &Cache{dev: dev, evict: xvsync.NewSpinLock("bcache.evict")}
	for i := range c.buckets {
		c.buckets[i] = newHashBucket(i)
	}
	for i := 0; i < nbuf; i++ {
		b := newBuffer(i)
		bk := c.buckets[i%NBUCKET]
		bk.add(b)
	}
	return c
}

// Dev returns the device the cache currently reads and writes
// through.
func (c *Cache) Dev() diskio.Device { return c.dev }

// SetDevice rebinds the cache to a different Device implementation
// wrapping the same underlying storage, without touching any cached
// buffer contents. cmd/xv6fsshell's `crash` command uses this to
// splice a diskio.CrashAfterDevice in front of a live file device.
func (c *Cache) SetDevice(dev diskio.Device) { c.dev = dev }

func hashOf(blockno uint32) int {
	return int(blockno % NBUCKET)
}

func (c *Cache) tick() uint64 {
	return atomic.AddUint64(&c.clock, 1)
}

// bget is the cache's critical path: a bucket-local hit, or an
// eviction under the global eviction lock
// with bucket locks dropped before it is taken.
func (c *Cache) bget(h *xvsync.Hart, dev, blockno uint32) *Buffer {
	k := hashOf(blockno)
	bk := c.buckets[k]

	bk.Lock.Acquire(h)
	if b := bk.find(dev, blockno); b != nil {
		b.ref++
		bk.Lock.Release(h)
		b.Lock.Acquire(h)
		return b
	}
	bk.Lock.Release(h)

	c.evict.Acquire(h)

	bk.Lock.Acquire(h)
	if b := bk.find(dev, blockno); b != nil {
		// another hart inserted it while we were taking the
		// eviction lock.
		b.ref++
		bk.Lock.Release(h)
		c.evict.Release(h)
		b.Lock.Acquire(h)
		return b
	}
	bk.Lock.Release(h)

	victim, victimBucket := c.chooseVictim(h)
	if victim == nil {
		panic("bio: bget: no free buffers")
	}
	// victimBucket.Lock is held by chooseVictim's caller contract.

	victim.Dev = dev
	victim.Blockno = blockno
	victim.valid = false
	victim.ref = 1

	if victimBucket != bk {
		victimBucket.remove(victim)
		victimBucket.Lock.Release(h)
		bk.Lock.Acquire(h)
		bk.add(victim)
		bk.Lock.Release(h)
	} else {
		victimBucket.Lock.Release(h)
	}

	c.evict.Release(h)
	victim.Lock.Acquire(h)
	return victim
}

// chooseVictim scans every bucket for the unreferenced buffer with
// the smallest lastUsed. The caller must hold c.evict; on return,
// exactly the winning bucket's lock is held (the caller is
// responsible for releasing it once the rebind is complete).
func (c *Cache) chooseVictim(h *xvsync.Hart) (*Buffer, *hashBucket) {
	var best *Buffer
	var bestBucket *hashBucket

	for i := 0; i < NBUCKET; i++ {
		cb := c.buckets[i]
		cb.Lock.Acquire(h)
		cand := cb.leastRecentlyUsedFree()
		if cand != nil && (best == nil || cand.lastUsed < best.lastUsed) {
			if bestBucket != nil {
				bestBucket.Lock.Release(h)
			}
			best = cand
			bestBucket = cb
			continue // keep cb locked: it is now the current best
		}
		cb.Lock.Release(h)
	}
	return best, bestBucket
}

// Bread returns a buffer holding block (dev, blockno), valid and
// sleep-locked by the caller. It performs at most one disk read, on
// a cache miss.
func (c *Cache) Bread(h *xvsync.Hart, dev, blockno uint32) (*Buffer, error) {
	b := c.bget(h, dev, blockno)
	if !b.valid {
		if err := c.dev.ReadBlock(blockno, b.Data[:]); err != nil {
			c.Brelse(h, b)
			return nil, err
		}
		b.valid = true
	}
	return b, nil
}

// Bwrite writes b's data to disk synchronously. The caller must hold
// b's sleep lock. Ordinary code should not call this directly; the
// log calls it once per commit, see walog.
func (c *Cache) Bwrite(h *xvsync.Hart, b *Buffer) error {
	if !b.Lock.Holding(h) {
		panic("bio: Bwrite: caller does not hold buffer lock")
	}
	return c.dev.WriteBlock(b.Blockno, b.Data[:])
}

// Brelse releases the sleep lock on b and decrements its reference
// count. When the count reaches zero, the buffer becomes eligible
// for eviction and its last-used clock is stamped.
func (c *Cache) Brelse(h *xvsync.Hart, b *Buffer) {
	if !b.Lock.Holding(h) {
		panic("bio: Brelse: caller does not hold buffer lock")
	}
	b.Lock.Release(h)

	bk := c.bucketOf(b)
	bk.Lock.Acquire(h)
	b.ref--
	if b.ref == 0 {
		b.lastUsed = c.tick()
	}
	bk.Lock.Release(h)
}

// Bpin increments b's reference count without touching its sleep
// lock, keeping it resident so it cannot be evicted. Used by the log
// to hold on to dirty buffers between append and install.
func (c *Cache) Bpin(h *xvsync.Hart, b *Buffer) {
	bk := c.bucketOf(b)
	bk.Lock.Acquire(h)
	b.ref++
	bk.Lock.Release(h)
}

// Bunpin is the inverse of Bpin.
func (c *Cache) Bunpin(h *xvsync.Hart, b *Buffer) {
	bk := c.bucketOf(b)
	bk.Lock.Acquire(h)
	b.ref--
	if b.ref == 0 {
		b.lastUsed = c.tick()
	}
	bk.Lock.Release(h)
}

func (c *Cache) bucketOf(b *Buffer) *hashBucket {
	// b.bucket is only ever mutated under its own bucket's lock, and
	// a buffer's bucket never changes while it is referenced (ref >
	// 0), which Bpin/Brelse/Bunpin's callers always guarantee by
	// construction, so a lock-free read here is safe.
	return c.buckets[b.bucket]
}

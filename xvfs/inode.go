// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jnlong/xv6go/xvsync"
)

// Inode is the in-memory copy of one on-disk dinode, plus the
// bookkeeping (ref, valid) the disk format has no room for. ref and
// the identity fields (Dev, Inum) are protected by the owning cache's
// spin lock; every other field is protected by Lock, a per-slot sleep
// lock, and is only meaningful once Valid is true.
type Inode struct {
	Dev  uint32
	Inum uint32

	ref   int
	Lock  *xvsync.SleepLock
	Valid bool

	Type  FileType
	Major int16
	Minor int16
	NLink int16
	Size  uint32
	Addrs [NDirect + 1]uint32
}

func (ip *Inode) decodeDinode(b []byte) {
	ip.Type = FileType(int16(binary.LittleEndian.Uint16(b[0:2])))
	ip.Major = int16(binary.LittleEndian.Uint16(b[2:4]))
	ip.Minor = int16(binary.LittleEndian.Uint16(b[4:6]))
	ip.NLink = int16(binary.LittleEndian.Uint16(b[6:8]))
	ip.Size = binary.LittleEndian.Uint32(b[8:12])
	for i := range ip.Addrs {
		off := 12 + 4*i
		ip.Addrs[i] = binary.LittleEndian.Uint32(b[off : off+4])
	}
}

func (ip *Inode) encodeDinode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(ip.Type))
	binary.LittleEndian.PutUint16(b[2:4], uint16(ip.Major))
	binary.LittleEndian.PutUint16(b[4:6], uint16(ip.Minor))
	binary.LittleEndian.PutUint16(b[6:8], uint16(ip.NLink))
	binary.LittleEndian.PutUint32(b[8:12], ip.Size)
	for i, a := range ip.Addrs {
		off := 12 + 4*i
		binary.LittleEndian.PutUint32(b[off:off+4], a)
	}
}

// inodeCache holds a fixed number of Inode slots. An entry is free
// when ref == 0. A single spin lock protects ref and the identity
// fields (Dev, Inum) of every slot; each slot additionally carries its
// own sleep lock protecting its on-disk-mirrored fields.
type inodeCache struct {
	lock  *xvsync.SpinLock
	slots []*Inode
}

func newInodeCache(n int) *inodeCache {
	c := &inodeCache{lock: xvsync.NewSpinLock("icache")}
	c.slots = make([]*Inode, n)
	for i := range c.slots {
		c.slots[i] = &Inode{Lock: xvsync.NewSleepLock("inode")}
	}
	return c
}

var errNoInodeSlots = errors.New("xvfs: iget: inode cache has no free slots")

// iget finds or creates a cached entry for (dev, inum) and increments
// its reference count. It does not lock the inode or read it from
// disk; callers that need contents call Ilock separately, which lets
// long-lived references (open files, a cwd) outlive any single lock
// hold.
func (fs *FS) iget(h *xvsync.Hart, dev, inum uint32) (*Inode, error) {
	ic := fs.icache
	ic.lock.Acquire(h)
	defer ic.lock.Release(h)

	var empty *Inode
	for _, ip := range ic.slots {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip, nil
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		return nil, errNoInodeSlots
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.Valid = false
	return empty, nil
}

// Idup increments ip's reference count. Returns ip so callers can
// write ip = fs.Idup(h, ip1).
func (fs *FS) Idup(h *xvsync.Hart, ip *Inode) *Inode {
	fs.icache.lock.Acquire(h)
	ip.ref++
	fs.icache.lock.Release(h)
	return ip
}

// Iget is the public entry point for binding an inode number to a
// cache slot; see iget for the contract.
func (fs *FS) Iget(h *xvsync.Hart, dev, inum uint32) (*Inode, error) {
	return fs.iget(h, dev, inum)
}

// Ialloc scans the inode table for a free dinode (type == 0), marks
// it allocated with the given type, and returns an unlocked,
// referenced in-memory inode. Must run inside a transaction.
func (fs *FS) Ialloc(h *xvsync.Hart, typ FileType) (*Inode, error) {
	buf := make([]byte, dinodeSize)
	for inum := uint32(1); inum < fs.SB.NInodes; inum++ {
		b, err := fs.Cache.Bread(h, fs.DevNo, fs.SB.IBlock(inum))
		if err != nil {
			return nil, err
		}
		off := (inum % IPB()) * dinodeSize
		copy(buf, b.Data[off:off+dinodeSize])
		if binary.LittleEndian.Uint16(buf[0:2]) == 0 {
			for i := range buf {
				buf[i] = 0
			}
			binary.LittleEndian.PutUint16(buf[0:2], uint16(typ))
			copy(b.Data[off:off+dinodeSize], buf)
			fs.Log.Write(h, b)
			fs.Cache.Brelse(h, b)
			return fs.iget(h, fs.DevNo, inum)
		}
		fs.Cache.Brelse(h, b)
	}
	return nil, fmt.Errorf("xvfs: Ialloc: no free inodes")
}

// Iupdate writes ip's in-memory fields back to its dinode. Must be
// called after every change to a disk-resident field, since the inode
// cache is write-through; caller must hold ip.Lock and be inside a
// transaction.
func (fs *FS) Iupdate(h *xvsync.Hart, ip *Inode) error {
	b, err := fs.Cache.Bread(h, fs.DevNo, fs.SB.IBlock(ip.Inum))
	if err != nil {
		return err
	}
	off := (ip.Inum % IPB()) * dinodeSize
	ip.encodeDinode(b.Data[off : off+dinodeSize])
	fs.Log.Write(h, b)
	fs.Cache.Brelse(h, b)
	return nil
}

// Ilock acquires ip's sleep lock and, if its contents are not valid,
// reads the dinode from disk.
func (fs *FS) Ilock(h *xvsync.Hart, ip *Inode) error {
	if ip == nil || ip.ref < 1 {
		panic("xvfs: Ilock: inode not referenced")
	}
	ip.Lock.Acquire(h)
	if ip.Valid {
		return nil
	}
	b, err := fs.Cache.Bread(h, fs.DevNo, fs.SB.IBlock(ip.Inum))
	if err != nil {
		ip.Lock.Release(h)
		return err
	}
	off := (ip.Inum % IPB()) * dinodeSize
	ip.decodeDinode(b.Data[off : off+dinodeSize])
	fs.Cache.Brelse(h, b)
	ip.Valid = true
	if ip.Type == TypeFree {
		panic("xvfs: Ilock: inode has no type")
	}
	return nil
}

// Iunlock releases ip's sleep lock.
func (fs *FS) Iunlock(h *xvsync.Hart, ip *Inode) {
	if ip == nil || !ip.Lock.Holding(h) || ip.ref < 1 {
		panic("xvfs: Iunlock: inode not locked by this hart")
	}
	ip.Lock.Release(h)
}

// Iput drops a reference to ip. If that was the last reference and
// the inode's link count has fallen to zero, it truncates the file's
// content and frees the dinode on disk. Must run inside a
// transaction, since it may call Itrunc and Iupdate.
func (fs *FS) Iput(h *xvsync.Hart, ip *Inode) error {
	ic := fs.icache

	ic.lock.Acquire(h)
	if ip.ref == 1 && ip.Valid && ip.NLink == 0 {
		ic.lock.Release(h)

		ip.Lock.Acquire(h) // ref==1 guarantees no one else holds or awaits this lock
		if err := fs.Itrunc(h, ip); err != nil {
			ip.Lock.Release(h)
			return err
		}
		ip.Type = TypeFree
		if err := fs.Iupdate(h, ip); err != nil {
			ip.Lock.Release(h)
			return err
		}
		ip.Valid = false
		ip.Lock.Release(h)

		ic.lock.Acquire(h)
	}
	ip.ref--
	ic.lock.Release(h)
	return nil
}

// Iunlockput is the common idiom: unlock, then put.
func (fs *FS) Iunlockput(h *xvsync.Hart, ip *Inode) error {
	fs.Iunlock(h, ip)
	return fs.Iput(h, ip)
}

// Bmap returns the disk block address of the nth block of ip's
// content, allocating it if it does not yet exist. Caller holds
// ip.Lock.
func (fs *FS) Bmap(h *xvsync.Hart, ip *Inode, n uint32) (uint32, error) {
	if n < NDirect {
		addr := ip.Addrs[n]
		if addr == 0 {
			a, err := fs.Balloc(h)
			if err != nil {
				return 0, err
			}
			ip.Addrs[n] = a
			addr = a
		}
		return addr, nil
	}
	n -= NDirect
	if n >= NIndirect {
		panic("xvfs: Bmap: block index out of range")
	}

	indirect := ip.Addrs[NDirect]
	if indirect == 0 {
		a, err := fs.Balloc(h)
		if err != nil {
			return 0, err
		}
		ip.Addrs[NDirect] = a
		indirect = a
	}

	b, err := fs.Cache.Bread(h, fs.DevNo, indirect)
	if err != nil {
		return 0, err
	}
	off := 4 * n
	addr := binary.LittleEndian.Uint32(b.Data[off : off+4])
	if addr == 0 {
		a, err := fs.Balloc(h)
		if err != nil {
			fs.Cache.Brelse(h, b)
			return 0, err
		}
		addr = a
		binary.LittleEndian.PutUint32(b.Data[off:off+4], addr)
		fs.Log.Write(h, b)
	}
	fs.Cache.Brelse(h, b)
	return addr, nil
}

// Itrunc discards ip's content, freeing every direct and indirect
// data block and writing the now-empty inode back to disk. Caller
// holds ip.Lock and is inside a transaction.
func (fs *FS) Itrunc(h *xvsync.Hart, ip *Inode) error {
	for i := 0; i < NDirect; i++ {
		if ip.Addrs[i] != 0 {
			if err := fs.Bfree(h, ip.Addrs[i]); err != nil {
				return err
			}
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDirect] != 0 {
		b, err := fs.Cache.Bread(h, fs.DevNo, ip.Addrs[NDirect])
		if err != nil {
			return err
		}
		for j := 0; j < NIndirect; j++ {
			off := 4 * j
			a := binary.LittleEndian.Uint32(b.Data[off : off+4])
			if a != 0 {
				if err := fs.Bfree(h, a); err != nil {
					fs.Cache.Brelse(h, b)
					return err
				}
			}
		}
		fs.Cache.Brelse(h, b)
		if err := fs.Bfree(h, ip.Addrs[NDirect]); err != nil {
			return err
		}
		ip.Addrs[NDirect] = 0
	}
	ip.Size = 0
	return fs.Iupdate(h, ip)
}

// Stat is the caller-facing metadata snapshot returned by fstat.
type Stat struct {
	Dev   uint32
	Ino   uint32
	Type  FileType
	NLink int16
	Size  uint64
}

// Stati copies ip's metadata into a Stat. Caller holds ip.Lock.
func Stati(ip *Inode) Stat {
	return Stat{
		Dev:   ip.Dev,
		Ino:   ip.Inum,
		Type:  ip.Type,
		NLink: ip.NLink,
		Size:  uint64(ip.Size),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Readi copies up to len(dst) bytes of ip's content starting at off
// into dst, clipped to the file's size, and returns the number of
// bytes copied. Caller holds ip.Lock.
func (fs *FS) Readi(h *xvsync.Hart, ip *Inode, dst []byte, off uint32) (int, error) {
	if off > ip.Size {
		return 0, nil
	}
	n := len(dst)
	if uint64(off)+uint64(n) > uint64(ip.Size) {
		n = int(ip.Size - off)
	}

	tot := 0
	for tot < n {
		addr, err := fs.Bmap(h, ip, off/BSize)
		if err != nil {
			return tot, err
		}
		b, err := fs.Cache.Bread(h, fs.DevNo, addr)
		if err != nil {
			return tot, err
		}
		m := minInt(n-tot, BSize-int(off%BSize))
		copy(dst[tot:tot+m], b.Data[off%BSize:int(off%BSize)+m])
		fs.Cache.Brelse(h, b)
		tot += m
		off += uint32(m)
	}
	return tot, nil
}

var errFileTooBig = errors.New("xvfs: writei: write would exceed the maximum file size")

// Writei writes src to ip's content starting at off, extending the
// file as needed up to MaxFile*BSize, and returns the number of bytes
// written. Every touched data block goes through the log, and the
// inode is written back if anything changed. Caller holds ip.Lock and
// the whole call must be inside a single begin_op/end_op transaction.
func (fs *FS) Writei(h *xvsync.Hart, ip *Inode, src []byte, off uint32) (int, error) {
	n := len(src)
	if uint64(off)+uint64(n) > uint64(MaxFile)*BSize {
		return 0, errFileTooBig
	}

	tot := 0
	for tot < n {
		addr, err := fs.Bmap(h, ip, off/BSize)
		if err != nil {
			break
		}
		b, err := fs.Cache.Bread(h, fs.DevNo, addr)
		if err != nil {
			break
		}
		m := minInt(n-tot, BSize-int(off%BSize))
		copy(b.Data[off%BSize:int(off%BSize)+m], src[tot:tot+m])
		fs.Log.Write(h, b)
		fs.Cache.Brelse(h, b)
		tot += m
		off += uint32(m)
	}

	if tot > 0 {
		if off > ip.Size {
			ip.Size = off
		}
		// The inode goes back to disk even when Size didn't change,
		// because Bmap above may have allocated a new block into Addrs.
		if err := fs.Iupdate(h, ip); err != nil {
			return tot, err
		}
	}
	return tot, nil
}

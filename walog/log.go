// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package walog implements the write-ahead log: a physical redo
// log of whole disk blocks that makes a group of writes
// spanning multiple blocks atomic with respect to a crash. The on-disk
// layout is a header block followed by up to size-1 logged data
// blocks; writing the header with a nonzero block count is the
// commit point.
package walog

import (
	"encoding/binary"

	"github.com/jnlong/xv6go/bio"
	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/xvsync"
)

// MaxOpBlocks bounds how many distinct blocks a single file-system
// call may write inside one transaction. begin_op's admission check
// reserves this many slots per outstanding transaction so a group of
// concurrent calls can never overflow the log.
const MaxOpBlocks = 10

// Log is the in-memory state of the write-ahead log for one device.
// Start and Size describe the log's block range on that device; Size
// includes the header block, so at most Size-1 data blocks may be
// logged in one transaction.
type Log struct {
	lock *xvsync.SpinLock
	wait *xvsync.WaitChan

	devno uint32
	cache *bio.Cache

	start uint32
	size  uint32

	outstanding int
	committing  bool
	lh          header
}

// header mirrors the on-disk log header: how many blocks are
// currently logged, and which home block each one belongs to.
type header struct {
	n     int
	block []uint32
}

// NewLog attaches a log to the block range [start, start+size) on
// devno and recovers any committed-but-not-installed transaction left
// over from a crash, exactly as mounting the file system does at boot.
// All disk access goes through cache, which already owns the device.
func NewLog(h *xvsync.Hart, devno uint32, cache *bio.Cache, start, size uint32) (*Log, error) {
	if size < 2 {
		panic("walog: NewLog: log region must hold a header and at least one data block")
	}
	if headerBytes(size-1) > diskio.BSIZE {
		panic("walog: NewLog: header does not fit in one block at this log size")
	}
	l := &Log{
		lock:  xvsync.NewSpinLock("log"),
		wait:  xvsync.NewWaitChan(),
		devno: devno,
		cache: cache,
		start: start,
		size:  size,
		lh:    header{block: make([]uint32, size-1)},
	}
	if err := l.recoverFromLog(h); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) logsize() int {
	return int(l.size) - 1
}

func headerBytes(logsize uint32) int {
	return 4 + 4*int(logsize)
}

// BeginOp marks the start of one file-system call's transaction. It
// blocks while a commit is in progress, or while admitting this call
// could overflow the log given every other call that is also still
// open, and otherwise reserves space for up to MaxOpBlocks writes.
func (l *Log) BeginOp(h *xvsync.Hart) {
	l.lock.Acquire(h)
	for {
		if l.committing {
			l.wait.Wait(h, func() { l.lock.Release(h) })
			l.lock.Acquire(h)
			continue
		}
		if l.lh.n+(l.outstanding+1)*MaxOpBlocks > l.logsize() {
			l.wait.Wait(h, func() { l.lock.Release(h) })
			l.lock.Acquire(h)
			continue
		}
		l.outstanding++
		l.lock.Release(h)
		return
	}
}

// EndOp marks the end of one transaction. The last outstanding call
// runs commit without holding any lock, since commit performs
// synchronous disk I/O and sleep locks must never be held across it
// while the caller also holds the log's spin lock.
func (l *Log) EndOp(h *xvsync.Hart) error {
	l.lock.Acquire(h)
	l.outstanding--
	if l.committing {
		panic("walog: EndOp: commit already in progress")
	}
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// Reserved space just shrank; a waiting BeginOp may now fit.
		l.wait.Wakeup()
	}
	l.lock.Release(h)

	if !doCommit {
		return nil
	}

	err := l.commit(h)

	l.lock.Acquire(h)
	l.committing = false
	l.wait.Wakeup()
	l.lock.Release(h)
	return err
}

// Write records b's block number in the current transaction's header
// (absorbing a repeat write of the same block within the group) and
// pins b in the cache so it cannot be evicted before install.
func (l *Log) Write(h *xvsync.Hart, b *bio.Buffer) {
	l.lock.Acquire(h)
	defer l.lock.Release(h)

	if l.lh.n >= l.logsize() {
		panic("walog: Write: transaction too big for log")
	}
	if l.outstanding < 1 {
		panic("walog: Write: called outside begin_op/end_op")
	}

	i := 0
	for ; i < l.lh.n; i++ {
		if l.lh.block[i] == b.Blockno {
			break
		}
	}
	l.lh.block[i] = b.Blockno
	if i == l.lh.n {
		l.cache.Bpin(h, b)
		l.lh.n++
	}
}

// commit performs the four-step sequence that makes a transaction
// durable: copy live data into the log, write the header with n>0
// (the commit point), install into home locations, then write the
// header with n=0 to mark the log empty again.
func (l *Log) commit(h *xvsync.Hart) error {
	if l.lh.n == 0 {
		return nil
	}
	if err := l.writeLog(h); err != nil {
		return err
	}
	if err := l.writeHead(h); err != nil {
		return err
	}
	if err := l.installTrans(h, true); err != nil {
		return err
	}
	l.lh.n = 0
	return l.writeHead(h)
}

// writeLog copies each block named in the in-memory header from its
// live cache contents into its log slot.
func (l *Log) writeLog(h *xvsync.Hart) error {
	for tail := 0; tail < l.lh.n; tail++ {
		to, err := l.cache.Bread(h, l.devno, l.start+uint32(tail)+1)
		if err != nil {
			return err
		}
		from, err := l.cache.Bread(h, l.devno, l.lh.block[tail])
		if err != nil {
			l.cache.Brelse(h, to)
			return err
		}
		to.Data = from.Data
		err = l.cache.Bwrite(h, to)
		l.cache.Brelse(h, from)
		l.cache.Brelse(h, to)
		if err != nil {
			return err
		}
	}
	return nil
}

// installTrans copies every logged block from its log slot to its
// home location. unpin releases the pin Write took out, which only
// happens once home installation has actually completed. Unpinning
// any earlier would let the buffer be evicted and written back on its
// own, defeating the log's atomicity.
func (l *Log) installTrans(h *xvsync.Hart, unpin bool) error {
	for tail := 0; tail < l.lh.n; tail++ {
		lbuf, err := l.cache.Bread(h, l.devno, l.start+uint32(tail)+1)
		if err != nil {
			return err
		}
		dbuf, err := l.cache.Bread(h, l.devno, l.lh.block[tail])
		if err != nil {
			l.cache.Brelse(h, lbuf)
			return err
		}
		dbuf.Data = lbuf.Data
		err = l.cache.Bwrite(h, dbuf)
		if unpin {
			l.cache.Bunpin(h, dbuf)
		}
		l.cache.Brelse(h, lbuf)
		l.cache.Brelse(h, dbuf)
		if err != nil {
			return err
		}
	}
	return nil
}

// readHead loads the on-disk header into memory.
func (l *Log) readHead(h *xvsync.Hart) error {
	b, err := l.cache.Bread(h, l.devno, l.start)
	if err != nil {
		return err
	}
	defer l.cache.Brelse(h, b)

	l.lh.n = int(binary.LittleEndian.Uint32(b.Data[0:4]))
	for i := 0; i < l.lh.n; i++ {
		off := 4 + 4*i
		l.lh.block[i] = binary.LittleEndian.Uint32(b.Data[off : off+4])
	}
	return nil
}

// writeHead writes the in-memory header to disk. This is the
// transaction's true commit point: once it lands, recovery will
// replay the logged blocks even if the machine crashes before they
// reach their home locations.
func (l *Log) writeHead(h *xvsync.Hart) error {
	b, err := l.cache.Bread(h, l.devno, l.start)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.Data[0:4], uint32(l.lh.n))
	for i := 0; i < l.lh.n; i++ {
		off := 4 + 4*i
		binary.LittleEndian.PutUint32(b.Data[off:off+4], l.lh.block[i])
	}
	err = l.cache.Bwrite(h, b)
	l.cache.Brelse(h, b)
	return err
}

// recoverFromLog replays a committed-but-not-installed transaction at
// mount time. If the on-disk header says n==0, the log was empty or
// already fully installed when the machine went down, and this is a
// no-op.
func (l *Log) recoverFromLog(h *xvsync.Hart) error {
	if err := l.readHead(h); err != nil {
		return err
	}
	if l.lh.n == 0 {
		return nil
	}
	if err := l.installTrans(h, false); err != nil {
		return err
	}
	l.lh.n = 0
	return l.writeHead(h)
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"errors"

	"github.com/jnlong/xv6go/xvsync"
)

var errOutOfBlocks = errors.New("xvfs: balloc: out of blocks")

// Balloc scans the free-block bitmap for the first clear bit, sets
// it, zeroes the corresponding data block, and returns its block
// number. The caller must be inside a begin_op/end_op transaction.
func (fs *FS) Balloc(h *xvsync.Hart) (uint32, error) {
	for base := uint32(0); base < fs.SB.Size; base += BPB {
		b, err := fs.Cache.Bread(h, fs.DevNo, fs.SB.BBlock(base))
		if err != nil {
			return 0, err
		}

		limit := uint32(BPB)
		if base+limit > fs.SB.Size {
			limit = fs.SB.Size - base
		}
		for bi := uint32(0); bi < limit; bi++ {
			mask := byte(1 << (bi % 8))
			if b.Data[bi/8]&mask != 0 {
				continue
			}
			b.Data[bi/8] |= mask
			fs.Log.Write(h, b)
			fs.Cache.Brelse(h, b)
			if err := fs.bzero(h, base+bi); err != nil {
				return 0, err
			}
			return base + bi, nil
		}
		fs.Cache.Brelse(h, b)
	}
	return 0, errOutOfBlocks
}

// Bfree clears the bitmap bit for data block b. Freeing an
// already-free block is a programming error and panics, the same as
// the original allocator's fatal check.
func (fs *FS) Bfree(h *xvsync.Hart, b uint32) error {
	buf, err := fs.Cache.Bread(h, fs.DevNo, fs.SB.BBlock(b))
	if err != nil {
		return err
	}
	bi := b % BPB
	mask := byte(1 << (bi % 8))
	if buf.Data[bi/8]&mask == 0 {
		fs.Cache.Brelse(h, buf)
		panic("xvfs: Bfree: freeing an already-free block")
	}
	buf.Data[bi/8] &^= mask
	fs.Log.Write(h, buf)
	fs.Cache.Brelse(h, buf)
	return nil
}

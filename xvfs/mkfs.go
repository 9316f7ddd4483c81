// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"fmt"

	"github.com/jnlong/xv6go/diskio"
)

// FormatOptions sizes a fresh image: total blocks, the inode table,
// and the log region. cmd/mkxv6fs exposes these as flags.
type FormatOptions struct {
	TotalBlocks uint32
	NInodes     uint32
	NLog        uint32
}

// Format lays out a brand-new file system directly on dev: boot
// block, superblock, log region, inode blocks, free bitmap, data
// blocks, then allocates the root directory. It writes straight to
// the device rather than through the buffer cache or log: there is
// no log to go through until the superblock that describes it exists.
func Format(dev diskio.Device, opts FormatOptions) (Superblock, error) {
	ninodeblocks := (opts.NInodes + IPB() - 1) / IPB()
	nbitmapblocks := (opts.TotalBlocks + BPB - 1) / BPB
	nmeta := 2 + opts.NLog + ninodeblocks + nbitmapblocks
	if nmeta >= opts.TotalBlocks {
		return Superblock{}, fmt.Errorf("xvfs: Format: %d total blocks too small for %d metadata blocks", opts.TotalBlocks, nmeta)
	}

	sb := Superblock{
		Magic:      FSMagic,
		Size:       opts.TotalBlocks,
		NBlocks:    opts.TotalBlocks - nmeta,
		NInodes:    opts.NInodes,
		NLog:       opts.NLog,
		LogStart:   2,
		InodeStart: 2 + opts.NLog,
		BmapStart:  2 + opts.NLog + ninodeblocks,
	}

	zero := make([]byte, BSize)
	for b := uint32(0); b < opts.TotalBlocks; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return sb, err
		}
	}

	sbBuf := make([]byte, BSize)
	sb.encode(sbBuf)
	if err := dev.WriteBlock(1, sbBuf); err != nil {
		return sb, err
	}

	firstData := sb.BmapStart + nbitmapblocks

	root := Inode{Type: TypeDir, NLink: 2}
	rootBlock, err := writeRootDirent(dev, &root, firstData)
	if err != nil {
		return sb, err
	}
	root.Addrs[0] = rootBlock
	root.Size = 2 * direntSize

	dinodeBuf := make([]byte, BSize)
	if err := dev.ReadBlock(sb.IBlock(RootIno), dinodeBuf); err != nil {
		return sb, err
	}
	off := (RootIno % IPB()) * dinodeSize
	root.encodeDinode(dinodeBuf[off : off+dinodeSize])
	if err := dev.WriteBlock(sb.IBlock(RootIno), dinodeBuf); err != nil {
		return sb, err
	}

	// Mark every metadata block plus the root's own data block used,
	// spanning as many bitmap blocks as that takes.
	if err := markBlocksUsed(dev, &sb, nmeta+1); err != nil {
		return sb, err
	}

	return sb, nil
}

func markBlocksUsed(dev diskio.Device, sb *Superblock, count uint32) error {
	bitmap := make([]byte, BSize)
	cur := uint32(0xffffffff)
	for b := uint32(0); b < count; b++ {
		blk := sb.BBlock(b)
		if blk != cur {
			if cur != 0xffffffff {
				if err := dev.WriteBlock(cur, bitmap); err != nil {
					return err
				}
			}
			if err := dev.ReadBlock(blk, bitmap); err != nil {
				return err
			}
			cur = blk
		}
		bi := b % BPB
		bitmap[bi/8] |= 1 << (bi % 8)
	}
	if cur != 0xffffffff {
		if err := dev.WriteBlock(cur, bitmap); err != nil {
			return err
		}
	}
	return nil
}

// writeRootDirent writes the root directory's own "." and ".." entries
// (both pointing at itself) into the first free data block and
// returns that block's number.
func writeRootDirent(dev diskio.Device, root *Inode, firstData uint32) (uint32, error) {
	buf := make([]byte, BSize)
	encodeDirent(Dirent{Inum: RootIno, Name: "."}, buf[0:direntSize])
	encodeDirent(Dirent{Inum: RootIno, Name: ".."}, buf[direntSize:2*direntSize])
	if err := dev.WriteBlock(firstData, buf); err != nil {
		return 0, err
	}
	return firstData, nil
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xvfs implements the on-disk file system: the superblock,
// the inode table and its in-memory cache, the free-block bitmap,
// directories, and path resolution. Every layer below this one
// (buffer cache, write-ahead log, raw block device) is already
// durable and crash-consistent; xvfs is where those layers
// compose into files, directories, and names.
package xvfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jnlong/xv6go/bio"
	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/walog"
	"github.com/jnlong/xv6go/xvsync"
)

// On-disk layout constants, fixed by the format mkfs writes and fsck
// would otherwise need to agree with.
const (
	BSize     = diskio.BSIZE
	RootIno   = 1
	NDirect   = 12
	NIndirect = BSize / 4 // 256 block numbers fit in one indirect block
	MaxFile   = NDirect + NIndirect
	DirSiz    = 14
	FSMagic   = 0x10203040

	dinodeSize = 64
	direntSize = 2 + DirSiz
)

// FileType is the on-disk inode type tag.
type FileType int16

const (
	TypeFree   FileType = 0
	TypeDir    FileType = 1
	TypeFile   FileType = 2
	TypeDevice FileType = 3
)

// Superblock describes the disk layout: boot block, superblock, log,
// inode blocks, free bitmap, data blocks, in that order.
type Superblock struct {
	Magic      uint32
	Size       uint32 // total image size in blocks
	NBlocks    uint32 // data blocks
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

func (sb *Superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:8], sb.Size)
	binary.LittleEndian.PutUint32(b[8:12], sb.NBlocks)
	binary.LittleEndian.PutUint32(b[12:16], sb.NInodes)
	binary.LittleEndian.PutUint32(b[16:20], sb.NLog)
	binary.LittleEndian.PutUint32(b[20:24], sb.LogStart)
	binary.LittleEndian.PutUint32(b[24:28], sb.InodeStart)
	binary.LittleEndian.PutUint32(b[28:32], sb.BmapStart)
}

func (sb *Superblock) decode(b []byte) {
	sb.Magic = binary.LittleEndian.Uint32(b[0:4])
	sb.Size = binary.LittleEndian.Uint32(b[4:8])
	sb.NBlocks = binary.LittleEndian.Uint32(b[8:12])
	sb.NInodes = binary.LittleEndian.Uint32(b[12:16])
	sb.NLog = binary.LittleEndian.Uint32(b[16:20])
	sb.LogStart = binary.LittleEndian.Uint32(b[20:24])
	sb.InodeStart = binary.LittleEndian.Uint32(b[24:28])
	sb.BmapStart = binary.LittleEndian.Uint32(b[28:32])
}

// IPB is how many dinodes fit in one block.
func IPB() uint32 { return BSize / dinodeSize }

// IBlock returns the block number holding dinode inum.
func (sb *Superblock) IBlock(inum uint32) uint32 {
	return inum/IPB() + sb.InodeStart
}

// BPB is how many bitmap bits (i.e. data blocks) one bitmap block
// tracks.
const BPB = BSize * 8

// BBlock returns the bitmap block number holding the bit for data
// block b.
func (sb *Superblock) BBlock(b uint32) uint32 {
	return b/BPB + sb.BmapStart
}

// FS is a mounted file system: the durable layers underneath
// (device, buffer cache, write-ahead log) plus the superblock and
// in-memory inode cache built on top of them.
type FS struct {
	Dev   diskio.Device
	DevNo uint32
	Cache *bio.Cache
	Log   *walog.Log
	SB    Superblock

	icache *inodeCache
}

var errBadMagic = errors.New("xvfs: superblock magic mismatch")

// Mount reads the superblock from dev, recovers the write-ahead log,
// and returns a ready-to-use file system. nbuf sizes the buffer
// cache; ninode sizes the in-memory inode cache.
func Mount(h *xvsync.Hart, dev diskio.Device, devno uint32, nbuf, ninode int) (*FS, error) {
	cache := bio.NewCache(dev, nbuf)

	b, err := cache.Bread(h, devno, 1)
	if err != nil {
		return nil, fmt.Errorf("xvfs: Mount: reading superblock: %w", err)
	}
	var sb Superblock
	sb.decode(b.Data[:])
	cache.Brelse(h, b)

	if sb.Magic != FSMagic {
		return nil, errBadMagic
	}

	log, err := walog.NewLog(h, devno, cache, sb.LogStart, sb.NLog)
	if err != nil {
		return nil, fmt.Errorf("xvfs: Mount: recovering log: %w", err)
	}

	fs := &FS{
		Dev:   dev,
		DevNo: devno,
		Cache: cache,
		Log:   log,
		SB:    sb,
	}
	fs.icache = newInodeCache(ninode)
	return fs, nil
}

// bzero clears disk block bno, routing the write through the log so
// it participates in the caller's transaction.
func (fs *FS) bzero(h *xvsync.Hart, bno uint32) error {
	b, err := fs.Cache.Bread(h, fs.DevNo, bno)
	if err != nil {
		return err
	}
	for i := range b.Data {
		b.Data[i] = 0
	}
	fs.Log.Write(h, b)
	fs.Cache.Brelse(h, b)
	return nil
}

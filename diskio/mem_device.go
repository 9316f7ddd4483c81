// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskio

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device, the disk-equivalent of
// fs.MemRegularFile: a plain byte slice standing in for a real
// backing store, used by unit tests and by the crash-injection
// scenarios in walog that need to snapshot/compare raw bytes without
// touching a file.
type MemDevice struct {
	mu      sync.Mutex
	blocks  [][]byte
	nblocks uint32
}

// NewMemDevice returns a zeroed device of nblocks blocks.
func NewMemDevice(nblocks uint32) *MemDevice {
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, BSIZE)
	}
	return &MemDevice{blocks: blocks, nblocks: nblocks}
}

func (d *MemDevice) ReadBlock(blockno uint32, dst []byte) error {
	if err := checkLen(dst, "ReadBlock"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if blockno >= d.nblocks {
		return fmt.Errorf("diskio: ReadBlock: blockno %d out of range [0,%d)", blockno, d.nblocks)
	}
	copy(dst, d.blocks[blockno])
	return nil
}

func (d *MemDevice) WriteBlock(blockno uint32, src []byte) error {
	if err := checkLen(src, "WriteBlock"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if blockno >= d.nblocks {
		return fmt.Errorf("diskio: WriteBlock: blockno %d out of range [0,%d)", blockno, d.nblocks)
	}
	copy(d.blocks[blockno], src)
	return nil
}

func (d *MemDevice) NumBlocks() uint32 { return d.nblocks }

func (d *MemDevice) Close() error { return nil }

// Snapshot returns a deep copy of block blockno's current contents,
// used by crash-recovery tests to compare disk state before and
// after a simulated crash without holding the device lock.
func (d *MemDevice) Snapshot(blockno uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, BSIZE)
	copy(cp, d.blocks[blockno])
	return cp
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diskio implements the disk driver contract consumed by the
// buffer cache: a single synchronous block transfer per call, block
// size fixed at BSIZE. The trap/interrupt path and the real
// virtio-mmio driver live outside this core; this package plays
// their role for a hosted process, backed either by a real
// file (FileDevice) or by memory (MemDevice, for tests).
package diskio

import "fmt"

// BSIZE is the fixed block size in bytes, matching xv6's BSIZE.
const BSIZE = 1024

// Device is the contract the buffer cache relies on. ReadBlock and
// WriteBlock each perform one synchronous BSIZE transfer; callers
// serialize their own access per block via the buffer cache's sleep
// locks, so Device implementations need not be safe for concurrent
// use on the *same* block, only across distinct ones.
type Device interface {
	// ReadBlock fills dst (len(dst) == BSIZE) with the contents of
	// block blockno.
	ReadBlock(blockno uint32, dst []byte) error

	// WriteBlock persists src (len(src) == BSIZE) as block blockno.
	WriteBlock(blockno uint32, src []byte) error

	// NumBlocks reports the device's fixed capacity.
	NumBlocks() uint32

	// Close releases any underlying resource (file descriptors,
	// mmaps). Implementations that hold nothing may no-op.
	Close() error
}

func checkLen(b []byte, op string) error {
	if len(b) != BSIZE {
		return fmt.Errorf("diskio: %s: buffer length %d != BSIZE %d", op, len(b), BSIZE)
	}
	return nil
}

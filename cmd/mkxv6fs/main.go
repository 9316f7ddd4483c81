// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mkxv6fs builds a fresh xv6go disk image: a zeroed file of
// the requested size, formatted with a superblock, an empty log, an
// inode table, a free-block bitmap, and a root directory.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/moby/sys/mountinfo"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/xvfs"
)

func main() {
	log.SetFlags(0)

	out := flag.String("out", "xv6.img", "path to the disk image to create")
	blocks := flag.Uint32("blocks", 2000, "total image size, in blocks")
	ninodes := flag.Uint32("ninodes", 200, "number of inodes to preallocate")
	nlog := flag.Uint32("nlog", 30, "log region size in blocks, including the header")
	flag.Parse()

	if err := run(*out, *blocks, *ninodes, *nlog); err != nil {
		fmt.Fprintln(os.Stderr, "mkxv6fs:", err)
		os.Exit(1)
	}
}

func run(out string, blocks, ninodes, nlog uint32) error {
	if mounted, err := mountinfo.Mounted(out); err == nil && mounted {
		return fmt.Errorf("%s is a live mount point, refusing to overwrite", out)
	}

	size := int64(blocks) * diskio.BSIZE
	if err := atomic.WriteFile(out, io.LimitReader(zeroReader{}, size)); err != nil {
		return fmt.Errorf("creating image: %w", err)
	}

	dev, err := diskio.OpenFileDevice(out, blocks)
	if err != nil {
		return err
	}
	defer dev.Close()

	sb, err := xvfs.Format(dev, xvfs.FormatOptions{
		TotalBlocks: blocks,
		NInodes:     ninodes,
		NLog:        nlog,
	})
	if err != nil {
		return fmt.Errorf("formatting %s: %w", out, err)
	}

	log.Printf("mkxv6fs: wrote %s: %d blocks (%d data), %d inodes, %d log blocks, magic %#x",
		out, sb.Size, sb.NBlocks, sb.NInodes, sb.NLog, sb.Magic)
	return nil
}

// zeroReader streams an unbounded run of zero bytes, so atomic.WriteFile
// can create the backing image without first materializing it in memory.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boot wires the process-wide singletons (the page
// allocator, the mounted file system, and the syscall-adapter
// kernel) and runs the multi-CPU startup barrier:
// CPU 0 performs the one-time initialization (superblock read, log
// recovery, inode-cache construction) while every other simulated
// hart blocks on a channel until it finishes, where xv6's non-boot
// cores spin on `started` in main.c before calling scheduler().
package boot

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/kalloc"
	"github.com/jnlong/xv6go/sysfile"
	"github.com/jnlong/xv6go/xvfs"
	"github.com/jnlong/xv6go/xvsync"
)

// Config sizes a boot sequence. Zero-valued fields fall back to
// defaults via withDefaults, so callers only need to set what they
// care about.
type Config struct {
	NCPU    int    // simulated harts brought online
	NBuf    int    // buffer cache slots
	NInode  int    // in-memory inode cache slots
	NFile   int    // system-wide open-file table slots
	NFrames int    // physical frames the page allocator manages
	DevNo   uint32 // device number the mounted file system is known by
}

func (c Config) withDefaults() Config {
	if c.NCPU < 1 {
		c.NCPU = 1
	}
	if c.NBuf < 1 {
		c.NBuf = 30
	}
	if c.NInode < 1 {
		c.NInode = 50
	}
	if c.NFile < 1 {
		c.NFile = 100
	}
	if c.NFrames < 1 {
		c.NFrames = 4096
	}
	return c
}

// System is the fully wired, running kernel core: each process-wide
// singleton (superblock, inode cache, file table, log, buffer cache,
// page allocator) behind the handle its package already exposes.
type System struct {
	Cfg    Config
	Harts  []*xvsync.Hart
	Pool   *kalloc.Pool
	FS     *xvfs.FS
	Kernel *sysfile.Kernel
	Root   *sysfile.Process
}

// Boot mounts dev, brings cfg.NCPU harts online behind a barrier, and
// returns a System ready to serve syscalls through Kernel with Root
// as the initial process (cwd at the root directory).
//
// Hart 0 is the boot hart: it alone calls xvfs.Mount (which performs
// log recovery) and builds the kernel's system-wide tables. Every
// other hart blocks on the barrier until hart 0 finishes or the
// context is cancelled, whichever comes first; errgroup propagates
// the first error across every hart's goroutine.
func Boot(ctx context.Context, dev diskio.Device, cfg Config) (*System, error) {
	cfg = cfg.withDefaults()

	harts := make([]*xvsync.Hart, cfg.NCPU)
	for i := range harts {
		harts[i] = xvsync.NewHart(i)
	}

	sys := &System{
		Cfg:   cfg,
		Harts: harts,
		Pool:  kalloc.NewPool(cfg.NFrames, cfg.NCPU),
	}

	barrier := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for i := range harts {
		i := i
		g.Go(func() error {
			if i == 0 {
				defer close(barrier)
				fs, err := xvfs.Mount(harts[0], dev, cfg.DevNo, cfg.NBuf, cfg.NInode)
				if err != nil {
					return fmt.Errorf("boot: hart 0: mount: %w", err)
				}
				sys.FS = fs
				sys.Kernel = sysfile.NewKernel(fs, cfg.NFile)
				log.Printf("boot: hart 0 mounted device %d (size=%d blocks, ninodes=%d)", cfg.DevNo, fs.SB.Size, fs.SB.NInodes)
				return nil
			}
			select {
			case <-barrier:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	root, err := sys.FS.Iget(harts[0], cfg.DevNo, xvfs.RootIno)
	if err != nil {
		return nil, fmt.Errorf("boot: iget root: %w", err)
	}
	sys.Root = sysfile.NewProcess(root)

	log.Printf("boot: %d harts online, root mounted at inode %d", cfg.NCPU, xvfs.RootIno)
	return sys, nil
}

// Shutdown releases the boot process's reference to its current
// directory (the root, unless it has changed directory) and closes
// the underlying device. It does not attempt to
// quiesce in-flight operations; callers are expected to have already
// drained them. In-flight kernel operations always run to completion
// rather than being interrupted mid-invariant.
func (s *System) Shutdown() error {
	h := s.Harts[0]
	s.FS.Log.BeginOp(h)
	s.FS.Iput(h, s.Root.Cwd)
	s.FS.Log.EndOp(h)
	return s.FS.Dev.Close()
}

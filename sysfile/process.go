// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfile

import (
	"sync"
	"syscall"

	"github.com/jnlong/xv6go/xvfs"
)

// NOFILE is the number of descriptors a process may hold open at
// once, matching xv6's fixed-size per-process fd array.
const NOFILE = 16

// Process is the syscall-adapter layer's stand-in for the process
// this package's real kernel would carry a much larger struct for:
// just enough state, open descriptors and a current directory, to
// give every syscall here somewhere to read and write.
type Process struct {
	mu  sync.Mutex
	fds [NOFILE]*File
	Cwd *xvfs.Inode
}

// NewProcess creates a process rooted at cwd with no descriptors
// open.
func NewProcess(cwd *xvfs.Inode) *Process {
	return &Process{Cwd: cwd}
}

// allocFD reserves the lowest-numbered free descriptor for f.
func (p *Process) allocFD(f *File) (int, syscall.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := 0; fd < NOFILE; fd++ {
		if p.fds[fd] == nil {
			p.fds[fd] = f
			return fd, 0
		}
	}
	return -1, syscall.EMFILE
}

func (p *Process) fileOf(fd int) *File {
	if fd < 0 || fd >= NOFILE {
		return nil
	}
	p.mu.Lock()
	f := p.fds[fd]
	p.mu.Unlock()
	return f
}

func (p *Process) clearFD(fd int) {
	p.mu.Lock()
	p.fds[fd] = nil
	p.mu.Unlock()
}

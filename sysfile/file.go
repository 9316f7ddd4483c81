// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sysfile implements the syscall adapters that sit on top of
// xvfs: short sequences of argument validation, optional
// transaction brackets, inode/file operations, and a result. This is
// the contract surface a process sees (open file descriptors, a
// current directory, pipes), built out of the lower layers' inode
// and buffer primitives.
package sysfile

import (
	"sync"

	"github.com/jnlong/xv6go/xvfs"
)

// FDKind distinguishes what an open File actually refers to.
type FDKind int

const (
	FDNone FDKind = iota
	FDPipe
	FDInode
	FDDevice
)

// File is one entry in the system-wide open file table. Multiple
// process descriptors may point at the same File after Dup; ref
// counts how many descriptors do.
type File struct {
	mu sync.Mutex

	Kind     FDKind
	ref      int
	Readable bool
	Writable bool

	Pipe  *Pipe
	Inode *xvfs.Inode
	Off   uint32
	Major int16
}

// FileTable is the system-wide table of open files, sized at boot.
type FileTable struct {
	mu    sync.Mutex
	files []*File
}

// NewFileTable allocates a table with room for n simultaneously open
// files.
func NewFileTable(n int) *FileTable {
	ft := &FileTable{files: make([]*File, n)}
	for i := range ft.files {
		ft.files[i] = &File{}
	}
	return ft
}

// Alloc reserves the first unused slot and returns it with ref set to
// 1, or nil if the table is full.
func (ft *FileTable) Alloc() *File {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for _, f := range ft.files {
		f.mu.Lock()
		if f.ref == 0 {
			f.ref = 1
			f.mu.Unlock()
			return f
		}
		f.mu.Unlock()
	}
	return nil
}

// Dup increments f's reference count and returns f, so callers can
// write f = ft.Dup(f1).
func (ft *FileTable) Dup(f *File) *File {
	f.mu.Lock()
	if f.ref < 1 {
		f.mu.Unlock()
		panic("sysfile: Dup: file not open")
	}
	f.ref++
	f.mu.Unlock()
	return f
}

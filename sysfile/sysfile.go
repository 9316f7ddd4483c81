// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfile

import (
	"context"
	"syscall"

	"github.com/jnlong/xv6go/xvfs"
	"github.com/jnlong/xv6go/xvsync"
)

// NDev bounds device major numbers; open refuses anything outside
// [0, NDev).
const NDev = 10

// DevSW is the pair of read/write functions a device major number is
// registered against: the contract a UART/console driver outside
// this core would satisfy. Console registration, interrupt wiring, and
// everything else about an actual device live outside this package.
type DevSW struct {
	Read  func(dst []byte) (int, syscall.Errno)
	Write func(src []byte) (int, syscall.Errno)
}

// Kernel bundles the mounted file system with the system-wide open
// file table and device registry every syscall adapter needs.
type Kernel struct {
	FS      *xvfs.FS
	Files   *FileTable
	Devices [NDev]*DevSW
}

// NewKernel wraps a mounted file system with a file table sized for
// nfile simultaneously open files.
func NewKernel(fs *xvfs.FS, nfile int) *Kernel {
	return &Kernel{FS: fs, Files: NewFileTable(nfile)}
}

func modeFlags(flags int) (readable, writable bool) {
	switch flags & (OWRONLY | ORDWR) {
	case OWRONLY:
		return false, true
	case ORDWR:
		return true, true
	default:
		return true, false
	}
}

// Open flag bits, matching xv6's fcntl.h.
const (
	ORDONLY = 0x000
	OWRONLY = 0x001
	ORDWR   = 0x002
	OCREATE = 0x200
	OTRUNC  = 0x400
)

// Open resolves path (creating it first if OCREATE is set), binds it
// to a new File and process descriptor, and returns the descriptor.
func (k *Kernel) Open(ctx context.Context, h *xvsync.Hart, p *Process, path string, flags int) (int, syscall.Errno) {
	if ctx.Err() != nil {
		return -1, syscall.EINTR
	}

	k.FS.Log.BeginOp(h)
	defer k.FS.Log.EndOp(h)

	var ip *xvfs.Inode
	if flags&OCREATE != 0 {
		var errno syscall.Errno
		ip, errno = k.create(h, p, path, xvfs.TypeFile, 0, 0)
		if errno != 0 {
			return -1, errno
		}
	} else {
		var err error
		ip, err = k.FS.Namei(h, p.Cwd, path)
		if err != nil {
			return -1, syscall.ENOENT
		}
		if err := k.FS.Ilock(h, ip); err != nil {
			k.FS.Iput(h, ip)
			return -1, syscall.EIO
		}
		if ip.Type == xvfs.TypeDir && flags != ORDONLY {
			k.FS.Iunlockput(h, ip)
			return -1, syscall.EISDIR
		}
	}

	if ip.Type == xvfs.TypeDevice && (ip.Major < 0 || int(ip.Major) >= NDev) {
		k.FS.Iunlockput(h, ip)
		return -1, syscall.ENXIO
	}

	f := k.Files.Alloc()
	if f == nil {
		k.FS.Iunlockput(h, ip)
		return -1, syscall.ENFILE
	}
	fd, errno := p.allocFD(f)
	if errno != 0 {
		f.mu.Lock()
		f.ref = 0
		f.mu.Unlock()
		k.FS.Iunlockput(h, ip)
		return -1, errno
	}

	readable, writable := modeFlags(flags)
	f.mu.Lock()
	if ip.Type == xvfs.TypeDevice {
		f.Kind = FDDevice
		f.Major = ip.Major
	} else {
		f.Kind = FDInode
	}
	f.Inode = ip
	f.Off = 0
	f.Readable = readable
	f.Writable = writable
	f.mu.Unlock()

	if flags&OTRUNC != 0 && ip.Type == xvfs.TypeFile {
		if err := k.FS.Itrunc(h, ip); err != nil {
			k.FS.Iunlock(h, ip)
			return -1, syscall.EIO
		}
	}
	k.FS.Iunlock(h, ip)

	return fd, 0
}

// Close drops a process's reference to an open file, releasing the
// underlying inode or pipe end once no descriptor references it.
func (k *Kernel) Close(h *xvsync.Hart, p *Process, fd int) syscall.Errno {
	f := p.fileOf(fd)
	if f == nil {
		return syscall.EBADF
	}
	p.clearFD(fd)

	f.mu.Lock()
	f.ref--
	last := f.ref == 0
	kind, pipe, ip, writable := f.Kind, f.Pipe, f.Inode, f.Writable
	if last {
		f.Kind = FDNone
		f.Inode = nil
		f.Pipe = nil
	}
	f.mu.Unlock()

	if !last {
		return 0
	}
	switch kind {
	case FDPipe:
		if writable {
			pipe.CloseWrite()
		} else {
			pipe.CloseRead()
		}
	case FDInode, FDDevice:
		k.FS.Log.BeginOp(h)
		k.FS.Iput(h, ip)
		k.FS.Log.EndOp(h)
	}
	return 0
}

// Read copies up to len(dst) bytes from fd's current offset.
func (k *Kernel) Read(h *xvsync.Hart, p *Process, fd int, dst []byte) (int, syscall.Errno) {
	f := p.fileOf(fd)
	if f == nil {
		return 0, syscall.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Readable {
		return 0, syscall.EBADF
	}

	switch f.Kind {
	case FDPipe:
		return f.Pipe.Read(dst)
	case FDDevice:
		sw := k.Devices[f.Major]
		if sw == nil || sw.Read == nil {
			return 0, syscall.ENODEV
		}
		return sw.Read(dst)
	case FDInode:
		if err := k.FS.Ilock(h, f.Inode); err != nil {
			return 0, syscall.EIO
		}
		n, err := k.FS.Readi(h, f.Inode, dst, f.Off)
		k.FS.Iunlock(h, f.Inode)
		if err != nil {
			return 0, syscall.EIO
		}
		f.Off += uint32(n)
		return n, 0
	default:
		return 0, syscall.EBADF
	}
}

// maxWriteChunk bounds how many bytes of one writei call may ride in
// a single transaction: (MAXOPBLOCKS-4)/2 = 3 blocks of data, leaving
// the rest of the 10-slot reservation for the inode, its indirect
// block, the bitmap, and the extra data block an unaligned write
// touches, rather than consuming the whole reservation on data
// blocks alone.
const maxWriteChunk = ((10 - 4) / 2) * xvfs.BSize

// Write appends src to fd starting at its current offset, chunking
// large writes into several transactions so no single one can
// overflow the log's per-operation reservation.
func (k *Kernel) Write(h *xvsync.Hart, p *Process, fd int, src []byte) (int, syscall.Errno) {
	f := p.fileOf(fd)
	if f == nil {
		return 0, syscall.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Writable {
		return 0, syscall.EBADF
	}

	switch f.Kind {
	case FDPipe:
		return f.Pipe.Write(src)
	case FDDevice:
		sw := k.Devices[f.Major]
		if sw == nil || sw.Write == nil {
			return 0, syscall.ENODEV
		}
		return sw.Write(src)
	case FDInode:
		tot := 0
		for tot < len(src) {
			end := tot + maxWriteChunk
			if end > len(src) {
				end = len(src)
			}
			want := end - tot
			k.FS.Log.BeginOp(h)
			if err := k.FS.Ilock(h, f.Inode); err != nil {
				k.FS.Log.EndOp(h)
				return tot, syscall.EIO
			}
			n, err := k.FS.Writei(h, f.Inode, src[tot:end], f.Off)
			k.FS.Iunlock(h, f.Inode)
			k.FS.Log.EndOp(h)
			if err != nil {
				return tot, syscall.EIO
			}
			f.Off += uint32(n)
			tot += n
			if n != want { // short write: out of space downstream
				break
			}
		}
		return tot, 0
	default:
		return 0, syscall.EBADF
	}
}

// Fstat copies fd's inode metadata out.
func (k *Kernel) Fstat(h *xvsync.Hart, p *Process, fd int) (xvfs.Stat, syscall.Errno) {
	f := p.fileOf(fd)
	if f == nil || (f.Kind != FDInode && f.Kind != FDDevice) {
		return xvfs.Stat{}, syscall.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := k.FS.Ilock(h, f.Inode); err != nil {
		return xvfs.Stat{}, syscall.EIO
	}
	st := xvfs.Stati(f.Inode)
	k.FS.Iunlock(h, f.Inode)
	return st, 0
}

// Dup duplicates fd onto a new, lowest-available descriptor.
func (k *Kernel) Dup(p *Process, fd int) (int, syscall.Errno) {
	f := p.fileOf(fd)
	if f == nil {
		return -1, syscall.EBADF
	}
	k.Files.Dup(f)
	nfd, errno := p.allocFD(f)
	if errno != 0 {
		f.mu.Lock()
		f.ref--
		f.mu.Unlock()
		return -1, errno
	}
	return nfd, 0
}

// Pipe creates an anonymous pipe and binds its two ends to fresh
// descriptors, read end first.
func (k *Kernel) Pipe(p *Process) (readFD, writeFD int, errno syscall.Errno) {
	pipe := NewPipe()

	rf := k.Files.Alloc()
	wf := k.Files.Alloc()
	if rf == nil || wf == nil {
		dropFile(rf)
		dropFile(wf)
		return -1, -1, syscall.ENFILE
	}
	rf.mu.Lock()
	rf.Kind, rf.Pipe, rf.Readable, rf.Writable = FDPipe, pipe, true, false
	rf.mu.Unlock()
	wf.mu.Lock()
	wf.Kind, wf.Pipe, wf.Readable, wf.Writable = FDPipe, pipe, false, true
	wf.mu.Unlock()

	rfd, errno := p.allocFD(rf)
	if errno != 0 {
		dropFile(rf)
		dropFile(wf)
		return -1, -1, errno
	}
	wfd, errno := p.allocFD(wf)
	if errno != 0 {
		p.clearFD(rfd)
		dropFile(rf)
		dropFile(wf)
		return -1, -1, errno
	}
	return rfd, wfd, 0
}

// dropFile releases a freshly allocated, never-exposed table slot on
// a failure path, before it has picked up an inode or pipe reference
// worth releasing in turn.
func dropFile(f *File) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.Kind = FDNone
	f.Pipe = nil
	f.ref = 0
	f.mu.Unlock()
}

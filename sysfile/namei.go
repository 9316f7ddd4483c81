// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfile

import (
	"syscall"

	"github.com/jnlong/xv6go/xvfs"
	"github.com/jnlong/xv6go/xvsync"
)

// create resolves path's parent, then either returns the existing
// entry (if it already exists and typ is compatible) or allocates a
// fresh inode of the requested type and links it in. Caller holds the
// enclosing BeginOp/EndOp bracket; the returned inode is locked.
func (k *Kernel) create(h *xvsync.Hart, p *Process, path string, typ xvfs.FileType, major, minor int16) (*xvfs.Inode, syscall.Errno) {
	dp, name, err := k.FS.NameiParent(h, p.Cwd, path)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if err := k.FS.Ilock(h, dp); err != nil {
		k.FS.Iput(h, dp)
		return nil, syscall.EIO
	}

	if ip, _, err := k.FS.Dirlookup(h, dp, name); err != nil {
		k.FS.Iunlockput(h, dp)
		return nil, syscall.EIO
	} else if ip != nil {
		k.FS.Iunlockput(h, dp)
		if err := k.FS.Ilock(h, ip); err != nil {
			k.FS.Iput(h, ip)
			return nil, syscall.EIO
		}
		if typ == xvfs.TypeFile && (ip.Type == xvfs.TypeFile || ip.Type == xvfs.TypeDevice) {
			return ip, 0
		}
		k.FS.Iunlockput(h, ip)
		return nil, syscall.EEXIST
	}

	ip, err := k.FS.Ialloc(h, typ)
	if err != nil {
		k.FS.Iunlockput(h, dp)
		return nil, syscall.ENOSPC
	}
	if err := k.FS.Ilock(h, ip); err != nil {
		k.FS.Iunlockput(h, dp)
		k.FS.Iput(h, ip)
		return nil, syscall.EIO
	}
	ip.Major = major
	ip.Minor = minor
	ip.NLink = 1
	if err := k.FS.Iupdate(h, ip); err != nil {
		k.FS.Iunlockput(h, dp)
		k.FS.Iunlockput(h, ip)
		return nil, syscall.EIO
	}

	if typ == xvfs.TypeDir {
		if err := k.FS.MakeDirEntries(h, ip, ip.Inum, dp); err != nil {
			k.FS.Iunlockput(h, dp)
			k.FS.Iunlockput(h, ip)
			return nil, syscall.EIO
		}
	}

	if err := k.FS.Dirlink(h, dp, name, ip.Inum); err != nil {
		k.FS.Iunlockput(h, dp)
		k.FS.Iunlockput(h, ip)
		return nil, syscall.EIO
	}
	k.FS.Iunlockput(h, dp)
	return ip, 0
}

// Mkdir creates an empty directory at path.
func (k *Kernel) Mkdir(h *xvsync.Hart, p *Process, path string) syscall.Errno {
	k.FS.Log.BeginOp(h)
	defer k.FS.Log.EndOp(h)

	ip, errno := k.create(h, p, path, xvfs.TypeDir, 0, 0)
	if errno != 0 {
		return errno
	}
	k.FS.Iunlockput(h, ip)
	return 0
}

// Mknod creates a device special file at path with the given major and
// minor numbers.
func (k *Kernel) Mknod(h *xvsync.Hart, p *Process, path string, major, minor int16) syscall.Errno {
	k.FS.Log.BeginOp(h)
	defer k.FS.Log.EndOp(h)

	ip, errno := k.create(h, p, path, xvfs.TypeDevice, major, minor)
	if errno != 0 {
		return errno
	}
	k.FS.Iunlockput(h, ip)
	return 0
}

// Chdir resolves path and, if it names a directory, replaces proc's
// current directory with it.
func (k *Kernel) Chdir(h *xvsync.Hart, p *Process, path string) syscall.Errno {
	ip, err := k.FS.Namei(h, p.Cwd, path)
	if err != nil {
		return syscall.ENOENT
	}
	if err := k.FS.Ilock(h, ip); err != nil {
		k.FS.Iput(h, ip)
		return syscall.EIO
	}
	if ip.Type != xvfs.TypeDir {
		k.FS.Iunlockput(h, ip)
		return syscall.ENOTDIR
	}
	k.FS.Iunlock(h, ip)

	old := p.Cwd
	p.Cwd = ip
	k.FS.Log.BeginOp(h)
	k.FS.Iput(h, old)
	k.FS.Log.EndOp(h)
	return 0
}

// Link creates a new name for an existing, non-directory file.
func (k *Kernel) Link(h *xvsync.Hart, p *Process, oldPath, newPath string) syscall.Errno {
	k.FS.Log.BeginOp(h)
	defer k.FS.Log.EndOp(h)

	ip, err := k.FS.Namei(h, p.Cwd, oldPath)
	if err != nil {
		return syscall.ENOENT
	}
	if err := k.FS.Ilock(h, ip); err != nil {
		k.FS.Iput(h, ip)
		return syscall.EIO
	}
	if ip.Type == xvfs.TypeDir {
		k.FS.Iunlockput(h, ip)
		return syscall.EPERM
	}
	ip.NLink++
	if err := k.FS.Iupdate(h, ip); err != nil {
		ip.NLink--
		k.FS.Iunlockput(h, ip)
		return syscall.EIO
	}
	k.FS.Iunlock(h, ip)

	dp, name, err := k.FS.NameiParent(h, p.Cwd, newPath)
	if err != nil {
		k.rollbackLink(h, ip)
		return syscall.ENOENT
	}
	if err := k.FS.Ilock(h, dp); err != nil {
		k.FS.Iput(h, dp)
		k.rollbackLink(h, ip)
		return syscall.EIO
	}
	if dp.Dev != ip.Dev {
		k.FS.Iunlockput(h, dp)
		k.rollbackLink(h, ip)
		return syscall.EXDEV
	}
	if err := k.FS.Dirlink(h, dp, name, ip.Inum); err != nil {
		k.FS.Iunlockput(h, dp)
		k.rollbackLink(h, ip)
		return syscall.EEXIST
	}
	k.FS.Iunlockput(h, dp)
	k.FS.Iput(h, ip)
	return 0
}

// rollbackLink undoes the link-count bump Link made before discovering
// the new name could not be created.
func (k *Kernel) rollbackLink(h *xvsync.Hart, ip *xvfs.Inode) {
	if err := k.FS.Ilock(h, ip); err != nil {
		k.FS.Iput(h, ip)
		return
	}
	ip.NLink--
	k.FS.Iupdate(h, ip)
	k.FS.Iunlockput(h, ip)
}

// Unlink removes name from its parent directory, freeing the inode
// once its link count and open-reference count both reach zero. It
// refuses "." and ".." and refuses to remove a non-empty directory.
func (k *Kernel) Unlink(h *xvsync.Hart, p *Process, path string) syscall.Errno {
	k.FS.Log.BeginOp(h)
	defer k.FS.Log.EndOp(h)

	dp, name, err := k.FS.NameiParent(h, p.Cwd, path)
	if err != nil {
		return syscall.ENOENT
	}
	if name == "." || name == ".." {
		k.FS.Iput(h, dp)
		return syscall.EPERM
	}
	if err := k.FS.Ilock(h, dp); err != nil {
		k.FS.Iput(h, dp)
		return syscall.EIO
	}

	ip, off, err := k.FS.Dirlookup(h, dp, name)
	if err != nil {
		k.FS.Iunlockput(h, dp)
		return syscall.EIO
	}
	if ip == nil {
		k.FS.Iunlockput(h, dp)
		return syscall.ENOENT
	}
	if err := k.FS.Ilock(h, ip); err != nil {
		k.FS.Iunlockput(h, dp)
		k.FS.Iput(h, ip)
		return syscall.EIO
	}

	if ip.NLink < 1 {
		k.FS.Iunlockput(h, ip)
		k.FS.Iunlockput(h, dp)
		panic("sysfile: Unlink: inode with link count under 1")
	}
	if ip.Type == xvfs.TypeDir && !dirEmpty(h, k.FS, ip) {
		k.FS.Iunlockput(h, ip)
		k.FS.Iunlockput(h, dp)
		return syscall.ENOTEMPTY
	}

	empty := make([]byte, 16)
	if _, err := k.FS.Writei(h, dp, empty, off); err != nil {
		k.FS.Iunlockput(h, ip)
		k.FS.Iunlockput(h, dp)
		return syscall.EIO
	}
	if ip.Type == xvfs.TypeDir {
		dp.NLink--
		k.FS.Iupdate(h, dp)
	}
	k.FS.Iunlockput(h, dp)

	ip.NLink--
	if err := k.FS.Iupdate(h, ip); err != nil {
		k.FS.Iunlockput(h, ip)
		return syscall.EIO
	}
	k.FS.Iunlockput(h, ip)
	return 0
}

// dirEmpty reports whether dp holds anything beyond "." and "..".
// Caller holds dp.Lock.
func dirEmpty(h *xvsync.Hart, fs *xvfs.FS, dp *xvfs.Inode) bool {
	buf := make([]byte, 16)
	for off := uint32(2 * 16); off < dp.Size; off += 16 {
		n, err := fs.Readi(h, dp, buf, off)
		if err != nil || n != 16 {
			return false
		}
		if buf[0] != 0 || buf[1] != 0 {
			return false
		}
	}
	return true
}

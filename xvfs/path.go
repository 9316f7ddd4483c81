// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"errors"
	"strings"

	"github.com/jnlong/xv6go/xvsync"
)

// ErrNotFound is returned when a path component cannot be resolved.
var ErrNotFound = errors.New("xvfs: path not found")

// skipElem removes one leading "/"-separated element from path,
// clipped to DirSiz bytes as on-disk names are, and returns it along
// with everything after it (leading and trailing slashes stripped).
// ok is false once path has no more elements, mirroring skipelem's
// "" return in the original.
func skipElem(path string) (elem, rest string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[start:i]
	if len(elem) > DirSiz {
		elem = elem[:DirSiz]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return elem, path[i:], true
}

// namex is the shared engine behind Namei and NameiParent. It begins
// at the root inode if path is absolute, or at cwd otherwise, and
// walks one path element at a time: lock the current inode, confirm
// it is a directory, look up the next element, unlock, drop the old
// reference, descend. Each step holds at most one inode's lock, so
// lookups always acquire locks parent-before-child and concurrent
// renames or unlinks cannot deadlock against this walk.
//
// If wantParent is set, the walk stops one element early and returns
// the parent inode (referenced, unlocked) plus the final element name
// instead of resolving it.
func (fs *FS) namex(h *xvsync.Hart, cwd *Inode, path string, wantParent bool) (*Inode, string, error) {
	var ip *Inode
	if strings.HasPrefix(path, "/") {
		var err error
		ip, err = fs.Iget(h, fs.DevNo, RootIno)
		if err != nil {
			return nil, "", err
		}
	} else {
		if cwd == nil {
			return nil, "", errors.New("xvfs: namex: relative path with no current directory")
		}
		ip = fs.Idup(h, cwd)
	}

	rest := path
	for {
		elem, next, ok := skipElem(rest)
		if !ok {
			break
		}
		rest = next

		if err := fs.Ilock(h, ip); err != nil {
			fs.Iput(h, ip)
			return nil, "", err
		}
		if ip.Type != TypeDir {
			fs.Iunlockput(h, ip)
			return nil, "", errNotADir
		}
		if wantParent && rest == "" {
			fs.Iunlock(h, ip)
			return ip, elem, nil
		}
		child, _, err := fs.Dirlookup(h, ip, elem)
		if err != nil {
			fs.Iunlockput(h, ip)
			return nil, "", err
		}
		if child == nil {
			fs.Iunlockput(h, ip)
			return nil, "", ErrNotFound
		}
		fs.Iunlockput(h, ip)
		ip = child
	}

	if wantParent {
		fs.Iput(h, ip)
		return nil, "", ErrNotFound
	}
	return ip, "", nil
}

// Namei resolves path to its inode, returned referenced but unlocked.
// A relative path is resolved against cwd.
func (fs *FS) Namei(h *xvsync.Hart, cwd *Inode, path string) (*Inode, error) {
	ip, _, err := fs.namex(h, cwd, path, false)
	return ip, err
}

// NameiParent resolves path's parent directory, returned referenced
// but unlocked, along with the final path element's name.
func (fs *FS) NameiParent(h *xvsync.Hart, cwd *Inode, path string) (*Inode, string, error) {
	return fs.namex(h, cwd, path, true)
}

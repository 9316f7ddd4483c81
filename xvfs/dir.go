// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"encoding/binary"
	"errors"

	"github.com/jnlong/xv6go/xvsync"
)

// Dirent is one directory entry: an inode number and a fixed-width
// name. A zero Inum marks an unused slot, reusable by a later
// Dirlink.
type Dirent struct {
	Inum uint16
	Name string
}

func decodeDirent(b []byte) Dirent {
	inum := binary.LittleEndian.Uint16(b[0:2])
	raw := b[2:direntSize]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return Dirent{Inum: inum, Name: string(raw[:n])}
}

func encodeDirent(d Dirent, b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], d.Inum)
	name := d.Name
	if len(name) > DirSiz {
		name = name[:DirSiz]
	}
	copy(b[2:direntSize], name)
	for i := 2 + len(name); i < direntSize; i++ {
		b[i] = 0
	}
}

var errNotADir = errors.New("xvfs: dirlookup: not a directory")

// Dirlookup scans dp's entries for name. On a match it returns the
// target inode (referenced but not locked) and the byte offset of the
// matching entry within dp. Caller holds dp.Lock.
func (fs *FS) Dirlookup(h *xvsync.Hart, dp *Inode, name string) (*Inode, uint32, error) {
	if dp.Type != TypeDir {
		return nil, 0, errNotADir
	}

	buf := make([]byte, direntSize)
	for off := uint32(0); off < dp.Size; off += direntSize {
		n, err := fs.Readi(h, dp, buf, off)
		if err != nil {
			return nil, 0, err
		}
		if n != direntSize {
			return nil, 0, errors.New("xvfs: dirlookup: short directory read")
		}
		de := decodeDirent(buf)
		if de.Inum == 0 {
			continue
		}
		if de.Name == name {
			ip, err := fs.Iget(h, dp.Dev, uint32(de.Inum))
			return ip, off, err
		}
	}
	return nil, 0, nil
}

// ReadDir returns every occupied entry in directory dp, in on-disk
// order. Caller holds dp.Lock.
func (fs *FS) ReadDir(h *xvsync.Hart, dp *Inode) ([]Dirent, error) {
	if dp.Type != TypeDir {
		return nil, errNotADir
	}
	var entries []Dirent
	buf := make([]byte, direntSize)
	for off := uint32(0); off < dp.Size; off += direntSize {
		n, err := fs.Readi(h, dp, buf, off)
		if err != nil {
			return nil, err
		}
		if n != direntSize {
			return nil, errors.New("xvfs: readdir: short directory read")
		}
		de := decodeDirent(buf)
		if de.Inum != 0 {
			entries = append(entries, de)
		}
	}
	return entries, nil
}

var errDirentExists = errors.New("xvfs: dirlink: name already exists")

// Dirlink adds a (name, inum) entry to directory dp, reusing the
// first free slot or appending a new one. It refuses to create a
// duplicate name. Caller holds dp.Lock and is inside a transaction.
func (fs *FS) Dirlink(h *xvsync.Hart, dp *Inode, name string, inum uint32) error {
	if existing, _, err := fs.Dirlookup(h, dp, name); err != nil {
		return err
	} else if existing != nil {
		if err := fs.Iput(h, existing); err != nil {
			return err
		}
		return errDirentExists
	}

	buf := make([]byte, direntSize)
	off := uint32(0)
	for ; off < dp.Size; off += direntSize {
		n, err := fs.Readi(h, dp, buf, off)
		if err != nil {
			return err
		}
		if n != direntSize {
			return errors.New("xvfs: dirlink: short directory read")
		}
		if decodeDirent(buf).Inum == 0 {
			break
		}
	}

	encodeDirent(Dirent{Inum: uint16(inum), Name: name}, buf)
	n, err := fs.Writei(h, dp, buf, off)
	if err != nil {
		return err
	}
	if n != direntSize {
		return errors.New("xvfs: dirlink: short directory write")
	}
	return nil
}

// MakeDirEntries writes the "." and ".." entries new directory dir
// (whose inode number is inum) needs at creation, linking dir to
// itself and to parent. ".." bumps the parent's link count; "."
// deliberately does not, to avoid a self-referential link count that
// would keep the directory from ever reaching zero.
func (fs *FS) MakeDirEntries(h *xvsync.Hart, dir *Inode, inum uint32, parent *Inode) error {
	if err := fs.Dirlink(h, dir, ".", inum); err != nil {
		return err
	}
	if err := fs.Dirlink(h, dir, "..", parent.Inum); err != nil {
		return err
	}
	parent.NLink++
	return fs.Iupdate(h, parent)
}

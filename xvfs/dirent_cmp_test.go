// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xvfs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestReadDirMatchesExpectedEntries checks the directory listing
// ReadDir produces against a hand-built expectation with cmp.Diff
// instead of field-by-field assertions.
func TestReadDirMatchesExpectedEntries(t *testing.T) {
	fs, h := newTestFS(t)
	dir := root(t, fs, h)

	a := createFile(t, fs, h, dir, "a.txt")
	b := createFile(t, fs, h, dir, "b.txt")

	if err := fs.Ilock(h, dir); err != nil {
		t.Fatal(err)
	}
	entries, err := fs.ReadDir(h, dir)
	fs.Iunlockput(h, dir)
	if err != nil {
		t.Fatal(err)
	}

	want := []Dirent{
		{Inum: RootIno, Name: "."},
		{Inum: RootIno, Name: ".."},
		{Inum: uint16(a.Inum), Name: "a.txt"},
		{Inum: uint16(b.Inum), Name: "b.txt"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("ReadDir mismatch (-want +got):\n%s", diff)
	}
	fs.Iput(h, a)
	fs.Iput(h, b)
}

// TestStatiMatchesExpectedShape exercises the same comparison idiom
// against Stat.
func TestStatiMatchesExpectedShape(t *testing.T) {
	fs, h := newTestFS(t)
	dir := root(t, fs, h)
	ip := createFile(t, fs, h, dir, "shape")

	if err := fs.Ilock(h, ip); err != nil {
		t.Fatal(err)
	}
	got := Stati(ip)
	fs.Iunlockput(h, ip)

	want := Stat{Dev: 0, Ino: ip.Inum, Type: TypeFile, NLink: 1, Size: 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Stati mismatch (-want +got):\n%s", diff)
	}
	fs.Iput(h, dir)
}

// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jnlong/xv6go/bio"
	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/sysfile"
	"github.com/jnlong/xv6go/xvfs"
)

func freshImage(t *testing.T, blocks uint32) diskio.Device {
	t.Helper()
	dev := diskio.NewMemDevice(blocks)
	_, err := xvfs.Format(dev, xvfs.FormatOptions{TotalBlocks: blocks, NInodes: 200, NLog: 30})
	require.NoError(t, err)
	return dev
}

// TestCreateReadRoundTrip creates a file, writes to it, closes it,
// reopens it, reads back, and checks fstat's size and link count.
func TestCreateReadRoundTrip(t *testing.T) {
	sys, err := Boot(context.Background(), freshImage(t, 2000), Config{})
	require.NoError(t, err)
	k, p, h := sys.Kernel, sys.Root, sys.Harts[0]

	fd, errno := k.Open(context.Background(), h, p, "/a", sysfile.OCREATE|sysfile.ORDWR)
	require.Zero(t, errno)
	n, errno := k.Write(h, p, fd, []byte("hello"))
	require.Zero(t, errno)
	require.Equal(t, 5, n)
	require.Zero(t, k.Close(h, p, fd))

	fd2, errno := k.Open(context.Background(), h, p, "/a", sysfile.ORDONLY)
	require.Zero(t, errno)
	buf := make([]byte, 5)
	n, errno = k.Read(h, p, fd2, buf)
	require.Zero(t, errno)
	require.Equal(t, "hello", string(buf[:n]))

	st, errno := k.Fstat(h, p, fd2)
	require.Zero(t, errno)
	require.EqualValues(t, 5, st.Size)
	require.EqualValues(t, 1, st.NLink)
	require.Zero(t, k.Close(h, p, fd2))
}

func TestLinkAndUnlink(t *testing.T) {
	sys, err := Boot(context.Background(), freshImage(t, 2000), Config{})
	require.NoError(t, err)
	k, p, h := sys.Kernel, sys.Root, sys.Harts[0]

	fd, errno := k.Open(context.Background(), h, p, "/x", sysfile.OCREATE|sysfile.ORDWR)
	require.Zero(t, errno)
	_, errno = k.Write(h, p, fd, []byte("abc"))
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, fd))

	require.Zero(t, k.Link(h, p, "/x", "/y"))

	for _, path := range []string{"/x", "/y"} {
		fd, errno := k.Open(context.Background(), h, p, path, sysfile.ORDONLY)
		require.Zero(t, errno)
		st, errno := k.Fstat(h, p, fd)
		require.Zero(t, errno)
		require.EqualValues(t, 2, st.NLink, "%s should have nlink 2 while both names exist", path)
		require.Zero(t, k.Close(h, p, fd))
	}

	require.Zero(t, k.Unlink(h, p, "/x"))

	fd, errno = k.Open(context.Background(), h, p, "/y", sysfile.ORDONLY)
	require.Zero(t, errno)
	buf := make([]byte, 3)
	n, errno := k.Read(h, p, fd, buf)
	require.Zero(t, errno)
	require.Equal(t, "abc", string(buf[:n]))
	st, errno := k.Fstat(h, p, fd)
	require.Zero(t, errno)
	require.EqualValues(t, 1, st.NLink)
	require.Zero(t, k.Close(h, p, fd))

	_, errno = k.Open(context.Background(), h, p, "/x", sysfile.ORDONLY)
	require.NotZero(t, errno, "/x should no longer resolve after unlink")
}

func TestDirectorySemantics(t *testing.T) {
	sys, err := Boot(context.Background(), freshImage(t, 2000), Config{})
	require.NoError(t, err)
	k, p, h := sys.Kernel, sys.Root, sys.Harts[0]

	require.Zero(t, k.Mkdir(h, p, "/d"))

	fd, errno := k.Open(context.Background(), h, p, "/d/child", sysfile.OCREATE|sysfile.ORDWR)
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, fd))

	errno = k.Unlink(h, p, "/d")
	require.NotZero(t, errno, "unlink of a non-empty directory must fail")

	require.Zero(t, k.Unlink(h, p, "/d/child"))

	rootFd, errno := k.Open(context.Background(), h, p, "/", sysfile.ORDONLY)
	require.Zero(t, errno)
	stBefore, errno := k.Fstat(h, p, rootFd)
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, rootFd))

	require.Zero(t, k.Unlink(h, p, "/d"))

	rootFd, errno = k.Open(context.Background(), h, p, "/", sysfile.ORDONLY)
	require.Zero(t, errno)
	stAfter, errno := k.Fstat(h, p, rootFd)
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, rootFd))

	require.Equal(t, stBefore.NLink-1, stAfter.NLink, "removing a subdirectory must drop the parent's nlink by one")
}

// The two crash tests drive a mid-commit crash through the full
// syscall stack instead of directly against walog, using
// diskio.CrashAfterDevice to cut writes off at a precise point.
func TestCrashBeforeHeaderWriteDiscardsTransaction(t *testing.T) {
	const blocks = 2000
	mem := diskio.NewMemDevice(blocks)
	_, err := xvfs.Format(mem, xvfs.FormatOptions{TotalBlocks: blocks, NInodes: 200, NLog: 30})
	require.NoError(t, err)

	sys, err := Boot(context.Background(), mem, Config{})
	require.NoError(t, err)
	k, p, h := sys.Kernel, sys.Root, sys.Harts[0]

	fd, errno := k.Open(context.Background(), h, p, "/v", sysfile.OCREATE|sysfile.ORDWR)
	require.Zero(t, errno)
	_, errno = k.Write(h, p, fd, []byte("V1"))
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, fd))

	// Arm the crash so not even the first log-slot write goes
	// through: the commit fails before the header write that marks a
	// transaction committed. Kernel.Write discards EndOp's error
	// (commit errors are not a surfaced syscall outcome), so observe
	// the failure by driving the log directly, the same layer walog's
	// own recovery tests exercise.
	crashed := &diskio.CrashAfterDevice{Device: mem, Budget: 0}
	sys.FS.Cache.SetDevice(crashed)

	ip, err := sys.FS.Namei(h, p.Cwd, "/v")
	require.NoError(t, err)
	require.NoError(t, sys.FS.Ilock(h, ip))
	sys.FS.Log.BeginOp(h)
	_, werr := sys.FS.Writei(h, ip, []byte("V2"), 0)
	require.NoError(t, werr, "Writei itself only touches the cache, not the device")
	cerr := sys.FS.Log.EndOp(h)
	require.Error(t, cerr, "commit should fail once the device stops accepting writes")
	sys.FS.Iunlockput(h, ip)

	// Remount on the plain (uncrashed) device: recovery sees no
	// committed transaction, so V1 must survive untouched.
	sys2, err := Boot(context.Background(), mem, Config{})
	require.NoError(t, err)
	k2, p2, h2 := sys2.Kernel, sys2.Root, sys2.Harts[0]

	fd2, errno := k2.Open(context.Background(), h2, p2, "/v", sysfile.ORDONLY)
	require.Zero(t, errno)
	buf := make([]byte, 2)
	n, errno := k2.Read(h2, p2, fd2, buf)
	require.Zero(t, errno)
	require.Equal(t, "V1", string(buf[:n]))
}

func TestCrashAfterHeaderWriteReplaysTransaction(t *testing.T) {
	const blocks = 2000
	mem := diskio.NewMemDevice(blocks)
	_, err := xvfs.Format(mem, xvfs.FormatOptions{TotalBlocks: blocks, NInodes: 200, NLog: 30})
	require.NoError(t, err)

	sys, err := Boot(context.Background(), mem, Config{})
	require.NoError(t, err)
	k, p, h := sys.Kernel, sys.Root, sys.Harts[0]

	fd, errno := k.Open(context.Background(), h, p, "/v", sysfile.OCREATE|sysfile.ORDWR)
	require.Zero(t, errno)
	_, errno = k.Write(h, p, fd, []byte("V1"))
	require.Zero(t, errno)
	require.Zero(t, k.Close(h, p, fd))

	// This time let the 2 log-slot writes and the commit-point header
	// write through (the data block and the inode block Writei/
	// Iupdate touch), then crash before either home-location install
	// happens. Recovery must still finish the install.
	crashed := &diskio.CrashAfterDevice{Device: mem, Budget: 3}
	sys.FS.Cache.SetDevice(crashed)

	ip, err := sys.FS.Namei(h, p.Cwd, "/v")
	require.NoError(t, err)
	require.NoError(t, sys.FS.Ilock(h, ip))
	sys.FS.Log.BeginOp(h)
	_, werr := sys.FS.Writei(h, ip, []byte("V2"), 0)
	require.NoError(t, werr)
	cerr := sys.FS.Log.EndOp(h)
	require.Error(t, cerr, "commit should fail partway through install")
	sys.FS.Iunlockput(h, ip)

	sys2, err := Boot(context.Background(), mem, Config{})
	require.NoError(t, err)
	k2, p2, h2 := sys2.Kernel, sys2.Root, sys2.Harts[0]

	fd2, errno := k2.Open(context.Background(), h2, p2, "/v", sysfile.ORDONLY)
	require.Zero(t, errno)
	buf := make([]byte, 2)
	n, errno := k2.Read(h2, p2, fd2, buf)
	require.Zero(t, errno)
	require.Equal(t, "V2", string(buf[:n]), "recovery should have replayed the committed transaction")
}

// TestConcurrentDistinctBucketReads runs one hart per bucket, each
// reading a block whose blockno mod NBUCKET is unique, so the harts'
// bucket-local lookups hash to different buckets. The blocks are not
// yet cached, so each read still misses and takes the global eviction
// lock to bind a buffer.
func TestConcurrentDistinctBucketReads(t *testing.T) {
	require.Equal(t, 13, bio.NBUCKET)

	sys, err := Boot(context.Background(), freshImage(t, 2000), Config{NCPU: bio.NBUCKET})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < bio.NBUCKET; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			hart := sys.Harts[i]
			blockno := uint32(100 + i) // blockno mod NBUCKET is unique for i in [0, NBUCKET)
			b, err := sys.FS.Cache.Bread(hart, sys.Cfg.DevNo, blockno)
			require.NoError(t, err)
			sys.FS.Cache.Brelse(hart, b)
		}()
	}
	wg.Wait()
}

// TestConcurrentWritesToDistinctFiles runs one writer per hart, each
// against its own file, and checks every file reads back intact: the
// group commit may interleave the writers' transactions in any order,
// but no write may bleed into another file.
func TestConcurrentWritesToDistinctFiles(t *testing.T) {
	const nwriters = 4
	sys, err := Boot(context.Background(), freshImage(t, 4000), Config{NCPU: nwriters})
	require.NoError(t, err)
	k, p := sys.Kernel, sys.Root

	payload := func(i int) []byte {
		buf := make([]byte, 3000)
		for j := range buf {
			buf[j] = byte('a' + i)
		}
		return buf
	}
	paths := []string{"/w0", "/w1", "/w2", "/w3"}

	var wg sync.WaitGroup
	for i := 0; i < nwriters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := sys.Harts[i]
			fd, errno := k.Open(context.Background(), h, p, paths[i], sysfile.OCREATE|sysfile.ORDWR)
			if errno != 0 {
				t.Errorf("writer %d: open: %v", i, errno)
				return
			}
			n, errno := k.Write(h, p, fd, payload(i))
			if errno != 0 || n != 3000 {
				t.Errorf("writer %d: write: n=%d errno=%v", i, n, errno)
			}
			if errno := k.Close(h, p, fd); errno != 0 {
				t.Errorf("writer %d: close: %v", i, errno)
			}
		}()
	}
	wg.Wait()

	h := sys.Harts[0]
	for i := 0; i < nwriters; i++ {
		fd, errno := k.Open(context.Background(), h, p, paths[i], sysfile.ORDONLY)
		require.Zero(t, errno)
		got := make([]byte, 3000)
		n, errno := k.Read(h, p, fd, got)
		require.Zero(t, errno)
		require.Equal(t, 3000, n)
		require.Equal(t, payload(i), got)
		require.Zero(t, k.Close(h, p, fd))
	}
}

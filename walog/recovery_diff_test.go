// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package walog

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/jnlong/xv6go/bio"
	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/xvsync"
)

// TestRecoveredLayoutMatchesDirectCommit checks that a transaction
// which survives an interrupted commit and gets replayed by recovery
// produces byte-for-byte the same on-disk layout as the same
// transaction completing without any interruption at all: replaying
// the on-disk log at boot yields the same file-system state as
// completing the transaction without a crash.
func TestRecoveredLayoutMatchesDirectCommit(t *testing.T) {
	h := xvsync.NewHart(0)

	// Reference run: commit cleanly, no crash involved.
	clean := diskio.NewMemDevice(32)
	cleanCache := bio.NewCache(clean, bio.NBUCKET*2)
	cleanLog, err := NewLog(h, 0, cleanCache, 0, testLogSize)
	if err != nil {
		t.Fatal(err)
	}
	cleanLog.BeginOp(h)
	writeBlock(t, h, cleanLog, cleanCache, 20, 0x5A)
	writeBlock(t, h, cleanLog, cleanCache, 21, 0xA5)
	if err := cleanLog.EndOp(h); err != nil {
		t.Fatal(err)
	}

	// Crashed run: same writes, but the device refuses every write
	// after the commit-point header, forcing recovery to finish the
	// install on the next mount.
	crashed := diskio.NewMemDevice(32)
	flaky := &crashDevice{Device: crashed, budget: 3}
	crashedCache := bio.NewCache(flaky, bio.NBUCKET*2)
	crashedLog, err := NewLog(h, 0, crashedCache, 0, testLogSize)
	if err != nil {
		t.Fatal(err)
	}
	crashedLog.BeginOp(h)
	writeBlock(t, h, crashedLog, crashedCache, 20, 0x5A)
	writeBlock(t, h, crashedLog, crashedCache, 21, 0xA5)
	if err := crashedLog.EndOp(h); err == nil {
		t.Fatal("expected the simulated crash to interrupt the commit")
	}
	recoverCache := bio.NewCache(crashed, bio.NBUCKET*2)
	if _, err := NewLog(xvsync.NewHart(0), 0, recoverCache, 0, testLogSize); err != nil {
		t.Fatalf("recovery: %v", err)
	}

	for _, bno := range []uint32{20, 21} {
		want := make([]byte, diskio.BSIZE)
		got := make([]byte, diskio.BSIZE)
		if err := clean.ReadBlock(bno, want); err != nil {
			t.Fatal(err)
		}
		if err := crashed.ReadBlock(bno, got); err != nil {
			t.Fatal(err)
		}
		if diff := pretty.Compare(got, want); diff != "" {
			t.Errorf("block %d: recovered layout differs from a clean commit (-got +want):\n%s", bno, diff)
		}
	}
	if !bytes.Equal(clean.Snapshot(20), crashed.Snapshot(20)) {
		t.Fatal("snapshot helper disagrees with pretty.Compare")
	}
}

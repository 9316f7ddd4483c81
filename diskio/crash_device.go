// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diskio

import "errors"

// ErrSimulatedCrash is returned once a CrashAfterDevice's write budget
// is exhausted, standing in for the machine losing power mid-write.
var ErrSimulatedCrash = errors.New("diskio: simulated crash: write budget exhausted")

// CrashAfterDevice wraps a Device and lets exactly Budget further
// WriteBlock calls through; every one after that fails with
// ErrSimulatedCrash instead of reaching the wrapped device. Reads are
// always forwarded: a crashed machine's disk is still readable once
// it reboots, which is exactly what lets the log's recovery run
// against it.
//
// This is the production home of the crash-injection pattern walog's
// own recovery tests use locally: cmd/xv6fsshell's `crash` command
// wraps the live FileDevice in one of these to let an operator drive
// crash-before-commit and crash-mid-install recovery interactively
// instead of only in a unit test.
type CrashAfterDevice struct {
	Device
	Budget int

	writes int
}

// WriteBlock forwards to the wrapped device until Budget writes have
// gone through, then fails every call after that.
func (c *CrashAfterDevice) WriteBlock(blockno uint32, src []byte) error {
	if c.writes >= c.Budget {
		return ErrSimulatedCrash
	}
	c.writes++
	return c.Device.WriteBlock(blockno, src)
}

// Writes reports how many writes have been let through so far.
func (c *CrashAfterDevice) Writes() int { return c.writes }

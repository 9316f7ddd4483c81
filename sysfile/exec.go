// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfile

import "syscall"

// MaxArg bounds how many arguments a single exec call may carry,
// matching xv6's MAXARG.
const MaxArg = 32

// ValidateExecArgs checks an exec call's argument vector without
// implementing the rest of exec; the process image load and
// page-table setup belong to the scheduler and page-table machinery
// outside this core. It returns E2BIG past MaxArg elements, EINVAL
// for an empty vector, and 0 otherwise.
func ValidateExecArgs(argv []string) syscall.Errno {
	if len(argv) == 0 {
		return syscall.EINVAL
	}
	if len(argv) > MaxArg {
		return syscall.E2BIG
	}
	return 0
}

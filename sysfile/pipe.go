// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfile

import (
	"sync"
	"syscall"
)

// pipeSize mirrors xv6's fixed 512-byte pipe buffer.
const pipeSize = 512

// Pipe is an anonymous, unidirectional byte stream between a read and
// a write descriptor. xv6 implements this with a shared ring buffer
// and sleep/wakeup; a hosted Go process has a direct equivalent in a
// buffered channel, so Pipe is a thin wrapper around one rather than
// a hand-rolled ring buffer and condition variable.
type Pipe struct {
	mu        sync.Mutex
	data      chan byte
	readDone  chan struct{}
	writeOpen bool
}

// NewPipe returns a pipe with both ends open.
func NewPipe() *Pipe {
	return &Pipe{
		data:      make(chan byte, pipeSize),
		readDone:  make(chan struct{}),
		writeOpen: true,
	}
}

// CloseRead marks the read end closed. A write to a pipe with no
// reader left returns EPIPE instead of blocking forever, even if it
// was already asleep on a full buffer.
func (p *Pipe) CloseRead() {
	p.mu.Lock()
	select {
	case <-p.readDone:
	default:
		close(p.readDone)
	}
	p.mu.Unlock()
}

// CloseWrite marks the write end closed and unblocks any reader
// waiting on more data: it will drain what remains, then see EOF.
func (p *Pipe) CloseWrite() {
	p.mu.Lock()
	if p.writeOpen {
		p.writeOpen = false
		close(p.data)
	}
	p.mu.Unlock()
}

// Write copies src into the pipe, blocking while the buffer is full.
// It fails with EPIPE if the read end has already gone away.
func (p *Pipe) Write(src []byte) (int, syscall.Errno) {
	for i, b := range src {
		// Check the read end first: a select with both cases ready
		// picks one at random, and could keep buffering into a pipe
		// nobody will read.
		select {
		case <-p.readDone:
			return i, syscall.EPIPE
		default:
		}
		select {
		case p.data <- b:
		case <-p.readDone:
			return i, syscall.EPIPE
		}
	}
	return len(src), 0
}

// Read copies up to len(dst) bytes out of the pipe, blocking until at
// least one byte is available or the write end has closed and the
// buffer has drained (end of stream, returning 0 bytes).
func (p *Pipe) Read(dst []byte) (int, syscall.Errno) {
	if len(dst) == 0 {
		return 0, 0
	}
	b, ok := <-p.data
	if !ok {
		return 0, 0
	}
	dst[0] = b
	n := 1
	for n < len(dst) {
		select {
		case b, ok := <-p.data:
			if !ok {
				return n, 0
			}
			dst[n] = b
			n++
		default:
			return n, 0
		}
	}
	return n, 0
}

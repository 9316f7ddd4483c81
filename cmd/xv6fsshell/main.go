// Copyright 2026 the xv6go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xv6fsshell is an interactive shell that issues syscalls
// against a mounted xv6go image: ls, cat, write, mkdir, link, unlink,
// stat, cd. A `crash` command wraps the live device in a
// diskio.CrashAfterDevice so an operator can drive the write-ahead
// log's crash-recovery scenarios by hand instead of
// only in a unit test.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/jnlong/xv6go/diskio"
	"github.com/jnlong/xv6go/internal/boot"
	"github.com/jnlong/xv6go/sysfile"
	"github.com/jnlong/xv6go/xvfs"
)

func main() {
	log.SetFlags(0)

	image := flag.String("image", "xv6.img", "disk image to mount")
	blocks := flag.Uint32("blocks", 2000, "image size in blocks (must match the image on disk)")
	ncpu := flag.Int("ncpu", 1, "number of simulated harts to bring online")
	flag.Parse()

	if err := run(*image, *blocks, *ncpu); err != nil {
		fmt.Fprintln(os.Stderr, "xv6fsshell:", err)
		os.Exit(1)
	}
}

func run(image string, blocks uint32, ncpu int) error {
	dev, err := diskio.OpenFileDevice(image, blocks)
	if err != nil {
		return err
	}

	sys, err := boot.Boot(context.Background(), dev, boot.Config{NCPU: ncpu, DevNo: 0})
	if err != nil {
		dev.Close()
		return err
	}

	sh := &shell{sys: sys, out: os.Stdout}
	sh.loop(os.Stdin)

	if sh.crashed {
		// The device already refused further writes; nothing clean
		// left to shut down, and closing would mask that state.
		return nil
	}
	return sys.Shutdown()
}

// shell holds the REPL's live state: the booted kernel, the single
// hart this single-threaded shell acts as, and the one process whose
// descriptor table and current directory every command shares.
type shell struct {
	sys     *boot.System
	out     io.Writer
	crashed bool
}

func (s *shell) loop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(s.out, "xv6fsshell: type 'help' for commands, 'quit' to exit")
	for {
		fmt.Fprint(s.out, "xv6# ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		if cmd == "quit" || cmd == "exit" {
			return
		}
		if err := s.dispatch(cmd, args); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

func (s *shell) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		s.help()
		return nil
	case "ls":
		return s.ls(args)
	case "cat":
		return s.cat(args)
	case "write":
		return s.write(args)
	case "mkdir":
		return s.mkdir(args)
	case "link":
		return s.link(args)
	case "unlink":
		return s.unlink(args)
	case "stat":
		return s.stat(args)
	case "cd":
		return s.cd(args)
	case "crash":
		return s.crash(args)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func (s *shell) help() {
	fmt.Fprintln(s.out, `commands:
  ls [path]              list a directory's entries (default: cwd)
  cat <path>             print a file's contents
  write <path> <text...> create or truncate path, writing text
  mkdir <path>           create an empty directory
  link <old> <new>       add a new name for an existing file
  unlink <path>          remove a name
  stat <path>            print type/nlink/size
  cd <path>              change the current directory
  crash <n>              wrap the device so only n more writes succeed
  quit                   exit`)
}

func (s *shell) proc() *sysfile.Process { return s.sys.Root }

func (s *shell) ls(args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	h := s.sys.Harts[0]
	fs := s.sys.FS
	ip, err := fs.Namei(h, s.proc().Cwd, path)
	if err != nil {
		return err
	}
	if err := fs.Ilock(h, ip); err != nil {
		fs.Iput(h, ip)
		return err
	}
	defer fs.Iunlockput(h, ip)
	if ip.Type != xvfs.TypeDir {
		return fmt.Errorf("%s is not a directory", path)
	}
	entries, err := fs.ReadDir(h, ip)
	if err != nil {
		return err
	}
	for _, de := range entries {
		fmt.Fprintf(s.out, "%6d %s\n", de.Inum, de.Name)
	}
	return nil
}

func (s *shell) cat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cat <path>")
	}
	k := s.sys.Kernel
	h := s.sys.Harts[0]
	fd, errno := k.Open(context.Background(), h, s.proc(), args[0], sysfile.ORDONLY)
	if errno != 0 {
		return errno
	}
	defer k.Close(h, s.proc(), fd)

	buf := make([]byte, 512)
	for {
		n, errno := k.Read(h, s.proc(), fd, buf)
		if errno != 0 {
			return errno
		}
		if n == 0 {
			return nil
		}
		s.out.Write(buf[:n])
	}
}

func (s *shell) write(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: write <path> <text...>")
	}
	k := s.sys.Kernel
	h := s.sys.Harts[0]
	flags := sysfile.OCREATE | sysfile.OTRUNC | sysfile.ORDWR
	fd, errno := k.Open(context.Background(), h, s.proc(), args[0], flags)
	if errno != 0 {
		return errno
	}
	defer k.Close(h, s.proc(), fd)

	text := strings.Join(args[1:], " ") + "\n"
	n, errno := k.Write(h, s.proc(), fd, []byte(text))
	if errno != 0 {
		return errno
	}
	fmt.Fprintf(s.out, "wrote %d bytes\n", n)
	return nil
}

func (s *shell) mkdir(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mkdir <path>")
	}
	if errno := s.sys.Kernel.Mkdir(s.sys.Harts[0], s.proc(), args[0]); errno != 0 {
		return errno
	}
	return nil
}

func (s *shell) link(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: link <old> <new>")
	}
	if errno := s.sys.Kernel.Link(s.sys.Harts[0], s.proc(), args[0], args[1]); errno != 0 {
		return errno
	}
	return nil
}

func (s *shell) unlink(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unlink <path>")
	}
	if errno := s.sys.Kernel.Unlink(s.sys.Harts[0], s.proc(), args[0]); errno != 0 {
		return errno
	}
	return nil
}

func (s *shell) stat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stat <path>")
	}
	k := s.sys.Kernel
	h := s.sys.Harts[0]
	fd, errno := k.Open(context.Background(), h, s.proc(), args[0], sysfile.ORDONLY)
	if errno != 0 {
		return errno
	}
	defer k.Close(h, s.proc(), fd)
	st, errno := k.Fstat(h, s.proc(), fd)
	if errno != 0 {
		return errno
	}
	fmt.Fprintf(s.out, "dev=%d ino=%d type=%d nlink=%d size=%d\n", st.Dev, st.Ino, st.Type, st.NLink, st.Size)
	return nil
}

func (s *shell) cd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cd <path>")
	}
	if errno := s.sys.Kernel.Chdir(s.sys.Harts[0], s.proc(), args[0]); errno != 0 {
		return errno
	}
	return nil
}

// crash rewraps the kernel's device in a diskio.CrashAfterDevice that
// lets only n more writes through, then marks the shell so main does
// not attempt a clean Shutdown afterward. A clean shutdown is
// exactly what a real crash does not get.
func (s *shell) crash(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: crash <writes-remaining>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("crash: %q is not a non-negative integer", args[0])
	}
	wrapped := &diskio.CrashAfterDevice{Device: s.sys.FS.Cache.Dev(), Budget: n}
	s.sys.FS.Cache.SetDevice(wrapped)
	s.sys.FS.Dev = wrapped
	s.crashed = true
	fmt.Fprintf(s.out, "crash armed: %d more writes will succeed, then every write fails\n", n)
	fmt.Fprintln(s.out, "run a write/mkdir/unlink now, then restart xv6fsshell against the same image to exercise recovery")
	return nil
}

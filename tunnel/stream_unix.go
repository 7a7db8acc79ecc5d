//go:build unix

package tunnel

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// stdio returns duplicates of standard input and output in non-blocking mode.
// Those are managed by the runtime poller, so a read deadline or Close
// interrupts a read pending on a pipe or terminal.
func stdio() (io.ReadCloser, io.WriteCloser) {
	return pollable(unix.Stdin, "/dev/stdin"), pollable(unix.Stdout, "/dev/stdout")
}

// pollable dups fd and wraps the copy in an *os.File registered with the
// poller. Closing it leaves fd itself open. If fd can not be duplicated or
// switched to non-blocking mode, a plain blocking file for fd is returned.
func pollable(fd int, name string) *os.File {
	nfd, err := unix.Dup(fd)
	if err != nil {
		log.Warnf("%s: can not dup: %v", name, err)
		return os.NewFile(uintptr(fd), name)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		log.Warnf("%s stays blocking: %v", name, err)
	}
	return os.NewFile(uintptr(nfd), name)
}

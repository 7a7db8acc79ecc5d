//go:build linux

package netdev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unsafe"

	retry "github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// nSLCAN is the SLCAN line discipline number (N_SLCAN)
const nSLCAN = 0x11

// Pty is the master side of a pseudo terminal whose slave carries the SLCAN
// line discipline. The slave is kept open as long as the Pty is, since
// closing it removes the network interface.
type Pty struct {
	master *os.File
	slave  *os.File
}

func (p *Pty) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *Pty) Write(b []byte) (int, error) { return p.master.Write(b) }

// SetReadDeadline sets the read deadline of the master side
func (p *Pty) SetReadDeadline(t time.Time) error {
	return p.master.SetReadDeadline(t)
}

// Close closes both sides; the kernel removes the interface with the slave
func (p *Pty) Close() error {
	err := p.master.Close()
	if serr := p.slave.Close(); err == nil {
		err = serr
	}
	return err
}

// Bind opens a pseudo terminal, attaches the SLCAN line discipline to its
// slave and renames the interface the kernel created to name.
func (b *PtyBinder) Bind(name string) (io.ReadWriteCloser, string, error) {
	if err := validName(name); err != nil {
		return nil, "", err
	}

	p, err := openPty()
	if err != nil {
		return nil, "", err
	}

	var old string
	err = control(p.slave, func(fd int) error {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSETD, nSLCAN); err != nil {
			return fmt.Errorf("failed to set SLCAN line discipline: %w", err)
		}
		var ierr error
		if old, ierr = ifName(fd); ierr != nil {
			return fmt.Errorf("failed to get netdev name: %w", ierr)
		}
		return nil
	})
	if err != nil {
		p.Close()
		return nil, "", requireCapNetAdmin(err)
	}
	log.Debugf("kernel created netdev '%s'", old)

	if old != name {
		if err := renameInterface(old, name); err != nil {
			p.Close()
			return nil, "", requireCapNetAdmin(fmt.Errorf("failed to rename %s to %s: %w", old, name, err))
		}
	}
	return p, name, nil
}

// BringUp sets IFF_UP on ifname. udev may still be busy with a fresh
// interface, so failures other than missing privileges are retried.
func (b *PtyBinder) BringUp(ifname string) error {
	attempts := b.Attempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			return setInterfaceUp(ifname)
		},
		retry.Attempts(attempts),
		retry.Delay(b.Delay),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, unix.EPERM)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("bring up %s, retry %d: %v", ifname, n, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return requireCapNetAdmin(fmt.Errorf("failed to bring up %s: %w", ifname, err))
	}
	return nil
}

func openPty() (*Pty, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}

	var n uint32
	err = control(master, func(fd int) error {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
			return fmt.Errorf("failed to unlockpt: %w", err)
		}
		var perr error
		n, perr = unix.IoctlGetUint32(fd, unix.TIOCGPTN)
		return perr
	})
	if err != nil {
		master.Close()
		return nil, err
	}

	slave, err := os.OpenFile(fmt.Sprintf("/dev/pts/%d", n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, err
	}
	return &Pty{master: master, slave: slave}, nil
}

// control runs fn on the raw descriptor of f without switching f to blocking
// mode, which calling f.Fd() would do.
func control(f *os.File, fn func(fd int) error) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) { ferr = fn(int(fd)) }); err != nil {
		return err
	}
	return ferr
}

// ifName returns the name of the interface attached to the SLCAN tty fd
func ifName(fd int) (string, error) {
	var buf [ifNameSize + 1]byte
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(siocGIFName), uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return "", errno
	}
	return unix.ByteSliceToString(buf[:]), nil
}

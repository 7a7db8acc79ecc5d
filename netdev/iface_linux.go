//go:build linux

package netdev

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	siocGIFName  = 0x8910 // SIOCGIFNAME
	siocSIFName  = 0x8923 // SIOCSIFNAME
	siocGIFFlags = 0x8913 // SIOCGIFFLAGS
	siocSIFFlags = 0x8914 // SIOCSIFFLAGS
)

// ifreqRename mirrors struct ifreq with ifr_newname in the union
type ifreqRename struct {
	Name    [ifNameSize]byte
	Newname [ifNameSize]byte
	_       [8]byte
}

func ioctlSocket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
}

// renameInterface renames a network interface; it has to be down
func renameInterface(old, name string) error {
	fd, err := ioctlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var ifr ifreqRename
	copy(ifr.Name[:], old)
	copy(ifr.Newname[:], name)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(siocSIFName), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// setInterfaceUp sets IFF_UP on the interface if it is not set yet
func setInterfaceUp(name string) error {
	fd, err := ioctlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, siocGIFFlags, ifr); err != nil {
		return err
	}
	flags := ifr.Uint16()
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	ifr.SetUint16(flags | unix.IFF_UP)
	return unix.IoctlIfreq(fd, siocSIFFlags, ifr)
}

// requireCapNetAdmin maps EPERM to a clearer error message
func requireCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

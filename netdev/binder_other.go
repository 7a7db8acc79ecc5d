//go:build !linux

package netdev

import (
	"errors"
	"io"
)

// ErrUnsupported is returned on platforms without the SLCAN line discipline
var ErrUnsupported = errors.New("netdev: SLCAN interfaces require Linux")

// Bind is not supported on this platform
func (b *PtyBinder) Bind(name string) (io.ReadWriteCloser, string, error) {
	if err := validName(name); err != nil {
		return nil, "", err
	}
	return nil, "", ErrUnsupported
}

// BringUp is not supported on this platform
func (b *PtyBinder) BringUp(ifname string) error {
	return ErrUnsupported
}

// Package netdev provisions SLCAN network interfaces backed by a pseudo
// terminal, so the tunnel can exchange CAN traffic with the kernel through
// an ordinary file descriptor.
package netdev

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidName is returned for interface names the kernel would refuse
var ErrInvalidName = errors.New("netdev: invalid interface name")

// ifNameSize is IFNAMSIZ, including the terminating NUL
const ifNameSize = 16

// PtyBinder creates SLCAN interfaces by attaching the SLCAN line discipline
// to the slave side of a new pseudo terminal.
type PtyBinder struct {
	// Attempts and Delay control how often bringing the interface up is tried
	Attempts uint
	Delay    time.Duration
}

// NewPtyBinder returns a PtyBinder with default retry settings
func NewPtyBinder() *PtyBinder {
	return &PtyBinder{Attempts: 3, Delay: 100 * time.Millisecond}
}

func validName(name string) error {
	if len(name) == 0 || len(name) >= ifNameSize {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c == '/' || c == ':' || c <= ' ' || c > '~' {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

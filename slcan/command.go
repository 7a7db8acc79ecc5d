// Package slcan converts SLCAN commands between their ASCII wire form and a
// compact binary form of the standard and extended data frames.
package slcan

import (
	"fmt"
	"strconv"
)

// Command bytes which carry a CAN payload and may be compressed
const (
	StdFrame byte = 't' // 11bit identifier data frame
	ExtFrame byte = 'T' // 29bit identifier data frame
	CR       byte = '\r'
)

// Field sizes of the ASCII frame layouts
const (
	stdIDDigits = 3
	extIDDigits = 8
	maxDLC      = 8

	// MaxCommandLen limits opaque commands; the longest data frame is 27 bytes.
	MaxCommandLen = 128
)

// Command is a single, CR terminated SLCAN command in its canonical ASCII form
type Command []byte

// Kind returns the leading command byte, or 0 for an empty command
func (c Command) Kind() byte {
	if len(c) == 0 {
		return 0
	}
	return c[0]
}

// IsFrame reports whether c is a standard or extended data frame, the only
// commands the compact encoding touches.
func (c Command) IsFrame() bool {
	k := c.Kind()
	return k == StdFrame || k == ExtFrame
}

func (c Command) String() string {
	return strconv.Quote(string(c))
}

// idDigits returns the number of hex digits of the identifier for frame kind k
func idDigits(k byte) int {
	if k == ExtFrame {
		return extIDDigits
	}
	return stdIDDigits
}

// asciiLen is the total ASCII length of a frame of kind k with dlc data bytes
func asciiLen(k byte, dlc int) int {
	return 1 + idDigits(k) + 1 + 2*dlc + 1
}

// binaryHeaderLen is the number of compact header bytes after the command byte (id bytes + DLC)
func binaryHeaderLen(k byte) int {
	if k == ExtFrame {
		return 5
	}
	return 3
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

func parseDLC(b byte) (int, error) {
	d, ok := hexDigit(b)
	if !ok {
		return 0, fmt.Errorf("%w: DLC %q", ErrInvalidHex, b)
	}
	if d > maxDLC {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDLC, d)
	}
	return int(d), nil
}

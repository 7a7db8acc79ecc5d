package slcan

import (
	"errors"
	"fmt"
	"io"
)

// Causes carried by DecodeError and EncodeError
var (
	ErrInvalidDLC     = errors.New("DLC out of range")
	ErrInvalidHex     = errors.New("invalid hex digit")
	ErrBadTerminator  = errors.New("missing CR terminator")
	ErrLengthMismatch = errors.New("length does not match DLC")
	ErrCommandTooLong = errors.New("command exceeds maximum length")
	ErrIDOutOfRange   = errors.New("identifier nibble out of range")
)

// DecodeError reports a malformed command read from a stream. Raw holds every
// byte consumed for the command before the problem was detected.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("slcan: decode [% x]: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a command which can not be packed into the compact form
type EncodeError struct {
	Command Command
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("slcan: encode [% x]: %v", []byte(e.Command), e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

const hexDigits = "0123456789abcdef"

// Decode reads exactly one command from r. If compressed is set, data frames
// are expected in the compact binary layout and are expanded to ASCII.
// Expanded frames always use lower-case hex digits, so an upper-case frame
// such as "t7FF2AABB\r" survives Encode and Decode only up to case.
//
// io.EOF is returned unwrapped only when the stream ends before the first byte
// of a command. A stream ending inside a command yields a *DecodeError wrapping
// io.ErrUnexpectedEOF. Other read errors are returned as they are.
func Decode(r io.ByteReader, compressed bool) (Command, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if compressed && (first == StdFrame || first == ExtFrame) {
		return decodeCompact(r, first)
	}
	return decodeASCII(r, first)
}

func decodeASCII(r io.ByteReader, first byte) (Command, error) {
	c := Command{first}
	if first == CR {
		return c, nil
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, readError(c, err)
		}
		c = append(c, b)
		if b == CR {
			return c, nil
		}
		if len(c) >= MaxCommandLen {
			return nil, &DecodeError{Raw: c, Err: ErrCommandTooLong}
		}
	}
}

func decodeCompact(r io.ByteReader, k byte) (Command, error) {
	hdr := binaryHeaderLen(k)
	raw := make([]byte, 1, 1+hdr+maxDLC+1)
	raw[0] = k

	var err error
	if raw, err = readN(r, raw, hdr); err != nil {
		return nil, err
	}
	dlc := int(raw[hdr])
	if dlc > maxDLC {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %d", ErrInvalidDLC, dlc)}
	}
	if k == StdFrame && raw[1] > 0x0f {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %#x", ErrIDOutOfRange, raw[1])}
	}
	if raw, err = readN(r, raw, dlc+1); err != nil {
		return nil, err
	}
	if raw[len(raw)-1] != CR {
		return nil, &DecodeError{Raw: raw, Err: ErrBadTerminator}
	}

	c := make(Command, 0, asciiLen(k, dlc))
	c = append(c, k)
	if k == StdFrame {
		c = append(c, hexDigits[raw[1]])
		c = appendHexByte(c, raw[2])
	} else {
		for _, b := range raw[1:5] {
			c = appendHexByte(c, b)
		}
	}
	c = append(c, hexDigits[dlc])
	for _, b := range raw[hdr+1 : hdr+1+dlc] {
		c = appendHexByte(c, b)
	}
	return append(c, CR), nil
}

// readN appends n bytes from r to raw
func readN(r io.ByteReader, raw []byte, n int) ([]byte, error) {
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return raw, readError(raw, err)
		}
		raw = append(raw, b)
	}
	return raw, nil
}

func readError(raw []byte, err error) error {
	if err == io.EOF {
		return &DecodeError{Raw: raw, Err: io.ErrUnexpectedEOF}
	}
	return err
}

func appendHexByte(c []byte, b byte) []byte {
	return append(c, hexDigits[b>>4], hexDigits[b&0x0f])
}

// Encode returns the wire form of c. With compressed set, data frames are
// packed into the compact binary layout; every other command, and every
// command on an uncompressed side, is returned unchanged.
func Encode(c Command, compressed bool) ([]byte, error) {
	if !compressed || !c.IsFrame() {
		return c, nil
	}
	k := c[0]
	n := idDigits(k)

	if len(c) < n+2 {
		return nil, &EncodeError{Command: c, Err: fmt.Errorf("%w: %d bytes", ErrLengthMismatch, len(c))}
	}
	dlc, err := parseDLC(c[n+1])
	if err != nil {
		return nil, &EncodeError{Command: c, Err: err}
	}
	if want := asciiLen(k, dlc); len(c) != want {
		return nil, &EncodeError{Command: c, Err: fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(c), want)}
	}
	if c[len(c)-1] != CR {
		return nil, &EncodeError{Command: c, Err: ErrBadTerminator}
	}

	b := make([]byte, 0, 1+binaryHeaderLen(k)+dlc+1)
	b = append(b, k)
	if k == StdFrame {
		nib, ok := hexDigit(c[1])
		if !ok {
			return nil, &EncodeError{Command: c, Err: fmt.Errorf("%w: %q", ErrInvalidHex, c[1])}
		}
		b = append(b, nib)
		if b, err = appendParsedHex(b, c[2:4]); err != nil {
			return nil, &EncodeError{Command: c, Err: err}
		}
	} else {
		if b, err = appendParsedHex(b, c[1:9]); err != nil {
			return nil, &EncodeError{Command: c, Err: err}
		}
	}
	b = append(b, byte(dlc))
	if b, err = appendParsedHex(b, c[n+2:n+2+2*dlc]); err != nil {
		return nil, &EncodeError{Command: c, Err: err}
	}
	return append(b, CR), nil
}

// appendParsedHex decodes pairs of hex digits in s and appends the bytes to b
func appendParsedHex(b, s []byte) ([]byte, error) {
	for i := 0; i+1 < len(s); i += 2 {
		hi, ok := hexDigit(s[i])
		if !ok {
			return b, fmt.Errorf("%w: %q", ErrInvalidHex, s[i])
		}
		lo, ok := hexDigit(s[i+1])
		if !ok {
			return b, fmt.Errorf("%w: %q", ErrInvalidHex, s[i+1])
		}
		b = append(b, hi<<4|lo)
	}
	return b, nil
}

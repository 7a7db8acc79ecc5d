package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/speters/slcan-tunnel/slcan"

	log "github.com/sirupsen/logrus"
)

// Direction names one of the two relay paths of a tunnel
type Direction int

const (
	Inbound  Direction = iota // external stream --> device
	Outbound                  // device --> external stream
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Reason tells why a relay worker stopped
type Reason int

const (
	ReasonEndOfStream Reason = iota // source reached EOF
	ReasonIOFailure                 // source or sink failed
	ReasonCancelled                 // termination requested by the supervisor
)

func (r Reason) String() string {
	switch r {
	case ReasonEndOfStream:
		return "end of stream"
	case ReasonIOFailure:
		return "i/o failure"
	case ReasonCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Completion is posted by a relay worker to its supervisor when it stops
type Completion struct {
	Direction Direction
	Reason    Reason
	Err       error
}

// Relay copies commands from src to dst until src ends, an I/O error occurs
// or ctx is cancelled. Commands are decoded from src using the compact form
// if srcCompressed is set and encoded for dst using the compact form if
// dstCompressed is set. Malformed commands are logged, counted and dropped.
//
// A blocked read can not observe ctx; the caller has to unblock it, by a read
// deadline or by closing src.
func Relay(ctx context.Context, dir Direction, src io.Reader, srcCompressed bool, dst io.Writer, dstCompressed bool, stats *DirectionStats) Completion {
	l := log.WithField("direction", dir)
	r := bufio.NewReader(src)

	done := func(reason Reason, err error) Completion {
		return Completion{Direction: dir, Reason: reason, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			l.Debug("termination requested")
			return done(ReasonCancelled, err)
		}

		c, err := slcan.Decode(r, srcCompressed)
		if err != nil {
			var de *slcan.DecodeError
			switch {
			case err == io.EOF:
				l.Info("end of stream")
				return done(ReasonEndOfStream, nil)
			case errors.As(err, &de):
				stats.DecodeErrors.Add(1)
				l.WithField("raw", fmt.Sprintf("% x", de.Raw)).Warnf("dropping malformed command: %v", de.Err)
				continue
			case ctx.Err() != nil:
				l.Debugf("read interrupted: %v", err)
				return done(ReasonCancelled, ctx.Err())
			default:
				l.Errorf("read failed: %v", err)
				return done(ReasonIOFailure, err)
			}
		}

		b, err := slcan.Encode(c, dstCompressed)
		if err != nil {
			stats.EncodeErrors.Add(1)
			l.WithField("raw", fmt.Sprintf("% x", []byte(c))).Warnf("dropping command: %v", err)
			continue
		}

		if err := writeFull(dst, b); err != nil {
			if ctx.Err() != nil {
				l.Debugf("write interrupted: %v", err)
				return done(ReasonCancelled, ctx.Err())
			}
			if sinkGone(err) {
				l.Warnf("sink gone: %v", err)
			} else {
				l.Errorf("write failed: %v", err)
			}
			return done(ReasonIOFailure, err)
		}
		stats.count(c, len(b))
		l.Debugf("relayed %v", c)
	}
}

// writeFull writes all of b, retrying short writes
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if err != nil && !(errors.Is(err, io.ErrShortWrite) && n > 0) {
			return err
		}
		if n == 0 && err == nil {
			return io.ErrNoProgress
		}
	}
	return nil
}

// sinkGone reports whether err means the peer of a descriptor went away
func sinkGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}

package tunnel

import (
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Device is the ReadWriteCloser representation of the virtual CAN device.
// Reads and writes are serialized by separate locks, so the inbound worker
// (write only) and the outbound worker (read only) never wait for each other.
type Device struct {
	conn         io.ReadWriteCloser
	rlock, wlock sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error

	// Name is the actual interface name reported by the binder
	Name string
}

// NewDevice wraps conn, the descriptor returned by a Binder
func NewDevice(conn io.ReadWriteCloser, name string) *Device {
	return &Device{
		conn: conn,
		done: make(chan struct{}),
		Name: name,
	}
}

func (o *Device) Read(b []byte) (int, error) {
	o.rlock.Lock()
	defer o.rlock.Unlock()

	select {
	case <-o.done:
		return 0, os.ErrClosed
	default:
		n, err := o.conn.Read(b)
		log.Debugf("%v: read b='% x', n=%v, err=%v", o.Name, b[0:n], n, err)
		return n, err
	}
}

func (o *Device) Write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	select {
	case <-o.done:
		return 0, os.ErrClosed
	default:
		n, err := o.conn.Write(b)
		log.Debugf("%v: write b='% x', n=%v, err=%v", o.Name, b, n, err)
		return n, err
	}
}

// SetReadDeadline forwards to the underlying descriptor if it supports deadlines
func (o *Device) SetReadDeadline(t time.Time) error {
	if d, ok := o.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(t)
	}
	return os.ErrNoDeadline
}

// Close closes the underlying descriptor. It does not wait for a pending
// Read to return; closing is what unblocks it.
func (o *Device) Close() error {
	o.closeOnce.Do(func() {
		close(o.done)
		o.closeErr = o.conn.Close()
	})
	return o.closeErr
}

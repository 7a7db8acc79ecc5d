//go:build linux

package netdev

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestOpenPty(t *testing.T) {
	p, err := openPty()
	if err != nil {
		t.Skipf("no pseudo terminals available: %v", err)
	}
	defer p.Close()

	if _, err := p.slave.Write([]byte("O\r")); err != nil {
		t.Fatalf("slave write: %v", err)
	}
	p.SetReadDeadline(time.Now().Add(2 * time.Second))
	b := make([]byte, 16)
	n, err := p.Read(b)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !strings.HasPrefix(string(b[:n]), "O") {
		t.Errorf("Read() = %q", b[:n])
	}
}

func TestPtyReadDeadline(t *testing.T) {
	p, err := openPty()
	if err != nil {
		t.Skipf("no pseudo terminals available: %v", err)
	}
	defer p.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 16))
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := p.SetReadDeadline(time.Now()); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Errorf("Read() error = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Read() not interrupted by deadline")
	}
}

func TestBindUnprivileged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root")
	}
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx")
	}
	dev, _, err := NewPtyBinder().Bind("slcantest0")
	if err == nil {
		dev.Close()
		t.Fatal("Bind() succeeded without CAP_NET_ADMIN")
	}
}

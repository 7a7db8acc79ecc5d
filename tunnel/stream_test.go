package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
)

func TestOpenStreamDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	for _, scheme := range []string{"tcp", "socket"} {
		r, w, err := OpenStream(context.Background(), scheme+"://"+ln.Addr().String(), 0)
		if err != nil {
			t.Fatalf("OpenStream(%s) error = %v", scheme, err)
		}
		if scheme == "tcp" {
			peer, ok := <-accepted
			if !ok {
				t.Fatal("accept failed")
			}
			go peer.Write([]byte("O\r"))
			b := make([]byte, 2)
			if _, err := io.ReadFull(r, b); err != nil || string(b) != "O\r" {
				t.Errorf("Read() = %q, %v", b, err)
			}
			peer.Close()
		}
		w.Close()
	}
}

func TestOpenStreamListenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := OpenStream(ctx, "listen://127.0.0.1:0", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("OpenStream() error = %v, want context.Canceled", err)
	}
}

func TestOpenStreamInvalid(t *testing.T) {
	for _, link := range []string{"udp://localhost:1234", "file://", "%zz"} {
		if _, _, err := OpenStream(context.Background(), link, 0); err == nil {
			t.Errorf("OpenStream(%q) succeeded", link)
		}
	}
}

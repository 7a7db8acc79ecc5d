package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// DefaultBaud is the serial line speed used when none is given
const DefaultBaud = 115200

// OpenStream opens the external endpoint of a tunnel and returns its reading
// and writing side. The link is one of
//
//	stdio, - or empty                 standard input and output
//	socket://host:port, tcp://...     dial a TCP connection
//	listen://[host]:port              accept exactly one TCP client
//	/dev/ttyX or file:///dev/ttyX     serial port at baud
//
// Both sides of a network or serial stream are the same connection.
func OpenStream(ctx context.Context, link string, baud int) (io.ReadCloser, io.WriteCloser, error) {
	if link == "" || link == "-" || link == "stdio" {
		r, w := stdio()
		return r, w, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return nil, nil, err
	}

	switch u.Scheme {
	case "socket", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, nil, err
		}
		setKeepAlive(conn)
		log.Infof("Connected to %v", conn.RemoteAddr())
		return conn, conn, nil
	case "listen":
		conn, err := acceptOne(ctx, u.Host)
		if err != nil {
			return nil, nil, err
		}
		setKeepAlive(conn)
		return conn, conn, nil
	case "file", "":
		if u.Path == "" {
			break
		}
		if baud <= 0 {
			baud = DefaultBaud
		}
		port, err := serial.OpenPort(&serial.Config{Name: u.Path, Baud: baud, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Opened serial port %v at %d baud", u.Path, baud)
		return port, port, nil
	}
	return nil, nil, fmt.Errorf("Can not find a valid connection string in \"%v\"", link)
}

func setKeepAlive(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(30 * time.Second)
	}
}

// acceptOne listens on addr and returns the first client connection
func acceptOne(ctx context.Context, addr string) (net.Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	log.Infof("Listening on TCP %v", ln.Addr())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	log.Infof("Connection from %v", conn.RemoteAddr())
	return conn, nil
}

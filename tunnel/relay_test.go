package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/speters/slcan-tunnel/slcan"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func compact(t testing.TB, cmd string) []byte {
	t.Helper()
	b, err := slcan.Encode(slcan.Command(cmd), true)
	if err != nil {
		t.Fatalf("Encode(%q) error = %v", cmd, err)
	}
	return b
}

func TestRelayCompress(t *testing.T) {
	var out bytes.Buffer
	var stats DirectionStats
	src := strings.NewReader("O\rt1232aabb\rS6\r")

	c := Relay(context.Background(), Outbound, src, false, &out, true, &stats)
	if c.Reason != ReasonEndOfStream || c.Err != nil || c.Direction != Outbound {
		t.Fatalf("Relay() = %+v, want end of stream", c)
	}

	want := []byte("O\r")
	want = append(want, 't', 0x01, 0x23, 0x02, 0xaa, 0xbb, '\r')
	want = append(want, "S6\r"...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("output = % x, want % x", out.Bytes(), want)
	}
	s := stats.Snapshot()
	if s.Commands != 3 || s.Frames != 1 || s.Bytes != uint64(len(want)) {
		t.Errorf("stats = %+v", s)
	}
}

func TestRelayDecompress(t *testing.T) {
	var out bytes.Buffer
	var stats DirectionStats
	in := append([]byte("O\r"), compact(t, "T1abcdef03010203\r")...)

	c := Relay(context.Background(), Inbound, bytes.NewReader(in), true, &out, false, &stats)
	if c.Reason != ReasonEndOfStream {
		t.Fatalf("Relay() = %+v", c)
	}
	if got := out.String(); got != "O\rT1abcdef03010203\r" {
		t.Errorf("output = %q", got)
	}
}

func TestRelayDropsMalformed(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	var in []byte
	in = append(in, compact(t, "t1230\r")...)
	in = append(in, 't', 0x01, 0x23, 0x02, 0xaa, 0xbb, 'X') // bad terminator
	in = append(in, compact(t, "t4561ff\r")...)
	in = append(in, 'T', 0x00, 0x00, 0x01, 0x23, 0x09) // DLC 9
	in = append(in, "O\r"...)
	in = append(in, 't', 0x01) // stream ends mid header

	var out bytes.Buffer
	var stats DirectionStats
	c := Relay(context.Background(), Inbound, bytes.NewReader(in), true, &out, false, &stats)
	if c.Reason != ReasonEndOfStream {
		t.Fatalf("Relay() = %+v, want end of stream", c)
	}
	if got := out.String(); got != "t1230\rt4561ff\rO\r" {
		t.Errorf("output = %q", got)
	}
	if n := stats.DecodeErrors.Load(); n != 3 {
		t.Errorf("DecodeErrors = %d, want 3", n)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && strings.Contains(e.Message, "malformed") {
			warnings++
			if _, ok := e.Data["raw"]; !ok {
				t.Errorf("log entry without raw bytes: %v", e.Message)
			}
		}
	}
	if warnings != 3 {
		t.Errorf("logged %d malformed commands, want 3", warnings)
	}
}

func TestRelayDropsUnencodable(t *testing.T) {
	var out bytes.Buffer
	var stats DirectionStats
	src := strings.NewReader("t12\rO\rt1239\rt1231aa\r")

	c := Relay(context.Background(), Outbound, src, false, &out, true, &stats)
	if c.Reason != ReasonEndOfStream {
		t.Fatalf("Relay() = %+v", c)
	}
	want := append([]byte("O\r"), 't', 0x01, 0x23, 0x01, 0xaa, '\r')
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("output = % x, want % x", out.Bytes(), want)
	}
	if n := stats.EncodeErrors.Load(); n != 2 {
		t.Errorf("EncodeErrors = %d, want 2", n)
	}
}

type errWriter struct{ err error }

func (w errWriter) Write(b []byte) (int, error) { return 0, w.err }

func TestRelaySinkGone(t *testing.T) {
	var stats DirectionStats
	src := strings.NewReader("O\rC\r")
	c := Relay(context.Background(), Outbound, src, false, errWriter{syscall.EPIPE}, false, &stats)
	if c.Reason != ReasonIOFailure || !errors.Is(c.Err, syscall.EPIPE) {
		t.Errorf("Relay() = %+v, want i/o failure", c)
	}
	if !sinkGone(c.Err) {
		t.Errorf("sinkGone(%v) = false", c.Err)
	}
	if n := stats.Commands.Load(); n != 0 {
		t.Errorf("Commands = %d, want 0", n)
	}
}

type errReader struct{ err error }

func (r errReader) Read(b []byte) (int, error) { return 0, r.err }

func TestRelayReadFailure(t *testing.T) {
	failure := errors.New("device gone")
	c := Relay(context.Background(), Outbound, errReader{failure}, false, io.Discard, false, &DirectionStats{})
	if c.Reason != ReasonIOFailure || c.Err != failure {
		t.Errorf("Relay() = %+v, want i/o failure", c)
	}
}

// shortWriter accepts at most one byte per call
type shortWriter struct{ bytes.Buffer }

func (w *shortWriter) Write(b []byte) (int, error) {
	if len(b) > 1 {
		w.Buffer.Write(b[:1])
		return 1, io.ErrShortWrite
	}
	return w.Buffer.Write(b)
}

func TestRelayShortWrites(t *testing.T) {
	var w shortWriter
	c := Relay(context.Background(), Inbound, strings.NewReader("t1232aabb\rO\r"), false, &w, false, &DirectionStats{})
	if c.Reason != ReasonEndOfStream {
		t.Fatalf("Relay() = %+v", c)
	}
	if got := w.String(); got != "t1232aabb\rO\r" {
		t.Errorf("output = %q", got)
	}
}

func TestRelayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := Relay(ctx, Inbound, strings.NewReader("O\r"), false, io.Discard, false, &DirectionStats{})
	if c.Reason != ReasonCancelled || !errors.Is(c.Err, context.Canceled) {
		t.Errorf("Relay() = %+v, want cancelled", c)
	}
}

// TestRelayOrder runs both directions at once and checks every frame arrives
// in the order it was sent.
func TestRelayOrder(t *testing.T) {
	const n = 1000

	frames := func(kind byte) []string {
		f := make([]string, n)
		for i := range f {
			if kind == slcan.StdFrame {
				f[i] = fmt.Sprintf("t%03x2%04x\r", i&0x7ff, i)
			} else {
				f[i] = fmt.Sprintf("T%08x4%08x\r", i, n-i)
			}
		}
		return f
	}
	in, out := frames(slcan.StdFrame), frames(slcan.ExtFrame)

	var packed [][]byte
	for _, f := range in {
		packed = append(packed, compact(t, f))
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		for _, b := range packed {
			inW.Write(b)
		}
		inW.Close()
	}()
	go func() {
		for _, f := range out {
			io.WriteString(outW, f)
		}
		outW.Close()
	}()

	var toDevice, toStream bytes.Buffer
	var stats Stats
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		Relay(context.Background(), Inbound, inR, true, &toDevice, false, &stats.Inbound)
	}()
	go func() {
		defer wg.Done()
		Relay(context.Background(), Outbound, outR, false, &toStream, true, &stats.Outbound)
	}()
	wg.Wait()

	if got, want := toDevice.String(), strings.Join(in, ""); got != want {
		t.Errorf("inbound output differs, got %d bytes, want %d", len(got), len(want))
	}

	r := bufio.NewReader(&toStream)
	for i, want := range out {
		c, err := slcan.Decode(r, true)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if string(c) != want {
			t.Fatalf("frame %d = %v, want %q", i, c, want)
		}
	}
	if s := stats.Outbound.Snapshot(); s.Frames != n {
		t.Errorf("outbound frames = %d, want %d", s.Frames, n)
	}
}

package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/echod/system/echod/api"
	"github.com/signadot/echod/system/echod/delivery"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipePeer is a registered server-side Conn and the client end of its pipe.
type pipePeer struct {
	client net.Conn
	conn   *Conn
}

func newPipePeer(id string) pipePeer {
	client, srv := net.Pipe()
	return pipePeer{client: client, conn: NewConn(id, srv)}
}

func readExactly(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func expectSilence(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	n, err := c.Read(buf)
	if n > 0 {
		t.Fatalf("expected nothing, got %q", buf[:n])
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func waitDone(t *testing.T, h *Handler) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
}

type observed struct {
	kind string
	id   string
	data string
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observed
}

func (o *recordingObserver) Connected(id, remote string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{kind: "connected", id: id})
}

func (o *recordingObserver) Received(id string, msg []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{kind: "received", id: id, data: string(msg)})
}

func (o *recordingObserver) Disconnected(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{kind: "disconnected", id: id})
}

func (o *recordingObserver) get() []observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observed{}, o.events...)
}

func startHandler(t *testing.T, reg *Registry, p pipePeer, cfg HandlerConfig) *Handler {
	t.Helper()
	cfg.Registry = reg
	if cfg.Log == nil {
		cfg.Log = discardLogger()
	}
	if err := reg.Add(p.conn); err != nil {
		t.Fatalf("register %s: %v", p.conn.ID, err)
	}
	h := NewHandler(p.conn, &cfg)
	if h.State() != StateConnected {
		t.Fatalf("expected connected state, got %v", h.State())
	}
	go h.Run()
	return h
}

func TestHandler_Echo(t *testing.T) {
	reg := NewRegistry()
	p1 := newPipePeer("tcp-1")
	p2 := newPipePeer("tcp-2")
	defer p2.client.Close()
	reg.Add(p2.conn)

	obs := &recordingObserver{}
	h := startHandler(t, reg, p1, HandlerConfig{
		Policy:   delivery.DefaultPolicy(api.ModeEcho),
		Observer: obs,
	})

	msg := []byte("hello, echo\n")
	if _, err := p1.client.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readExactly(t, p1.client, len(msg))
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("echo mismatch (-want +got):\n%s", diff)
	}
	expectSilence(t, p2.client)

	if h.State() != StateReceiving {
		t.Errorf("expected receiving state, got %v", h.State())
	}

	p1.client.Close()
	waitDone(t, h)

	if h.State() != StateClosed {
		t.Errorf("expected closed state, got %v", h.State())
	}
	if h.Err() != nil {
		t.Errorf("expected nil error after peer close, got %v", h.Err())
	}
	if p1.conn.Alive() {
		t.Error("connection should be closed")
	}
	if diff := cmp.Diff([]string{"tcp-2"}, snapshotIDs(reg)); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}

	want := []observed{
		{kind: "connected", id: "tcp-1"},
		{kind: "received", id: "tcp-1", data: string(msg)},
		{kind: "disconnected", id: "tcp-1"},
	}
	if diff := cmp.Diff(want, obs.get(), cmp.AllowUnexported(observed{})); diff != "" {
		t.Errorf("observer events mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_NoneModeOnlyLogs(t *testing.T) {
	reg := NewRegistry()
	p1 := newPipePeer("tcp-1")
	obs := &recordingObserver{}
	h := startHandler(t, reg, p1, HandlerConfig{
		Policy:   delivery.DefaultPolicy(api.ModeNone),
		Observer: obs,
	})

	p1.client.Write([]byte("just log me"))
	expectSilence(t, p1.client)

	p1.client.Close()
	waitDone(t, h)

	events := obs.get()
	if len(events) != 3 || events[1].data != "just log me" {
		t.Errorf("unexpected events %+v", events)
	}
}

// failWriteConn reads normally but every write fails.
type failWriteConn struct {
	net.Conn
}

func (c failWriteConn) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestHandler_EchoSendErrorEndsHandler(t *testing.T) {
	reg := NewRegistry()
	client, srv := net.Pipe()
	defer client.Close()
	p := pipePeer{client: client, conn: NewConn("tcp-1", failWriteConn{srv})}

	var doneCalls int
	var mu sync.Mutex
	h := startHandler(t, reg, p, HandlerConfig{
		Policy: delivery.DefaultPolicy(api.ModeEcho),
		OnDone: func(*Handler) {
			mu.Lock()
			doneCalls++
			mu.Unlock()
		},
	})

	client.Write([]byte("ping"))
	waitDone(t, h)

	if !errors.Is(h.Err(), api.ErrSend) {
		t.Errorf("expected send error, got %v", h.Err())
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if doneCalls != 1 {
		t.Errorf("expected OnDone called once, got %d", doneCalls)
	}
}

func TestHandler_BroadcastFaultIsolation(t *testing.T) {
	reg := NewRegistry()
	p1 := newPipePeer("tcp-1")
	p2 := newPipePeer("tcp-2")
	p3 := newPipePeer("tcp-3")
	defer p1.client.Close()
	defer p3.client.Close()

	reg.Add(p2.conn)
	reg.Add(p3.conn)
	// p2 goes away without its handler having cleaned up yet
	p2.conn.Close()
	p2.client.Close()

	h := startHandler(t, reg, p1, HandlerConfig{
		Policy: delivery.DefaultPolicy(api.ModeBroadcast),
	})

	msg := []byte("to everyone")
	received := make(chan []byte, 2)
	for _, c := range []net.Conn{p1.client, p3.client} {
		go func() {
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			buf := make([]byte, len(msg))
			if _, err := io.ReadFull(c, buf); err != nil {
				received <- nil
				return
			}
			received <- buf
		}()
	}

	p1.client.Write(msg)
	for range 2 {
		got := <-received
		if diff := cmp.Diff(msg, got); diff != "" {
			t.Errorf("broadcast mismatch (-want +got):\n%s", diff)
		}
	}

	select {
	case <-h.Done():
		t.Fatalf("sender handler ended after failed broadcast send: %v", h.Err())
	default:
	}
	if h.State() != StateReceiving {
		t.Errorf("expected receiving state, got %v", h.State())
	}
}

func TestHandler_BroadcastExcludeSelf(t *testing.T) {
	reg := NewRegistry()
	p1 := newPipePeer("tcp-1")
	p2 := newPipePeer("tcp-2")
	defer p1.client.Close()
	defer p2.client.Close()
	reg.Add(p2.conn)

	startHandler(t, reg, p1, HandlerConfig{
		Policy: delivery.Policy{Mode: api.ModeBroadcast, IncludeSelf: false},
	})

	msg := []byte("not for me")
	done := make(chan []byte, 1)
	go func() {
		p2.client.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, len(msg))
		io.ReadFull(p2.client, buf)
		done <- buf
	}()
	p1.client.Write(msg)
	if got := <-done; string(got) != string(msg) {
		t.Errorf("p2 got %q", got)
	}
	expectSilence(t, p1.client)
}

func TestHandler_Filter(t *testing.T) {
	reg := NewRegistry()
	p := newPipePeer("tcp-1")
	defer p.client.Close()

	filter, err := delivery.CompileFilter(`size < 4`)
	if err != nil {
		t.Fatal(err)
	}
	startHandler(t, reg, p, HandlerConfig{
		Policy: delivery.DefaultPolicy(api.ModeEcho),
		Filter: filter,
	})

	p.client.Write([]byte("too long"))
	p.client.Write([]byte("ok"))
	if got := readExactly(t, p.client, 2); string(got) != "ok" {
		t.Errorf("expected only the short message echoed, got %q", got)
	}
}

func TestHandler_CloseInterruptsRead(t *testing.T) {
	reg := NewRegistry()
	p := newPipePeer("tcp-1")
	defer p.client.Close()

	h := startHandler(t, reg, p, HandlerConfig{
		Policy: delivery.DefaultPolicy(api.ModeEcho),
	})
	h.Close()
	waitDone(t, h)
	if h.Err() != nil {
		t.Errorf("expected nil error on local close, got %v", h.Err())
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestHandler_SmallBufferSplitsMessages(t *testing.T) {
	reg := NewRegistry()
	p := newPipePeer("tcp-1")
	defer p.client.Close()

	obs := &recordingObserver{}
	startHandler(t, reg, p, HandlerConfig{
		Policy:     delivery.DefaultPolicy(api.ModeEcho),
		BufferSize: 4,
		Observer:   obs,
	})

	go p.client.Write([]byte("abcdefghij"))
	got := readExactly(t, p.client, 10)
	if string(got) != "abcdefghij" {
		t.Errorf("unexpected echo %q", got)
	}

	var received []string
	for _, e := range obs.get() {
		if e.kind == "received" {
			received = append(received, e.data)
		}
	}
	if diff := cmp.Diff([]string{"abcd", "efgh", "ij"}, received); diff != "" {
		t.Errorf("message split mismatch (-want +got):\n%s", diff)
	}
}

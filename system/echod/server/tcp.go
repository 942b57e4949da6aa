package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/signadot/echod/system/echod/api"
)

// TCPListener accepts TCP connections and runs one handler per
// connection.
type TCPListener struct {
	listener net.Listener
	server   *Server
	log      *slog.Logger

	connSeq atomic.Int64
	running atomic.Int64

	// mu orders handler admission against Close, so that every
	// connection registered after Close starts is closed too.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewTCPListener binds and listens on addr with address reuse enabled.
// Failures are *api.Error with code bind or listen.
func NewTCPListener(ctx context.Context, addr string, server *Server) (*TCPListener, error) {
	lc := net.ListenConfig{Control: listenControl}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		code := api.CodeListen
		if isBindError(err) {
			code = api.CodeBind
		}
		return nil, api.NewError(code, fmt.Sprintf("failed to listen on %s", addr), err)
	}

	return &TCPListener{
		listener: listener,
		server:   server,
		log:      server.Spec.Log,
	}, nil
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until Close is called, ctx is done or
// accept fails. It returns nil on Close or cancellation and an
// api.ErrAccept error otherwise; in that case handlers already running
// keep running.
func (l *TCPListener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.Close()
	})
	defer stop()

	l.log.Info("TCP listener started", "addr", l.listener.Addr().String())

	for {
		nc, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			l.log.Error("accept error", "error", err)
			// stop taking new clients; running handlers are left alone
			if cerr := l.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				l.log.Error("error closing listener", "error", cerr)
			}
			return api.NewError(api.CodeAccept, "accept failed", err)
		}
		l.dispatch(nc)
	}
}

// dispatch registers the connection and then starts its handler, so no
// handler ever runs unregistered.
func (l *TCPListener) dispatch(nc net.Conn) {
	conn := NewConn(fmt.Sprintf("tcp-%d", l.connSeq.Add(1)), nc)
	h := l.server.newHandler(conn)

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		conn.Close()
		return
	}
	if err := l.server.Registry.Add(conn); err != nil {
		l.mu.Unlock()
		l.log.Error("failed to register connection", "conn", conn.ID, "error", err)
		conn.Close()
		return
	}
	l.wg.Add(1)
	l.running.Add(1)
	l.mu.Unlock()

	go func() {
		defer func() {
			l.running.Add(-1)
			l.wg.Done()
		}()
		h.Run()
	}()
}

// Close stops accepting, closes all registered connections and waits
// for their handlers to finish.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	if l.closed.Swap(true) {
		l.mu.Unlock()
		l.wg.Wait()
		return nil
	}
	l.mu.Unlock()

	err := l.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if err != nil {
		l.log.Error("error closing listener", "error", err)
	}

	for _, conn := range l.server.Registry.Snapshot() {
		conn.Close()
	}

	l.wg.Wait()

	l.log.Info("TCP listener stopped")
	return err
}

// Wait blocks until every handler started so far has finished.
func (l *TCPListener) Wait() {
	l.wg.Wait()
}

// HandlerCount returns the number of running handlers.
func (l *TCPListener) HandlerCount() int {
	return int(l.running.Load())
}

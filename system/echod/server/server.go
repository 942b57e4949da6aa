package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/signadot/echod/system/echod/delivery"
)

// Server represents the echod server.
type Server struct {
	Spec Spec

	// Registry holds the open connections shared by all handlers.
	Registry *Registry

	policy delivery.Policy
	filter *delivery.Filter

	mu          sync.Mutex
	tcpListener *TCPListener
	serveDone   chan struct{}
	serveErr    error
}

// New creates a new Server instance. The config is validated; a nil
// config is an error since the port has no default.
func New(spec *Spec) (*Server, error) {
	if spec.Log == nil {
		spec.Log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slogLevel(),
		}))
	}
	if spec.Config == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if err := spec.Config.Validate(); err != nil {
		return nil, err
	}
	filter, err := delivery.CompileFilter(spec.Config.Filter)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Spec:      *spec,
		Registry:  NewRegistry(),
		policy:    spec.Config.Policy(),
		filter:    filter,
		serveDone: make(chan struct{}),
	}
	return s, nil
}

func slogLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Policy returns the server's delivery policy.
func (s *Server) Policy() delivery.Policy {
	return s.policy
}

func (s *Server) newHandler(conn *Conn) *Handler {
	return NewHandler(conn, &HandlerConfig{
		Registry:   s.Registry,
		Policy:     s.policy,
		Filter:     s.filter,
		BufferSize: s.Spec.Config.BufferSize,
		Fanout:     s.Spec.Config.Fanout,
		Log:        s.Spec.Log,
		Observer:   s.Spec.Observer,
		OnDone:     s.Spec.OnHandlerDone,
	})
}

// StartTCP starts the TCP listener on the given address.
// The accept loop runs in a separate goroutine until StopTCP is called,
// ctx is done or accept fails; Done is closed when it exits.
func (s *Server) StartTCP(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpListener != nil {
		return fmt.Errorf("TCP listener already running")
	}

	listener, err := NewTCPListener(ctx, addr, s)
	if err != nil {
		return err
	}
	s.serveTCP(ctx, listener)
	return nil
}

// serveTCP runs listener's accept loop in its own goroutine. s.mu must
// be held.
func (s *Server) serveTCP(ctx context.Context, listener *TCPListener) {
	s.tcpListener = listener
	done := make(chan struct{})
	s.serveDone = done
	s.serveErr = nil

	go func() {
		err := listener.Serve(ctx)
		if err != nil {
			s.Spec.Log.Error("TCP listener error", "error", err)
		}
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		close(done)
	}()
}

// StopTCP stops the TCP listener, closes all connections and waits for
// their handlers.
func (s *Server) StopTCP() error {
	s.mu.Lock()
	listener := s.tcpListener
	s.tcpListener = nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	return listener.Close()
}

// TCPAddr returns the TCP listener's address, or empty string if not running.
func (s *Server) TCPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// Done is closed when the accept loop of the last StartTCP exits.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveDone
}

// Err returns the accept loop error once Done is closed: nil after a
// stop, an api.ErrAccept error after an accept failure.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Wait blocks until all handlers of the running listener have finished.
func (s *Server) Wait() {
	s.mu.Lock()
	listener := s.tcpListener
	s.mu.Unlock()
	if listener != nil {
		listener.Wait()
	}
}

// HandlerCount returns the number of running handlers.
func (s *Server) HandlerCount() int {
	s.mu.Lock()
	listener := s.tcpListener
	s.mu.Unlock()
	if listener == nil {
		return 0
	}
	return listener.HandlerCount()
}

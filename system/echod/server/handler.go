package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/signadot/echod/system/echod/api"
	"github.com/signadot/echod/system/echod/delivery"
)

// State is a handler's position in its connection lifecycle.
type State int32

const (
	StateConnected State = iota
	StateReceiving
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler owns one accepted connection: it runs the receive loop,
// applies the delivery policy and removes the connection from the
// registry when the loop ends.
type Handler struct {
	conn     *Conn
	registry *Registry
	policy   delivery.Policy
	filter   *delivery.Filter
	bufSize  int
	fanout   int
	log      *slog.Logger
	observer Observer
	onDone   func(*Handler)

	state atomic.Int32
	done  chan struct{}
	err   error
}

// HandlerConfig contains configuration for creating a handler.
type HandlerConfig struct {
	Registry   *Registry
	Policy     delivery.Policy
	Filter     *delivery.Filter
	BufferSize int // receive buffer size (default DefaultBufferSize)
	Fanout     int // concurrent broadcast sends (default DefaultFanout)
	Log        *slog.Logger
	Observer   Observer
	OnDone     func(*Handler)
}

// NewHandler creates a handler for conn. The caller registers conn
// before calling Run.
func NewHandler(conn *Conn, cfg *HandlerConfig) *Handler {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		conn:     conn,
		registry: cfg.Registry,
		policy:   cfg.Policy,
		filter:   cfg.Filter,
		bufSize:  bufSize,
		fanout:   fanout,
		log:      log.With("conn", conn.ID),
		observer: cfg.Observer,
		onDone:   cfg.OnDone,
		done:     make(chan struct{}),
	}
}

// Conn returns the handler's connection.
func (h *Handler) Conn() *Conn {
	return h.conn
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Done is closed once the handler has finished cleanup.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Err returns the error that ended the handler, nil for a peer close
// or a local shutdown. Only valid after Done is closed.
func (h *Handler) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Close closes the connection, which makes a blocked Run return.
func (h *Handler) Close() error {
	return h.conn.Close()
}

// Run runs the receive loop and blocks until the connection ends.
// Cleanup runs on every exit path. Run must be called once.
func (h *Handler) Run() (err error) {
	defer func() {
		h.finish(err)
	}()

	h.state.Store(int32(StateReceiving))
	h.log.Info("connected", "remote", h.conn.Remote)
	if h.observer != nil {
		h.observer.Connected(h.conn.ID, h.conn.Remote)
	}

	buf := make([]byte, h.bufSize)
	for {
		n, rerr := h.conn.Read(buf)
		if n > 0 {
			if err := h.handleMessage(buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				h.log.Debug("peer closed connection")
				return nil
			}
			if !h.conn.Alive() {
				// closed locally to interrupt the read
				return nil
			}
			h.log.Error("receive error", "error", rerr)
			return api.NewError(api.CodeReceive, "receive failed", rerr)
		}
		if n == 0 {
			h.log.Debug("zero-length read")
			return nil
		}
	}
}

// handleMessage delivers one received message. A non-nil error ends the
// handler; only the echo send can produce one.
func (h *Handler) handleMessage(msg []byte) error {
	h.log.Debug("message received", "size", len(msg))
	if h.observer != nil {
		h.observer.Received(h.conn.ID, msg)
	}

	if h.filter != nil {
		ok, err := h.filter.Allow(delivery.Env{
			Mode:   h.policy.Mode.String(),
			Sender: h.conn.ID,
			Remote: h.conn.Remote,
			Size:   len(msg),
			Text:   string(msg),
		})
		if err != nil {
			h.log.Warn("filter failed, dropping message", "error", err)
			return nil
		}
		if !ok {
			h.log.Debug("message filtered", "size", len(msg))
			return nil
		}
	}

	deliveries := delivery.Apply(h.policy, h.conn, msg, h.registry.Snapshot)
	switch h.policy.Mode {
	case api.ModeEcho:
		for _, d := range deliveries {
			if err := d.To.Send(d.Data); err != nil {
				h.log.Error("send error", "error", err)
				return api.NewError(api.CodeSend, "echo send failed", err)
			}
		}
	case api.ModeBroadcast:
		h.broadcast(deliveries)
	}
	return nil
}

// broadcast sends to every destination, at most fanout at a time.
// Failures are logged and never affect other destinations or this
// handler.
func (h *Handler) broadcast(deliveries []delivery.Delivery[*Conn]) {
	var g errgroup.Group
	g.SetLimit(h.fanout)
	for _, d := range deliveries {
		g.Go(func() error {
			if err := d.To.Send(d.Data); err != nil {
				h.log.Warn("broadcast send failed", "to", d.To.ID,
					"error", api.NewError(api.CodeBroadcastSend, "send to "+d.To.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Handler) finish(err error) {
	h.state.Store(int32(StateDisconnecting))
	h.registry.Remove(h.conn)
	h.conn.Close()
	h.err = err

	h.log.Info("disconnected", "remote", h.conn.Remote)
	if h.observer != nil {
		h.observer.Disconnected(h.conn.ID, err)
	}

	h.state.Store(int32(StateClosed))
	close(h.done)
	if h.onDone != nil {
		h.onDone(h)
	}
}

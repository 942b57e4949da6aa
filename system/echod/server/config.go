package server

import (
	"log/slog"
)

// Spec holds the runtime specification for the server.
// Config contains the serializable settings loaded from a file or flags.
type Spec struct {
	Config   *Config
	Log      *slog.Logger
	Observer Observer

	// OnHandlerDone, if set, is called by every handler once its
	// connection is deregistered and closed.
	OnHandlerDone func(h *Handler)
}

// Observer is notified of connection and message events.
// Methods are called from handler goroutines and must be safe for
// concurrent use. msg is only valid for the duration of the call.
type Observer interface {
	Connected(id, remote string)
	Received(id string, msg []byte)
	Disconnected(id string, err error)
}

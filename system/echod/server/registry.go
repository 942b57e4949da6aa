package server

import (
	"fmt"
	"sync"

	"github.com/signadot/echod/system/echod/api"
)

// Registry is the set of currently open connections.
//
// A connection is present from the moment the listener registers it
// until its handler removes it during cleanup. All operations take the
// same mutex and none performs I/O while holding it.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Add registers c. It fails with api.ErrDuplicateHandle if c's handle
// is already registered.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; ok {
		return api.NewError(api.CodeDuplicateHandle, fmt.Sprintf("connection %s already registered", c.ID), nil)
	}
	r.conns[c.ID] = c
	return nil
}

// Remove deregisters c and reports whether it was present.
// Removing twice is a no-op, as is removing a different connection
// registered under the same handle.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[c.ID]
	if !ok || cur != c {
		return false
	}
	delete(r.conns, c.ID)
	return true
}

// Snapshot returns a copy of the registered connections, in no
// particular order. Connections in the copy may close at any time after
// it is taken; sends to them fail harmlessly.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		res = append(res, c)
	}
	return res
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

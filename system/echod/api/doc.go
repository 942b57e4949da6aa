// Package api provides the shared types of the echod server.
//
// Defines delivery modes and the error taxonomy reported by the
// listener and connection handlers.
//
// # Related Packages
//
//   - github.com/signadot/echod/system/echod/server - Server implementation
//   - github.com/signadot/echod/system/echod/delivery - Delivery policy
package api

// Package server provides the TCP server implementation for echod.
//
// A [TCPListener] accepts connections, registers each one in the
// server's [Registry] and runs one [Handler] per connection. Handlers
// read raw bytes, apply the delivery policy and deregister themselves
// when their connection ends.
//
// # Related Packages
//
//   - github.com/signadot/echod/system/echod/api - Modes and error codes
//   - github.com/signadot/echod/system/echod/delivery - Delivery policy
package server

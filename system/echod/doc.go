// Package echod provides a concurrent TCP echo and broadcast server.
//
// echod accepts any number of simultaneous TCP clients and, depending on
// its delivery mode, does one of:
//
//   - none: log each received message
//   - echo: send each message back to the client that sent it
//   - broadcast: send each message to every connected client
//
// There is no framing: the bytes returned by one read are one message.
// A message larger than the receive buffer is split across reads and
// delivered as several messages.
//
// # Server
//
// Start the server with:
//
//	echod serve -b 1234
//
// which listens on 0.0.0.0:1234 in broadcast mode.
//
// # Related Packages
//
//   - [api] - delivery modes and error codes
//   - [delivery] - delivery policy and message filters
//   - [server] - registry, connection handlers and TCP listener
//   - [console] - terminal output of messages and connection events
package echod

//go:build !unix

package server

import "syscall"

// Address reuse is left to the platform default.
var listenControl func(network, address string, rc syscall.RawConn) error

func isBindError(err error) bool {
	return false
}

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Error codes.
const (
	CodeConfig          = "config"
	CodeBind            = "bind"
	CodeListen          = "listen"
	CodeAccept          = "accept"
	CodeReceive         = "receive"
	CodeSend            = "send"
	CodeBroadcastSend   = "broadcast_send"
	CodeDuplicateHandle = "duplicate_handle"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrConfig          = &Error{Code: CodeConfig}
	ErrBind            = &Error{Code: CodeBind}
	ErrListen          = &Error{Code: CodeListen}
	ErrAccept          = &Error{Code: CodeAccept}
	ErrReceive         = &Error{Code: CodeReceive}
	ErrSend            = &Error{Code: CodeSend}
	ErrBroadcastSend   = &Error{Code: CodeBroadcastSend}
	ErrDuplicateHandle = &Error{Code: CodeDuplicateHandle}
)

// Error is an echod error carrying a code from the taxonomy above and,
// when the cause is an OS error, its errno.
type Error struct {
	Code    string
	Message string
	// Errno is the OS error number of the cause, 0 if there is none.
	Errno int
	Err   error
}

// NewError builds an Error, extracting the errno from err if present.
func NewError(code, msg string, err error) *Error {
	e := &Error{Code: code, Message: msg, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = int(errno)
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Errno != 0 {
		msg = fmt.Sprintf("%s (errno %d)", msg, e.Errno)
	}
	if e.Code == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is implements the errors.Is interface for error matching.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	if t.Message != "" {
		return e.Message == t.Message
	}
	return false
}

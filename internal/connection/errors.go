package connection

import (
	"errors"
	"fmt"
)

var (
	ErrMaxAttemptsReached = errors.New("maxAttemptsReached")
	ErrSessionTerminated  = errors.New("session_terminated")
	ErrNotConnected       = errors.New("not_connected")
	ErrSuperseded         = errors.New("establish_superseded")
	ErrLifetimeExceeded   = errors.New("connection_lifetime_exceeded")
	ErrNoSession          = errors.New("no_session")
)

// InvocationError is a server-side failure reported in a result frame.
type InvocationError struct {
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %s", e.Method, e.Message)
}

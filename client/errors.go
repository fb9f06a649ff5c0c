package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned by Execute once Close has been called
	// or the connection has been lost.
	ErrConnectionClosed = errors.New("cannot execute command because the connection is closed")

	// ErrCancelled resolves commands that were still waiting for a response
	// when Close was called.
	ErrCancelled = errors.New("command cancelled because the connection was closed")

	// ErrConnectionLost is matched by every *ConnectionLostError.
	ErrConnectionLost = errors.New("connection lost")

	errUnsolicitedResponse = errors.New("received a response with no command waiting for it")
)

// ConnectionLostError fails the commands that were waiting for a response
// when the connection broke.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}

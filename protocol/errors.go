package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand   = errors.New("command is not part of the protocol")
	ErrInvalidArgument  = errors.New("command argument must be an integer or a string without whitespace")
	ErrMalformedHeader  = errors.New("response header is malformed")
	ErrMalformedBody    = errors.New("response body is not terminated by \\r\\n")
	ErrMalformedRequest = errors.New("request is malformed")
	ErrLineTooLong      = errors.New("line exceeds the maximum length")

	// ErrDeadlineSoon is the warning raised when a reserve is interrupted
	// because a job reserved earlier on the same connection is about to
	// exceed its time-to-run.
	ErrDeadlineSoon = errors.New("DEADLINE_SOON")
)

// CommandError is a failure status the server is documented to return for a
// verb, e.g. NOT_FOUND for delete or TIMED_OUT for reserve-with-timeout.
type CommandError struct {
	Verb   Verb
	Status Status
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Verb, e.Status)
}

// UnexpectedResponseError is returned when the server answers with a status
// that the verb does not define. The connection is out of step with the
// server when this happens.
type UnexpectedResponseError struct {
	Verb   Verb
	Status Status
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response to %s: %s", e.Verb, e.Status)
}

// IsStatus reports whether err is a *CommandError carrying status.
func IsStatus(err error, status Status) bool {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Status == status
	}
	return false
}

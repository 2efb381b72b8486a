package utils

import (
	"fmt"
)

var (
	// The worker process did not reply before the result timeout expired
	// and was still alive when the timeout was declared.
	ErrTimeout = fmt.Errorf("Worker timed out")

	// The worker process exited while a reply was pending.
	ErrCrash = fmt.Errorf("Worker crashed")

	// An unexpected message type was received on a wire channel.
	ErrProtocol = fmt.Errorf("Protocol violation")

	ErrBadRequest = fmt.Errorf("Bad request")
	ErrNotFound   = fmt.Errorf("Not found")
	ErrParse      = fmt.Errorf("Parse error")
)

type DetailedError interface {
	error
	Details() string
}

type detailedError struct {
	message string
	details string
}

func NewDetailedError(message, details string) error {
	return &detailedError{
		message: message,
		details: details,
	}
}

func (e *detailedError) Error() string {
	return e.message
}

func (e *detailedError) Details() string {
	return e.details
}

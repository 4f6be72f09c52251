package bridge

import (
	"errors"
	"fmt"
)

var ErrStreamClosed = errors.New("stream closed")

// ValidationError rejects a request before any inference happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}

	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// InferenceError is fatal to the current request: the backend was
// unreachable, misbehaved, or produced no final answer.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

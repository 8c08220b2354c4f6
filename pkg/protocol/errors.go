package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload indicates the line is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingField indicates freq or duty is absent.
	ErrMissingField = errors.New("missing field")
	// ErrTypeMismatch indicates a field is not an integer.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrOutOfRange indicates a field is outside the actuator limits.
	ErrOutOfRange = errors.New("out of range")
)

// DecodeError describes why a line was rejected.
// Kind is one of the Err* sentinels above.
type DecodeError struct {
	Kind   error
	Field  string
	Detail string
}

// Error implements error.
func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the error kind.
func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(kind error, field, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

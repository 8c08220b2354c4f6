package transport

import "errors"

var (
	// ErrTimeout indicates no line arrived in time.
	ErrTimeout = errors.New("timeout")
	// ErrUnsupportedScheme indicates an unknown link URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

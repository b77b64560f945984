// Package transport provides the byte-stream links a SLIP bridge runs over:
// a serial line or a pair of named pipes.
package transport

import (
	"errors"
	"io"
)

// ErrUnsupported is returned by backends not available on this platform.
var ErrUnsupported = errors.New("transport not supported on this platform")

// Transport is an ordered byte stream with no framing of its own.
//
// Read and Write may be called concurrently from different goroutines.
// Close unblocks a pending Read.
type Transport interface {
	io.ReadWriteCloser

	// Name describes the link for logs, e.g. "serial:/dev/ttyUSB0".
	Name() string
}

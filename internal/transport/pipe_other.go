//go:build !unix

package transport

import "time"

// PipeOptions is a stub for platforms without named pipes.
type PipeOptions struct {
	Prefix         string
	Reverse        bool
	Create         bool
	ConnectTimeout time.Duration
}

// PipeNames returns the FIFO paths read and written for prefix.
func PipeNames(prefix string, reverse bool) (readName, writeName string) {
	if reverse {
		return prefix + ".in", prefix + ".out"
	}
	return prefix + ".out", prefix + ".in"
}

// Pipe is a stub for platforms without named pipes.
// This is never used at runtime (OpenPipe always fails).
type Pipe struct{}

// OpenPipe is a stub for platforms without named pipes.
func OpenPipe(opts PipeOptions) (*Pipe, error) {
	return nil, ErrUnsupported
}

// Read is a stub - never called on this platform.
func (p *Pipe) Read(buf []byte) (int, error) {
	return 0, ErrUnsupported
}

// Write is a stub - never called on this platform.
func (p *Pipe) Write(data []byte) (int, error) {
	return 0, ErrUnsupported
}

// Close is a stub - never called on this platform.
func (p *Pipe) Close() error {
	return ErrUnsupported
}

// Name is a stub - never called on this platform.
func (p *Pipe) Name() string {
	return "pipe"
}

// Files is a stub - never called on this platform.
func (p *Pipe) Files() (readName, writeName string) {
	return "", ""
}

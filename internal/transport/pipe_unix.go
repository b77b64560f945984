//go:build unix

package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// retryInterval paces open and EOF retries while the peer attaches.
const retryInterval = 50 * time.Millisecond

// PipeOptions selects the FIFOs of a pipe transport.
type PipeOptions struct {
	// Prefix names the pair <Prefix>.in and <Prefix>.out.
	Prefix string
	// Reverse reads <Prefix>.in and writes <Prefix>.out instead of the
	// default, so two bridges can share one pair.
	Reverse bool
	// Create makes missing FIFOs.
	Create bool
	// ConnectTimeout bounds how long to wait for the peer to open its
	// ends. Zero or negative waits forever.
	ConnectTimeout time.Duration
}

// PipeNames returns the FIFO paths read and written for prefix.
func PipeNames(prefix string, reverse bool) (readName, writeName string) {
	if reverse {
		return prefix + ".in", prefix + ".out"
	}
	return prefix + ".out", prefix + ".in"
}

// Pipe is a duplex link made of two named pipes.
//
// Both ends are non-blocking descriptors handed to the runtime poller, so a
// Read parks the goroutine instead of a thread and Close interrupts it.
type Pipe struct {
	r         *os.File
	w         *os.File
	prefix    string
	readName  string
	writeName string

	// Until the peer has written once, EOF only means its writer is not
	// attached yet. Touched by the reading goroutine only.
	connected bool
	deadline  time.Time
}

// OpenPipe opens the read FIFO, then waits for the peer to open the other
// FIFO for reading before returning.
func OpenPipe(opts PipeOptions) (*Pipe, error) {
	readName, writeName := PipeNames(opts.Prefix, opts.Reverse)

	if opts.Create {
		for _, name := range []string{readName, writeName} {
			if err := ensureFifo(name); err != nil {
				return nil, err
			}
		}
	}

	var deadline time.Time
	if opts.ConnectTimeout > 0 {
		deadline = time.Now().Add(opts.ConnectTimeout)
	}

	// O_NONBLOCK lets the open succeed before any writer exists.
	rfd, err := unix.Open(readName, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", readName, err)
	}
	r := os.NewFile(uintptr(rfd), readName)

	wfd, err := openWriter(writeName, deadline)
	if err != nil {
		r.Close()
		return nil, err
	}
	w := os.NewFile(uintptr(wfd), writeName)

	return &Pipe{
		r:         r,
		w:         w,
		prefix:    opts.Prefix,
		readName:  readName,
		writeName: writeName,
		deadline:  deadline,
	}, nil
}

// openWriter retries a non-blocking write open until a reader is attached.
// Without a reader the kernel answers ENXIO.
func openWriter(name string, deadline time.Time) (int, error) {
	for {
		fd, err := unix.Open(name, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			return fd, nil
		}
		if !errors.Is(err, unix.ENXIO) {
			return -1, fmt.Errorf("failed to open %s: %w", name, err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return -1, fmt.Errorf("failed to open %s: no reader attached: %w", name, os.ErrDeadlineExceeded)
		}
		time.Sleep(retryInterval)
	}
}

func ensureFifo(name string) error {
	fi, err := os.Stat(name)
	if err == nil {
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a fifo", name)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if err := unix.Mkfifo(name, 0o600); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("failed to create fifo %s: %w", name, err)
	}
	return nil
}

// Read reads from the read FIFO. EOF before the peer's first write is
// retried until the connect timeout; after that it is returned as io.EOF.
func (p *Pipe) Read(buf []byte) (int, error) {
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			p.connected = true
			return n, err
		}
		if !errors.Is(err, io.EOF) || p.connected {
			return n, err
		}
		if !p.deadline.IsZero() && time.Now().After(p.deadline) {
			return 0, io.EOF
		}
		time.Sleep(retryInterval)
	}
}

// Write writes to the write FIFO.
func (p *Pipe) Write(data []byte) (int, error) {
	return p.w.Write(data)
}

// Close closes both FIFOs.
func (p *Pipe) Close() error {
	return errors.Join(p.r.Close(), p.w.Close())
}

// Name returns the pipe prefix prefixed with the backend.
func (p *Pipe) Name() string {
	return "pipe:" + p.prefix
}

// Files returns the read and write FIFO paths.
func (p *Pipe) Files() (readName, writeName string) {
	return p.readName, p.writeName
}

// Package bridge pumps packets between a byte-stream transport and a
// packet device, using SLIP framing on the transport side.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bigbag/tunslip/internal/slip"
)

var (
	// ErrTransport wraps a fatal read failure on the transport.
	ErrTransport = errors.New("transport failed")
	// ErrDevice wraps a fatal read failure on the device.
	ErrDevice = errors.New("device failed")
)

const (
	// DefaultMTU is used when Options.MTU is zero.
	DefaultMTU = 1500
	// DefaultBufferSize is used when Options.BufferSize is zero. It is
	// raised to slip.MaxEncodedLen(MTU) for large MTUs.
	DefaultBufferSize = 16384
)

// Transport is an ordered byte stream such as a serial line.
type Transport interface {
	io.ReadWriteCloser
}

// Device exchanges whole packets: one per Read, one per Write.
type Device interface {
	io.ReadWriteCloser
}

// Meter counts transport bytes in both directions.
// *progressbar.ProgressBar satisfies it.
type Meter interface {
	Add(num int) error
}

// Options tunes a Bridge. Zero values select the defaults.
type Options struct {
	// MTU bounds packets in both directions.
	MTU int
	// BufferSize is the accumulation buffer of the transport reader. It is
	// never smaller than one fully escaped MTU-sized frame.
	BufferSize int
	Logger     zerolog.Logger
	Meter      Meter
}

// Bridge forwards packets between a Transport and a Device with two
// independent pumps. Each pump owns its buffers; the pumps share only the
// handles, one reading and the other writing each of them.
type Bridge struct {
	transport Transport
	device    Device
	mtu       int
	bufSize   int
	log       zerolog.Logger
	meter     Meter
	stats     counters
}

// New returns a Bridge over already-opened handles.
func New(transport Transport, device Device, opts Options) *Bridge {
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	opts.BufferSize = max(opts.BufferSize, slip.MaxEncodedLen(opts.MTU))
	return &Bridge{
		transport: transport,
		device:    device,
		mtu:       opts.MTU,
		bufSize:   opts.BufferSize,
		log:       opts.Logger,
		meter:     opts.Meter,
	}
}

// Run forwards traffic until ctx is cancelled or either pump stops.
//
// A pump stops on a read error or EOF from its source. Stopping one pump
// stops the other, since a one-way bridge is of no use. Run closes both
// handles before it returns. EOF and cancellation are not errors; a read
// failure is returned wrapped in ErrTransport or ErrDevice.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the handles is the only way to unblock a pending Read.
	closed := make(chan struct{})
	go func() {
		<-ctx.Done()
		b.closeHandles()
		close(closed)
	}()

	b.log.Info().Int("mtu", b.mtu).Int("buffer", b.bufSize).Msg("bridge started")

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return b.transportToDevice(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return b.deviceToTransport(ctx)
	})
	err := g.Wait()

	cancel()
	<-closed

	st := b.Stats()
	ev := b.log.Info()
	if err != nil {
		ev = b.log.Error().Err(err)
	}
	ev.Uint64("to_device", st.PacketsToDevice).
		Uint64("to_transport", st.PacketsToTransport).
		Uint64("dropped", st.DroppedFrames).
		Uint64("write_errors", st.DeviceWriteErrors+st.TransportWriteErrors).
		Msg("bridge stopped")
	return err
}

func (b *Bridge) closeHandles() {
	if err := b.transport.Close(); err != nil {
		b.log.Debug().Err(err).Msg("transport close")
	}
	if err := b.device.Close(); err != nil {
		b.log.Debug().Err(err).Msg("device close")
	}
}

// readStopped classifies a read error: (true, nil) for a clean stop,
// (true, err) for a fatal one.
func readStopped(ctx context.Context, err, kind error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return true, nil
	}
	return true, fmt.Errorf("%w: %w", kind, err)
}

// transportToDevice reads raw bytes, reassembles frames and writes each
// decoded packet to the device.
func (b *Bridge) transportToDevice(ctx context.Context) error {
	asm := slip.NewAssembler(b.bufSize, b.mtu)
	asm.OnDrop = func(reason error, size int) {
		b.stats.droppedFrames.Add(1)
		b.log.Debug().Err(reason).Int("bytes", size).Msg("dropped frame")
	}
	chunk := make([]byte, b.bufSize)
	var malformed uint64

	for {
		n, err := b.transport.Read(chunk)
		if n > 0 {
			b.stats.transportBytesIn.Add(uint64(n))
			b.mark(n)

			packets := asm.Feed(chunk[:n])
			b.log.Debug().
				Int("bytes", n).
				Int("packets", len(packets)).
				Int("buffer_pct", 100*asm.Buffered()/asm.Cap()).
				Msg("transport read")

			if m := asm.Stats().Malformed; m != malformed {
				b.stats.malformedEscapes.Add(m - malformed)
				b.log.Debug().Uint64("count", m-malformed).Msg("malformed escape")
				malformed = m
			}

			for _, packet := range packets {
				if _, werr := b.device.Write(packet); werr != nil {
					if ctx.Err() != nil {
						return nil
					}
					b.stats.deviceWriteErrors.Add(1)
					b.log.Warn().Err(werr).Int("bytes", len(packet)).Msg("device write failed")
					continue
				}
				b.stats.packetsToDevice.Add(1)
				b.log.Debug().Int("bytes", len(packet)).Msg("device write")
			}
		}

		if stop, err := readStopped(ctx, err, ErrTransport); stop {
			return err
		}
	}
}

// deviceToTransport reads one packet at a time, encodes it and writes the
// frame to the transport.
func (b *Bridge) deviceToTransport(ctx context.Context) error {
	packet := make([]byte, b.mtu)
	frame := make([]byte, slip.MaxEncodedLen(b.mtu))

	for {
		n, err := b.device.Read(packet)
		if n > 0 {
			b.log.Debug().Int("bytes", n).Msg("device read")

			fn, eerr := slip.EncodeInto(frame, packet[:n])
			if eerr != nil {
				b.stats.droppedFrames.Add(1)
				b.log.Debug().Err(eerr).Int("bytes", n).Msg("dropped packet")
			} else if _, werr := b.transport.Write(frame[:fn]); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.stats.transportWriteErrors.Add(1)
				b.log.Warn().Err(werr).Int("bytes", fn).Msg("transport write failed")
			} else {
				b.stats.packetsToTransport.Add(1)
				b.stats.transportBytesOut.Add(uint64(fn))
				b.mark(fn)
				b.log.Debug().Int("bytes", fn).Msg("transport write")
			}
		}

		if stop, err := readStopped(ctx, err, ErrDevice); stop {
			return err
		}
	}
}

func (b *Bridge) mark(n int) {
	if b.meter == nil {
		return
	}
	if err := b.meter.Add(n); err != nil {
		b.log.Debug().Err(err).Msg("meter update failed")
	}
}

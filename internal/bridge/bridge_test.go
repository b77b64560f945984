package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/tunslip/internal/slip"
)

const testTimeout = 5 * time.Second

// fakeConn serves both as transport and device. Each value sent on in is
// returned by one Read; closing in makes Read return eofErr.
type fakeConn struct {
	in      chan []byte
	written chan []byte
	eofErr  error

	mu         sync.Mutex
	failWrites int

	closeOnce sync.Once
	closed    chan struct{}
	isClosed  atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 64),
		written: make(chan []byte, 64),
		eofErr:  io.EOF,
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return 0, c.eofErr
		}
		return copy(p, b), nil
	case <-c.closed:
		return 0, os.ErrClosed
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.failWrites > 0 {
		c.failWrites--
		c.mu.Unlock()
		return 0, errors.New("write refused")
	}
	c.mu.Unlock()

	if c.isClosed.Load() {
		return 0, os.ErrClosed
	}
	c.written <- append([]byte(nil), p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.isClosed.Store(true)
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-c.written:
		return b
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

type countingMeter struct {
	n atomic.Int64
}

func (m *countingMeter) Add(n int) error {
	m.n.Add(int64(n))
	return nil
}

func startBridge(t *testing.T, ctx context.Context, b *Bridge) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func newTestBridge(transport, device *fakeConn, meter Meter) *Bridge {
	return New(transport, device, Options{
		MTU:        64,
		BufferSize: 256,
		Logger:     zerolog.Nop(),
		Meter:      meter,
	})
}

func TestTransportToDevice(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	p1 := []byte{0x45, slip.End, slip.Esc, 0x01}
	p2 := []byte{0x45, 0x00, 0x00, 0x14}
	stream := append(slip.Encode(p1), slip.Encode(p2)...)

	transport.in <- stream[:3]
	transport.in <- stream[3:9]
	transport.in <- stream[9:]

	require.Equal(t, p1, device.next(t))
	require.Equal(t, p2, device.next(t))

	close(transport.in)
	require.NoError(t, wait(t, done))

	st := b.Stats()
	require.EqualValues(t, 2, st.PacketsToDevice)
	require.EqualValues(t, len(stream), st.TransportBytesIn)
	require.True(t, transport.isClosed.Load())
	require.True(t, device.isClosed.Load())
}

func TestDeviceToTransport(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	meter := &countingMeter{}
	b := newTestBridge(transport, device, meter)
	done := startBridge(t, context.Background(), b)

	packet := []byte{0x45, 0xC0, 0xDB, 0x01}
	device.in <- packet

	frame := transport.next(t)
	require.Equal(t, []byte{0x45, 0xDB, 0xDC, 0xDB, 0xDD, 0x01, 0xC0}, frame)

	close(device.in)
	require.NoError(t, wait(t, done))

	st := b.Stats()
	require.EqualValues(t, 1, st.PacketsToTransport)
	require.EqualValues(t, len(frame), st.TransportBytesOut)
	require.EqualValues(t, len(frame), meter.n.Load())
}

func TestBothDirectionsAreIndependent(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	b := newTestBridge(transport, device, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := startBridge(t, ctx, b)

	for i := 0; i < 10; i++ {
		device.in <- []byte{byte(i), 0xAA}
		transport.in <- slip.Encode([]byte{byte(i), 0xBB})
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, slip.Encode([]byte{byte(i), 0xAA}), transport.next(t))
		require.Equal(t, []byte{byte(i), 0xBB}, device.next(t))
	}

	cancel()
	require.NoError(t, wait(t, done))
}

func TestDeviceWriteFailureIsNotFatal(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	device.failWrites = 1
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	transport.in <- slip.Encode([]byte{0x01})
	transport.in <- slip.Encode([]byte{0x02})

	require.Equal(t, []byte{0x02}, device.next(t))

	close(transport.in)
	require.NoError(t, wait(t, done))
	require.EqualValues(t, 1, b.Stats().DeviceWriteErrors)
	require.EqualValues(t, 1, b.Stats().PacketsToDevice)
}

func TestTransportWriteFailureIsNotFatal(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	transport.failWrites = 1
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	device.in <- []byte{0x01}
	device.in <- []byte{0x02}

	require.Equal(t, slip.Encode([]byte{0x02}), transport.next(t))

	close(device.in)
	require.NoError(t, wait(t, done))
	require.EqualValues(t, 1, b.Stats().TransportWriteErrors)
}

func TestTransportReadErrorIsFatal(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	transport.eofErr = errors.New("port unplugged")
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	close(transport.in)
	err := wait(t, done)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorContains(t, err, "port unplugged")
	require.True(t, device.isClosed.Load())
}

func TestDeviceReadErrorIsFatal(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	device.eofErr = errors.New("interface removed")
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	close(device.in)
	err := wait(t, done)
	require.ErrorIs(t, err, ErrDevice)
	require.NotErrorIs(t, err, ErrTransport)
	require.True(t, transport.isClosed.Load())
}

func TestCancelStopsBridge(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	b := newTestBridge(transport, device, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := startBridge(t, ctx, b)

	cancel()
	require.NoError(t, wait(t, done))
	require.True(t, transport.isClosed.Load())
	require.True(t, device.isClosed.Load())
}

func TestBadFramesAreDroppedAndCounted(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	b := newTestBridge(transport, device, nil)
	done := startBridge(t, context.Background(), b)

	tooBig := slip.Encode(make([]byte, 65))
	malformed := []byte{0x01, slip.Esc, 0x42, slip.End}
	good := []byte{0x07, 0x08}

	transport.in <- []byte{slip.End, slip.End}
	transport.in <- tooBig
	transport.in <- malformed
	transport.in <- slip.Encode(good)

	require.Equal(t, []byte{0x01, 0x42}, device.next(t))
	require.Equal(t, good, device.next(t))

	close(transport.in)
	require.NoError(t, wait(t, done))

	st := b.Stats()
	require.EqualValues(t, 1, st.DroppedFrames)
	require.EqualValues(t, 1, st.MalformedEscapes)
	require.EqualValues(t, 2, st.PacketsToDevice)
}

func TestNewDefaults(t *testing.T) {
	b := New(newFakeConn(), newFakeConn(), Options{})
	require.Equal(t, DefaultMTU, b.mtu)
	require.Equal(t, DefaultBufferSize, b.bufSize)

	b = New(newFakeConn(), newFakeConn(), Options{MTU: 9000})
	require.Equal(t, 9000, b.mtu)
	require.Equal(t, slip.MaxEncodedLen(9000), b.bufSize)

	b = New(newFakeConn(), newFakeConn(), Options{MTU: 100, BufferSize: 101})
	require.Equal(t, slip.MaxEncodedLen(100), b.bufSize)

	b = New(newFakeConn(), newFakeConn(), Options{MTU: 100, BufferSize: 4096})
	require.Equal(t, 4096, b.bufSize)
}

func TestEscapedMTUPacketFitsSmallestBuffer(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	b := New(transport, device, Options{MTU: 100, BufferSize: 1, Logger: zerolog.Nop()})
	done := startBridge(t, context.Background(), b)

	packet := bytes.Repeat([]byte{slip.End, slip.Esc}, 50)
	transport.in <- slip.Encode(packet)
	require.Equal(t, packet, device.next(t))

	close(transport.in)
	require.NoError(t, wait(t, done))
	require.Zero(t, b.Stats().DroppedFrames)
}

type failingMeter struct {
	calls atomic.Int64
}

func (m *failingMeter) Add(int) error {
	m.calls.Add(1)
	return errors.New("meter closed")
}

func TestMeterErrorIsNotFatal(t *testing.T) {
	transport, device := newFakeConn(), newFakeConn()
	meter := &failingMeter{}
	done := startBridge(t, context.Background(), newTestBridge(transport, device, meter))

	transport.in <- slip.Encode([]byte{0x01})
	transport.in <- slip.Encode([]byte{0x02})
	require.Equal(t, []byte{0x01}, device.next(t))
	require.Equal(t, []byte{0x02}, device.next(t))

	close(transport.in)
	require.NoError(t, wait(t, done))
	require.EqualValues(t, 2, meter.calls.Load())
}

package slip

import (
	"bytes"
	"errors"
)

// ErrBufferOverrun reports that the accumulation buffer filled up without an
// END marker. The partial frame is discarded up to the next END.
var ErrBufferOverrun = errors.New("slip: accumulation buffer overrun")

// AssemblerStats counts what an Assembler has seen since it was created.
type AssemblerStats struct {
	Packets   uint64 // packets emitted
	Dropped   uint64 // frames dropped as too large or overrun
	Empty     uint64 // empty frames skipped (back-to-back END)
	Malformed uint64 // ESC followed by an unknown code
	Overruns  uint64 // times the accumulation buffer was flushed while full
}

// Assembler turns a fragmented SLIP byte stream into packets.
//
// Bytes that do not yet complete a frame are kept between calls to Feed.
// An Assembler is not safe for concurrent use.
type Assembler struct {
	buf  []byte // accumulation buffer, len(buf) is its capacity
	fill int
	out  []byte // decode scratch sized to the MTU

	// discarding is set after an overrun until the next END, so the tail of
	// the oversized frame is not decoded as a packet of its own.
	discarding bool

	stats AssemblerStats

	// OnDrop, if set, is called for every dropped frame with the reason
	// (ErrFrameTooLarge or ErrBufferOverrun) and the raw size seen.
	OnDrop func(reason error, size int)
}

// NewAssembler returns an Assembler with an accumulation buffer of
// bufferSize bytes that emits packets of at most mtu bytes.
func NewAssembler(bufferSize, mtu int) *Assembler {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if mtu < 1 {
		mtu = 1
	}
	return &Assembler{
		buf: make([]byte, bufferSize),
		out: make([]byte, mtu),
	}
}

// Feed appends chunk to the stream and returns the packets it completed, in
// arrival order. Each returned packet is a fresh slice owned by the caller.
//
// When chunk is larger than the free space the buffer is drained and
// compacted between copies, so bytes after the offending frame are still
// decoded. An undelimited run longer than the buffer is dropped.
func (a *Assembler) Feed(chunk []byte) [][]byte {
	var packets [][]byte
	for len(chunk) > 0 {
		n := copy(a.buf[a.fill:], chunk)
		chunk = chunk[n:]
		a.fill += n

		packets = a.drain(packets)

		if a.fill == len(a.buf) {
			a.overrun()
		}
	}
	return packets
}

// Buffered returns the number of bytes held for an incomplete frame.
func (a *Assembler) Buffered() int {
	return a.fill
}

// Cap returns the capacity of the accumulation buffer.
func (a *Assembler) Cap() int {
	return len(a.buf)
}

// Stats returns the counters accumulated so far.
func (a *Assembler) Stats() AssemblerStats {
	return a.stats
}

// Reset drops any partial frame.
func (a *Assembler) Reset() {
	a.fill = 0
	a.discarding = false
}

func (a *Assembler) drain(packets [][]byte) [][]byte {
	start := 0
	for {
		idx := bytes.IndexByte(a.buf[start:a.fill], End)
		if idx < 0 {
			break
		}
		frame := a.buf[start : start+idx]
		start += idx + 1

		if a.discarding {
			a.discarding = false
			continue
		}
		if len(frame) == 0 {
			a.stats.Empty++
			continue
		}

		n, malformed, err := DecodeInto(a.out, frame)
		a.stats.Malformed += uint64(malformed)
		if err != nil {
			a.drop(err, len(frame))
			continue
		}
		if n == 0 {
			a.stats.Empty++
			continue
		}

		packet := make([]byte, n)
		copy(packet, a.out[:n])
		packets = append(packets, packet)
		a.stats.Packets++
	}

	// Move the partial next frame to the front. Only the unconsumed
	// bytes are copied.
	if start > 0 {
		a.fill = copy(a.buf, a.buf[start:a.fill])
	}
	return packets
}

func (a *Assembler) overrun() {
	a.stats.Overruns++
	size := a.fill
	a.fill = 0
	if a.discarding {
		return
	}
	a.discarding = true
	a.drop(ErrBufferOverrun, size)
}

func (a *Assembler) drop(reason error, size int) {
	a.stats.Dropped++
	if a.OnDrop != nil {
		a.OnDrop(reason, size)
	}
}

package bridge

import "sync/atomic"

// Stats is a snapshot of the bridge counters.
type Stats struct {
	TransportBytesIn     uint64
	TransportBytesOut    uint64
	PacketsToDevice      uint64
	PacketsToTransport   uint64
	DroppedFrames        uint64
	MalformedEscapes     uint64
	DeviceWriteErrors    uint64
	TransportWriteErrors uint64
}

type counters struct {
	transportBytesIn     atomic.Uint64
	transportBytesOut    atomic.Uint64
	packetsToDevice      atomic.Uint64
	packetsToTransport   atomic.Uint64
	droppedFrames        atomic.Uint64
	malformedEscapes     atomic.Uint64
	deviceWriteErrors    atomic.Uint64
	transportWriteErrors atomic.Uint64
}

// Stats returns the current counters. It is safe to call while Run is
// active.
func (b *Bridge) Stats() Stats {
	c := &b.stats
	return Stats{
		TransportBytesIn:     c.transportBytesIn.Load(),
		TransportBytesOut:    c.transportBytesOut.Load(),
		PacketsToDevice:      c.packetsToDevice.Load(),
		PacketsToTransport:   c.packetsToTransport.Load(),
		DroppedFrames:        c.droppedFrames.Load(),
		MalformedEscapes:     c.malformedEscapes.Load(),
		DeviceWriteErrors:    c.deviceWriteErrors.Load(),
		TransportWriteErrors: c.transportWriteErrors.Load(),
	}
}

package slip

import "errors"

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// ErrFrameTooLarge is returned when an encoded or decoded frame does not fit
// the destination buffer.
var ErrFrameTooLarge = errors.New("slip: frame too large")

// MaxEncodedLen returns the worst-case frame length for a packet of n bytes:
// every byte escaped plus the trailing END.
func MaxEncodedLen(n int) int {
	return 2*n + 1
}

// Encode wraps a packet in SLIP framing.
// Escapes special bytes and terminates the frame with END.
func Encode(packet []byte) []byte {
	frame := make([]byte, MaxEncodedLen(len(packet)))
	n, _ := EncodeInto(frame, packet)
	return frame[:n]
}

// EncodeInto writes the frame for packet into dst and returns its length.
// len(dst) is the capacity; ErrFrameTooLarge is returned if the escaped
// frame would not fit, in which case the contents of dst are undefined.
func EncodeInto(dst, packet []byte) (int, error) {
	n := 0
	for _, b := range packet {
		switch b {
		case End:
			if n+2 > len(dst) {
				return 0, ErrFrameTooLarge
			}
			dst[n], dst[n+1] = Esc, EscEnd
			n += 2
		case Esc:
			if n+2 > len(dst) {
				return 0, ErrFrameTooLarge
			}
			dst[n], dst[n+1] = Esc, EscEsc
			n += 2
		default:
			if n >= len(dst) {
				return 0, ErrFrameTooLarge
			}
			dst[n] = b
			n++
		}
	}

	if n >= len(dst) {
		return 0, ErrFrameTooLarge
	}
	dst[n] = End
	return n + 1, nil
}

// Decode unescapes the bytes of a single frame, without its END terminator.
func Decode(raw []byte) []byte {
	packet := make([]byte, len(raw))
	n, _, _ := DecodeInto(packet, raw)
	return packet[:n]
}

// DecodeInto unescapes raw into dst and returns the packet length.
//
// raw must not contain the END terminator; DecodeInto never looks for one.
// An ESC followed by anything other than ESC_END or ESC_ESC is counted in
// malformed and the following byte is passed through literally. A dangling
// ESC at the end of raw is counted and dropped.
func DecodeInto(dst, raw []byte) (n, malformed int, err error) {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b == Esc {
			if i+1 >= len(raw) {
				malformed++
				break
			}
			i++
			switch raw[i] {
			case EscEnd:
				b = End
			case EscEsc:
				b = Esc
			default:
				malformed++
				b = raw[i]
			}
		}

		if n >= len(dst) {
			return 0, malformed, ErrFrameTooLarge
		}
		dst[n] = b
		n++
	}

	return n, malformed, nil
}

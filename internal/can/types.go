package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	EFFFlag = 0x80000000
	RTRFlag = 0x40000000
	ErrFlag = 0x20000000
	SFFMask = 0x7FF
	EFFMask = 0x1FFFFFFF
)

// Payload capacity per frame variant.
const (
	MaxLen   = 8  // classic CAN
	MaxLenFD = 64 // CAN FD
)

// Frame is the CAN/CAN-FD frame holder used across the middleware.
// ID carries EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is the payload length (0..8 classic, 0..64 FD); only the first
// Len bytes of Data are valid. FD selects the frame variant.
//
// Note: this is a convenience type. Codecs map it to/from their wires.
type Frame struct {
	ID   uint32
	Len  uint8
	FD   bool
	Data [64]byte
}

// MaxPayload is the payload capacity of the frame's variant.
func (f Frame) MaxPayload() int {
	if f.FD {
		return MaxLenFD
	}
	return MaxLen
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f Frame) Extended() bool { return f.ID&EFFFlag != 0 }

// Arbitration returns the identifier without flag bits, masked to the
// width implied by the EFF flag.
func (f Frame) Arbitration() uint32 {
	if f.Extended() {
		return f.ID & EFFMask
	}
	return f.ID & SFFMask
}

// Payload returns the valid prefix of Data, clamped to the variant
// capacity even if Len was set out of range.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if max := f.MaxPayload(); n > max {
		n = max
	}
	return f.Data[:n]
}

func (f Frame) CopyShallow() Frame { // handy for tests
	var g Frame
	g.ID, g.Len, g.FD = f.ID, f.Len, f.FD
	copy(g.Data[:], f.Data[:])
	return g
}

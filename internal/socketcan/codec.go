package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/canlink-io/canlink/internal/can"
)

// Kernel wire sizes from <linux/can.h>: struct can_frame is 16 bytes,
// struct canfd_frame is 72. Both carry can_id at [0:4], the payload
// length at [4] and data from [8].
const (
	mtuClassic = 16
	mtuFD      = 72
)

// putFrame marshals fr into the kernel frame layout and returns the
// wire size for the frame's variant. The payload is clamped to the
// variant capacity. buf must hold mtuFD bytes and arrive zeroed.
//
// The kernel exchanges these fields in host byte order; this codec
// assumes little-endian hosts.
func putFrame(buf []byte, fr can.Frame) int {
	binary.LittleEndian.PutUint32(buf[0:4], fr.ID)
	payload := fr.Payload()
	buf[4] = uint8(len(payload))
	copy(buf[8:], payload)
	if fr.FD {
		return mtuFD
	}
	return mtuClassic
}

// parseFrame unmarshals one kernel frame, inferring the variant from
// the wire size.
func parseFrame(buf []byte, fr *can.Frame) error {
	var fd bool
	var max int
	switch len(buf) {
	case mtuClassic:
		fd, max = false, can.MaxLen
	case mtuFD:
		fd, max = true, can.MaxLenFD
	default:
		return fmt.Errorf("socketcan: unexpected frame size %d", len(buf))
	}
	n := int(buf[4])
	if n > max {
		n = max
	}
	fr.ID = binary.LittleEndian.Uint32(buf[0:4])
	fr.Len = uint8(n)
	fr.FD = fd
	copy(fr.Data[:n], buf[8:8+n])
	return nil
}

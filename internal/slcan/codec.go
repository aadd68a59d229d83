// Package slcan speaks the Lawicel SLCAN ASCII protocol used by
// serial CAN adapters (and slcand): one CR-terminated line per frame,
// 't'/'T' for data frames with 11/29-bit identifiers, 'r'/'R' for the
// RTR variants. CAN FD has no SLCAN encoding; FD frames are rejected
// on transmit.
package slcan

import (
	"bytes"
	"errors"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/metrics"
)

const (
	cr  = 0x0D // line terminator, also the bare OK ack
	bel = 0x07 // error ack from the adapter

	// maxLine is the longest valid line: 'T' + 8 id digits + dlc +
	// 16 data digits + optional 4-digit timestamp.
	maxLine = 30
)

var ErrFDNotSupported = errors.New("slcan: fd frame not supported")

const hexDigits = "0123456789ABCDEF"

// hexVal returns the value of an ASCII hex digit or -1.
func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	}
	return -1
}

func appendHex(dst []byte, v uint32, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(v>>(4*i))&0xF])
	}
	return dst
}

// Bitrate is the Sn preset index of the adapter (S0=10k .. S8=1M).
type Bitrate byte

const (
	Bitrate10K Bitrate = iota
	Bitrate20K
	Bitrate50K
	Bitrate100K
	Bitrate125K
	Bitrate250K
	Bitrate500K
	Bitrate800K
	Bitrate1M
)

// BitrateCode maps a bit/s value to its Sn preset.
func BitrateCode(bps int) (Bitrate, bool) {
	switch bps {
	case 10000:
		return Bitrate10K, true
	case 20000:
		return Bitrate20K, true
	case 50000:
		return Bitrate50K, true
	case 100000:
		return Bitrate100K, true
	case 125000:
		return Bitrate125K, true
	case 250000:
		return Bitrate250K, true
	case 500000:
		return Bitrate500K, true
	case 800000:
		return Bitrate800K, true
	case 1000000:
		return Bitrate1M, true
	}
	return 0, false
}

// Cmd returns the Sn bitrate command line.
func (b Bitrate) Cmd() []byte { return []byte{'S', hexDigits[b], cr} }

// CmdOpen returns the channel-open command line.
func CmdOpen() []byte { return []byte{'O', cr} }

// CmdClose returns the channel-close command line.
func CmdClose() []byte { return []byte{'C', cr} }

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode builds the SLCAN line for a classic frame, e.g.
// "t1238DEADBEEF00112233\r". FD frames have no SLCAN representation.
func (Codec) Encode(f can.Frame) ([]byte, error) {
	if f.FD {
		return nil, ErrFDNotSupported
	}
	rtr := f.ID&can.RTRFlag != 0
	ext := f.Extended()

	var cmd byte
	idDigits := 3
	switch {
	case ext && rtr:
		cmd, idDigits = 'R', 8
	case ext:
		cmd, idDigits = 'T', 8
	case rtr:
		cmd = 'r'
	default:
		cmd = 't'
	}

	payload := f.Payload()
	line := make([]byte, 0, maxLine)
	line = append(line, cmd)
	line = appendHex(line, f.Arbitration(), idDigits)
	line = append(line, hexDigits[len(payload)])
	if !rtr {
		for _, b := range payload {
			line = appendHex(line, uint32(b), 2)
		}
	}
	line = append(line, cr)
	return line, nil
}

// parseLine decodes one CR-stripped frame line. Adapters with
// timestamping enabled append four extra hex digits; those are
// accepted and ignored.
func parseLine(line []byte) (can.Frame, bool) {
	var f can.Frame
	if len(line) == 0 {
		return f, false
	}
	idDigits := 3
	var rtr, ext bool
	switch line[0] {
	case 't':
	case 'T':
		ext, idDigits = true, 8
	case 'r':
		rtr = true
	case 'R':
		rtr, ext, idDigits = true, true, 8
	default:
		return f, false
	}

	head := 1 + idDigits + 1 // cmd + id + dlc
	if len(line) < head {
		return f, false
	}
	var id uint32
	for _, b := range line[1 : 1+idDigits] {
		v := hexVal(b)
		if v < 0 {
			return f, false
		}
		id = id<<4 | uint32(v)
	}
	dlc := hexVal(line[head-1])
	if dlc < 0 || dlc > can.MaxLen {
		return f, false
	}

	want := head
	if !rtr {
		want += 2 * dlc
	}
	if len(line) != want && len(line) != want+4 { // optional timestamp
		return f, false
	}
	if !rtr {
		for i := 0; i < dlc; i++ {
			hi := hexVal(line[head+2*i])
			lo := hexVal(line[head+2*i+1])
			if hi < 0 || lo < 0 {
				return f, false
			}
			f.Data[i] = byte(hi<<4 | lo)
		}
	}

	f.ID = id
	if ext {
		f.ID |= can.EFFFlag
	}
	if rtr {
		f.ID |= can.RTRFlag
	}
	f.Len = uint8(dlc)
	return f, true
}

// ackLine reports command replies that carry no frame: the bare-CR OK
// ack, transmit acks ('z'/'Z') and version/serial/status replies.
func ackLine(line []byte) bool {
	if len(line) == 0 {
		return true
	}
	switch line[0] {
	case 'z', 'Z', 'V', 'v', 'N', 'F':
		return true
	}
	return false
}

// DecodeStream drains complete lines from in and emits decoded frames
// via out. Partial lines stay buffered for the next read. It returns
// nil if no error occurred.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}
		if data[0] == bel {
			// Adapter rejected a command.
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		i := bytes.IndexByte(data, cr)
		if i < 0 {
			if len(data) > maxLine {
				// No terminator within a line's worth of bytes: garbage.
				metrics.IncMalformed()
				in.Reset()
			}
			return nil
		}
		line := data[:i]
		if f, ok := parseLine(line); ok {
			out(f)
			metrics.IncSLCANRx()
		} else if !ackLine(line) {
			metrics.IncMalformed()
		}
		in.Next(i + 1)
	}
}

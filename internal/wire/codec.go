// Package wire implements the stream framing spoken between bridges
// and clients: 4-byte big-endian CAN id (flag bits preserved), one
// length byte whose high bit marks an FD frame, then the payload.
// Byte-order handling is delegated to the packet codec so every value
// crosses the wire through the same big-endian conversion point.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/metrics"
	"github.com/canlink-io/canlink/internal/packet"
)

const (
	flagFD  = 0x80
	lenMask = 0x7F

	headerSize = 5
	// frameMax is the largest wire frame: header plus an FD payload.
	frameMax = headerSize + can.MaxLenFD
)

// ErrInvalidLength is returned when a length byte exceeds the capacity
// of its frame variant (8 classic, 64 FD).
var ErrInvalidLength = errors.New("wire: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("wire: truncated frame")

// Codec encodes and decodes wire frames. The zero value is ready to
// use and safe for concurrent use; scratch packets are pooled.
type Codec struct {
	pool sync.Pool
}

func (c *Codec) get() *packet.Packet {
	if v := c.pool.Get(); v != nil {
		return v.(*packet.Packet)
	}
	return packet.New(frameMax)
}

func (c *Codec) put(p *packet.Packet) {
	p.Clear()
	c.pool.Put(p)
}

// Encode packs frames into a single buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (headerSize + can.MaxLen))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns
// bytes written. Payload lengths are clamped to the frame variant.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	p := c.get()
	defer c.put(p)
	var total int
	for i := range frames {
		f := &frames[i]
		payload := f.Payload()
		lb := uint8(len(payload))
		if f.FD {
			lb |= flagFD
		}
		p.Clear()
		_ = p.AppendUint32(f.ID)
		_ = p.AppendUint8(lb)
		_ = p.AppendBytes(payload)
		n, err := w.Write(p.Bytes())
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode frame: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF when the
// stream ends at a clean frame boundary and ErrTruncatedFrame when it
// ends inside one.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return f, fmt.Errorf("wire decode header: %w", ErrTruncatedFrame)
		}
		return f, err
	}

	p := c.get()
	defer c.put(p)
	_, _ = p.Write(hdr[:])
	id, _ := p.ExtractUint32()
	lb, _ := p.ExtractUint8()

	fd := lb&flagFD != 0
	ln := int(lb & lenMask)
	max := can.MaxLen
	if fd {
		max = can.MaxLenFD
	}
	if ln > max {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.ID = id
	f.FD = fd
	f.Len = uint8(ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return f, fmt.Errorf("wire decode payload: %w", ErrTruncatedFrame)
			}
			return f, fmt.Errorf("wire decode payload: %w", err)
		}
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0)
// invoking onFrame for each. It returns the number of frames decoded
// and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

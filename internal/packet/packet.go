// Package packet implements a fixed-capacity binary packet with
// independent write and read cursors. Multi-byte values cross the
// packet boundary in big-endian order regardless of host endianness.
package packet

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var (
	// ErrOverflow is returned when an append does not fit the remaining
	// write capacity. The packet is left unchanged.
	ErrOverflow = errors.New("packet: append exceeds capacity")
	// ErrUnderflow is returned when an extract exceeds the readable
	// bytes. The read cursor is left unchanged.
	ErrUnderflow = errors.New("packet: extract exceeds readable bytes")
	// ErrRange is returned by Peek/Store when offset+width exceeds the
	// packet capacity.
	ErrRange = errors.New("packet: offset out of range")
)

// Packet is a fixed-capacity byte buffer with separate write and read
// cursors. Appends advance the write cursor, extracts advance the read
// cursor, and an operation that does not fit fails without touching
// either. The zero value is unusable; construct with New.
type Packet struct {
	buf  []byte
	wpos int
	rpos int
}

// New returns a packet with the given fixed capacity in bytes.
func New(capacity int) *Packet {
	if capacity < 0 {
		capacity = 0
	}
	return &Packet{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (p *Packet) Cap() int { return len(p.buf) }

// Len returns the number of bytes written so far.
func (p *Packet) Len() int { return p.wpos }

// Readable returns the number of bytes available to extract.
func (p *Packet) Readable() int { return p.wpos - p.rpos }

// Writable returns the remaining append capacity.
func (p *Packet) Writable() int { return len(p.buf) - p.wpos }

// Bytes returns the written prefix of the underlying buffer. The slice
// aliases packet storage and is valid until the next mutating call.
func (p *Packet) Bytes() []byte { return p.buf[:p.wpos] }

// Clear resets both cursors. Capacity and storage are retained.
func (p *Packet) Clear() {
	p.wpos = 0
	p.rpos = 0
}

// Skip advances the read cursor by n bytes.
func (p *Packet) Skip(n int) error {
	if n < 0 || n > p.Readable() {
		return ErrUnderflow
	}
	p.rpos += n
	return nil
}

// Write appends raw bytes, implementing io.Writer. The append is all or
// nothing: when b does not fit, nothing is written and ErrOverflow is
// returned.
func (p *Packet) Write(b []byte) (int, error) {
	if len(b) > p.Writable() {
		return 0, ErrOverflow
	}
	copy(p.buf[p.wpos:], b)
	p.wpos += len(b)
	return len(b), nil
}

// Read drains unread bytes into b, implementing io.Reader.
func (p *Packet) Read(b []byte) (int, error) {
	if p.Readable() == 0 {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(b, p.buf[p.rpos:p.wpos])
	p.rpos += n
	return n, nil
}

func (p *Packet) AppendUint8(v uint8) error {
	if p.Writable() < 1 {
		return ErrOverflow
	}
	p.buf[p.wpos] = v
	p.wpos++
	return nil
}

func (p *Packet) AppendUint16(v uint16) error {
	if p.Writable() < 2 {
		return ErrOverflow
	}
	binary.BigEndian.PutUint16(p.buf[p.wpos:], v)
	p.wpos += 2
	return nil
}

func (p *Packet) AppendUint32(v uint32) error {
	if p.Writable() < 4 {
		return ErrOverflow
	}
	binary.BigEndian.PutUint32(p.buf[p.wpos:], v)
	p.wpos += 4
	return nil
}

func (p *Packet) AppendUint64(v uint64) error {
	if p.Writable() < 8 {
		return ErrOverflow
	}
	binary.BigEndian.PutUint64(p.buf[p.wpos:], v)
	p.wpos += 8
	return nil
}

func (p *Packet) AppendInt8(v int8) error   { return p.AppendUint8(uint8(v)) }
func (p *Packet) AppendInt16(v int16) error { return p.AppendUint16(uint16(v)) }
func (p *Packet) AppendInt32(v int32) error { return p.AppendUint32(uint32(v)) }
func (p *Packet) AppendInt64(v int64) error { return p.AppendUint64(uint64(v)) }

// AppendFloat32 appends the IEEE 754 bit pattern of v.
func (p *Packet) AppendFloat32(v float32) error { return p.AppendUint32(math.Float32bits(v)) }

// AppendFloat64 appends the IEEE 754 bit pattern of v.
func (p *Packet) AppendFloat64(v float64) error { return p.AppendUint64(math.Float64bits(v)) }

// AppendBool appends one byte, 1 for true and 0 for false.
func (p *Packet) AppendBool(v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return p.AppendUint8(b)
}

// AppendBytes appends b verbatim, all or nothing.
func (p *Packet) AppendBytes(b []byte) error {
	_, err := p.Write(b)
	return err
}

// AppendString appends a 4-byte length prefix followed by the raw
// string bytes. The prefix is appended first; when the body then fails
// the capacity check the prefix sticks and ErrOverflow is returned.
func (p *Packet) AppendString(s string) error {
	if err := p.AppendUint32(uint32(len(s))); err != nil {
		return err
	}
	if len(s) > p.Writable() {
		return ErrOverflow
	}
	copy(p.buf[p.wpos:], s)
	p.wpos += len(s)
	return nil
}

func (p *Packet) ExtractUint8() (uint8, error) {
	if p.Readable() < 1 {
		return 0, ErrUnderflow
	}
	v := p.buf[p.rpos]
	p.rpos++
	return v, nil
}

func (p *Packet) ExtractUint16() (uint16, error) {
	if p.Readable() < 2 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint16(p.buf[p.rpos:])
	p.rpos += 2
	return v, nil
}

func (p *Packet) ExtractUint32() (uint32, error) {
	if p.Readable() < 4 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint32(p.buf[p.rpos:])
	p.rpos += 4
	return v, nil
}

func (p *Packet) ExtractUint64() (uint64, error) {
	if p.Readable() < 8 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint64(p.buf[p.rpos:])
	p.rpos += 8
	return v, nil
}

func (p *Packet) ExtractInt8() (int8, error) {
	v, err := p.ExtractUint8()
	return int8(v), err
}

func (p *Packet) ExtractInt16() (int16, error) {
	v, err := p.ExtractUint16()
	return int16(v), err
}

func (p *Packet) ExtractInt32() (int32, error) {
	v, err := p.ExtractUint32()
	return int32(v), err
}

func (p *Packet) ExtractInt64() (int64, error) {
	v, err := p.ExtractUint64()
	return int64(v), err
}

func (p *Packet) ExtractFloat32() (float32, error) {
	v, err := p.ExtractUint32()
	return math.Float32frombits(v), err
}

func (p *Packet) ExtractFloat64() (float64, error) {
	v, err := p.ExtractUint64()
	return math.Float64frombits(v), err
}

// ExtractBool extracts one byte; any nonzero value decodes as true.
func (p *Packet) ExtractBool() (bool, error) {
	v, err := p.ExtractUint8()
	return v != 0, err
}

// ExtractBytes fills dst completely, all or nothing.
func (p *Packet) ExtractBytes(dst []byte) error {
	if len(dst) > p.Readable() {
		return ErrUnderflow
	}
	copy(dst, p.buf[p.rpos:])
	p.rpos += len(dst)
	return nil
}

// ExtractString extracts a 4-byte length prefix followed by that many
// raw bytes. A failed body read still consumes the prefix.
func (p *Packet) ExtractString() (string, error) {
	n, err := p.ExtractUint32()
	if err != nil {
		return "", err
	}
	if int(n) > p.Readable() {
		return "", ErrUnderflow
	}
	s := string(p.buf[p.rpos : p.rpos+int(n)])
	p.rpos += int(n)
	return s, nil
}

// Peek and Store access fixed offsets in wire order without moving the
// cursors, bounded by capacity rather than by the written length. They
// exist for patching headers after the payload is known.

func (p *Packet) PeekUint8(off int) (uint8, error) {
	if off < 0 || off+1 > len(p.buf) {
		return 0, ErrRange
	}
	return p.buf[off], nil
}

func (p *Packet) PeekUint16(off int) (uint16, error) {
	if off < 0 || off+2 > len(p.buf) {
		return 0, ErrRange
	}
	return binary.BigEndian.Uint16(p.buf[off:]), nil
}

func (p *Packet) PeekUint32(off int) (uint32, error) {
	if off < 0 || off+4 > len(p.buf) {
		return 0, ErrRange
	}
	return binary.BigEndian.Uint32(p.buf[off:]), nil
}

func (p *Packet) PeekUint64(off int) (uint64, error) {
	if off < 0 || off+8 > len(p.buf) {
		return 0, ErrRange
	}
	return binary.BigEndian.Uint64(p.buf[off:]), nil
}

func (p *Packet) StoreUint8(off int, v uint8) error {
	if off < 0 || off+1 > len(p.buf) {
		return ErrRange
	}
	p.buf[off] = v
	return nil
}

func (p *Packet) StoreUint16(off int, v uint16) error {
	if off < 0 || off+2 > len(p.buf) {
		return ErrRange
	}
	binary.BigEndian.PutUint16(p.buf[off:], v)
	return nil
}

func (p *Packet) StoreUint32(off int, v uint32) error {
	if off < 0 || off+4 > len(p.buf) {
		return ErrRange
	}
	binary.BigEndian.PutUint32(p.buf[off:], v)
	return nil
}

func (p *Packet) StoreUint64(off int, v uint64) error {
	if off < 0 || off+8 > len(p.buf) {
		return ErrRange
	}
	binary.BigEndian.PutUint64(p.buf[off:], v)
	return nil
}

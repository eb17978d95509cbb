package ewkb

import (
	"encoding/binary"
	"math"
)

// Cursor reads and overwrites fixed-width values in a caller-owned buffer.
// Every access checks the remaining length before touching the slice.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned at the start of buf
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the current position
func (c *Cursor) Offset() int {
	return c.off
}

// Remaining returns the number of unread bytes
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

func (c *Cursor) ensure(n int) error {
	if len(c.buf)-c.off < n {
		return ErrUnexpectedEOF
	}
	return nil
}

// ReadByte reads a single byte
func (c *Cursor) ReadByte() (byte, error) {
	if err := c.ensure(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// ReadUint32 reads a 4-byte unsigned integer in the given order
func (c *Cursor) ReadUint32(order binary.ByteOrder) (uint32, error) {
	if err := c.ensure(4); err != nil {
		return 0, err
	}
	v := order.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

// ReadFloat64 reads an 8-byte IEEE-754 double in the given order
func (c *Cursor) ReadFloat64(order binary.ByteOrder) (float64, error) {
	if err := c.ensure(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(order.Uint64(c.buf[c.off : c.off+8]))
	c.off += 8
	return v, nil
}

// WriteFloat64At overwrites the double at offset without moving the cursor
func (c *Cursor) WriteFloat64At(offset int, order binary.ByteOrder, v float64) error {
	if offset < 0 || len(c.buf)-offset < 8 {
		return ErrUnexpectedEOF
	}
	order.PutUint64(c.buf[offset:offset+8], math.Float64bits(v))
	return nil
}

// Skip advances past n bytes without reading them
func (c *Cursor) Skip(n int) error {
	if err := c.ensure(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

package retranslator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// cursor is a read offset over an immutable frame buffer. Every read checks
// bounds and reports ErrMalformedFrame instead of panicking.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) take(n int, what string) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d (len=%d)",
			ErrMalformedFrame, what, n, c.off, len(c.buf))
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) skip(n int, what string) error {
	_, err := c.take(n, what)
	return err
}

func (c *cursor) u8(what string) (uint8, error) {
	b, err := c.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) i16(what string) (int16, error) {
	b, err := c.take(2, what)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (c *cursor) u32(what string) (uint32, error) {
	b, err := c.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) i32(what string) (int32, error) {
	v, err := c.u32(what)
	return int32(v), err
}

func (c *cursor) i64(what string) (int64, error) {
	b, err := c.take(8, what)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// f64le reads an IEEE-754 double stored little-endian, unlike every integer
// in the frame.
func (c *cursor) f64le(what string) (float64, error) {
	b, err := c.take(8, what)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// cstring reads ASCII bytes up to the next NUL and consumes the terminator.
func (c *cursor) cstring(what string) (string, error) {
	n := bytes.IndexByte(c.buf[c.off:], 0x00)
	if n < 0 {
		return "", fmt.Errorf("%w: %s not NUL-terminated at offset %d",
			ErrMalformedFrame, what, c.off)
	}
	s := string(c.buf[c.off : c.off+n])
	c.off += n + 1
	return s, nil
}

// seek moves the cursor to an absolute offset, backwards or forwards.
func (c *cursor) seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("%w: seek to %d outside frame (len=%d)",
			ErrMalformedFrame, pos, len(c.buf))
	}
	c.off = pos
	return nil
}

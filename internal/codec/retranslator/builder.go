package retranslator

import (
	"encoding/binary"
	"math"
	"time"
)

// FrameBuilder encodes frames in the Retranslator wire format. It is used by
// the frame generator and by tests.
type FrameBuilder struct {
	id     string
	ts     uint32
	flags  uint32
	blocks [][]byte
}

func NewFrameBuilder(uniqueID string) *FrameBuilder {
	return &FrameBuilder{id: uniqueID}
}

func (b *FrameBuilder) Time(t time.Time) *FrameBuilder {
	b.ts = uint32(t.Unix())
	return b
}

func (b *FrameBuilder) Flags(f uint32) *FrameBuilder {
	b.flags = f
	return b
}

// PosInfo appends a posinfo block.
func (b *FrameBuilder) PosInfo(lon, lat, alt float64, speed, course int16, sats uint8) *FrameBuilder {
	p := make([]byte, 0, 29)
	p = appendF64LE(p, lon)
	p = appendF64LE(p, lat)
	p = appendF64LE(p, alt)
	p = binary.BigEndian.AppendUint16(p, uint16(speed))
	p = binary.BigEndian.AppendUint16(p, uint16(course))
	p = append(p, sats)
	return b.Raw(0x0bbb, uint8(KindBinary), posInfoName, p)
}

func (b *FrameBuilder) String(name, s string) *FrameBuilder {
	p := append([]byte(s), 0x00)
	return b.Raw(0x0bbb, uint8(KindString), name, p)
}

func (b *FrameBuilder) Int32(name string, n int32) *FrameBuilder {
	return b.Raw(0x0bbb, uint8(KindInt32), name, binary.BigEndian.AppendUint32(nil, uint32(n)))
}

func (b *FrameBuilder) Float64(name string, f float64) *FrameBuilder {
	return b.Raw(0x0bbb, uint8(KindFloat64), name, appendF64LE(nil, f))
}

func (b *FrameBuilder) Int64(name string, n int64) *FrameBuilder {
	return b.Raw(0x0bbb, uint8(KindInt64), name, binary.BigEndian.AppendUint64(nil, uint64(n)))
}

// Raw appends a block with an arbitrary type code, data-type tag and
// payload. The block length covers exactly what is written.
func (b *FrameBuilder) Raw(blockType uint16, tag uint8, name string, payload []byte) *FrameBuilder {
	body := make([]byte, 0, 2+len(name)+1+len(payload))
	body = append(body, 0x01, tag) // security attribute, data type
	body = append(body, name...)
	body = append(body, 0x00)
	body = append(body, payload...)
	return b.RawBlock(blockType, int32(len(body)), body)
}

// RawBlock appends a block whose declared length may differ from len(body).
func (b *FrameBuilder) RawBlock(blockType uint16, declared int32, body []byte) *FrameBuilder {
	blk := make([]byte, 0, 6+len(body))
	blk = binary.BigEndian.AppendUint16(blk, blockType)
	blk = binary.BigEndian.AppendUint32(blk, uint32(declared))
	blk = append(blk, body...)
	b.blocks = append(b.blocks, blk)
	return b
}

// Bytes returns the frame. The length prefix is the little-endian byte count
// after the prefix, as the transport framer expects.
func (b *FrameBuilder) Bytes() []byte {
	body := make([]byte, 0, 64)
	body = append(body, b.id...)
	body = append(body, 0x00)
	body = binary.BigEndian.AppendUint32(body, b.ts)
	body = binary.BigEndian.AppendUint32(body, b.flags)
	for _, blk := range b.blocks {
		body = append(body, blk...)
	}
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(body)), uint32(len(body)))
	return append(out, body...)
}

func appendF64LE(b []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
}

package channel

import (
	"math"

	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// Channel is the single owner of the shared segment. The command client,
// telemetry reader and pulse relay hold a reference to it; none of them
// touch the segment any other way.
type Channel struct {
	seg Segment
}

// New wraps a segment.
func New(seg Segment) *Channel {
	return &Channel{seg: seg}
}

// NewDefault wraps the System V segment the autoguider expects.
func NewDefault() *Channel {
	return New(NewSysV(protocol.SegmentKey, protocol.SegmentSize, protocol.SegmentPerm))
}

// Segment returns the underlying segment.
func (c *Channel) Segment() Segment {
	return c.seg
}

// Attach maps the segment.
func (c *Channel) Attach() error {
	return c.seg.Attach()
}

// Detach unmaps the segment.
func (c *Channel) Detach() error {
	return c.seg.Detach()
}

// Destroy unmaps and removes the segment.
func (c *Channel) Destroy() error {
	return c.seg.Destroy()
}

// Attached reports whether the segment is mapped.
func (c *Channel) Attached() bool {
	return c.seg.Attached()
}

// ReadAt copies n bytes from offset.
func (c *Channel) ReadAt(offset, n int) ([]byte, error) {
	return c.seg.ReadAt(offset, n)
}

// WriteAt copies b to offset.
func (c *Channel) WriteAt(offset int, b []byte) error {
	return c.seg.WriteAt(offset, b)
}

// ZeroAll clears the whole segment.
func (c *Channel) ZeroAll() error {
	return c.seg.ZeroAll()
}

// ZeroRange clears n bytes starting at offset.
func (c *Channel) ZeroRange(offset, n int) error {
	return c.seg.WriteAt(offset, make([]byte, n))
}

// ReadU8 reads a single byte. Single-byte accesses are the only ones the
// protocol relies on for synchronization.
func (c *Channel) ReadU8(offset int) (byte, error) {
	b, err := c.seg.ReadAt(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteU8 writes a single byte.
func (c *Channel) WriteU8(offset int, v byte) error {
	return c.seg.WriteAt(offset, []byte{v})
}

// ReadBool reads a one-byte boolean.
func (c *Channel) ReadBool(offset int) (bool, error) {
	b, err := c.ReadU8(offset)
	return b != 0, err
}

// ReadU16 reads a little-endian u16.
func (c *Channel) ReadU16(offset int) (uint16, error) {
	b, err := c.seg.ReadAt(offset, 2)
	if err != nil {
		return 0, err
	}
	return protocol.ByteOrder.Uint16(b), nil
}

// ReadU32 reads a little-endian u32.
func (c *Channel) ReadU32(offset int) (uint32, error) {
	b, err := c.seg.ReadAt(offset, 4)
	if err != nil {
		return 0, err
	}
	return protocol.ByteOrder.Uint32(b), nil
}

// WriteU32 writes a little-endian u32.
func (c *Channel) WriteU32(offset int, v uint32) error {
	return c.seg.WriteAt(offset, protocol.EncodeU32(v))
}

// ReadI32 reads a little-endian i32.
func (c *Channel) ReadI32(offset int) (int32, error) {
	v, err := c.ReadU32(offset)
	return int32(v), err
}

// WriteI32 writes a little-endian i32.
func (c *Channel) WriteI32(offset int, v int32) error {
	return c.WriteU32(offset, uint32(v))
}

// ReadF64 reads a little-endian IEEE-754 double.
func (c *Channel) ReadF64(offset int) (float64, error) {
	b, err := c.seg.ReadAt(offset, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(protocol.ByteOrder.Uint64(b)), nil
}

// WriteF64 writes a little-endian IEEE-754 double.
func (c *Channel) WriteF64(offset int, v float64) error {
	return c.seg.WriteAt(offset, protocol.EncodeF64(v))
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs outbound packets. All integers are written
// big-endian.
type PacketBuilder struct {
	buf      bytes.Buffer
	variable bool
}

// NewPacketBuilder creates a builder that starts with the given opcode.
func NewPacketBuilder(opcode byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.WriteByte(opcode)
	return b
}

// NewVariablePacketBuilder creates a builder for a variable-length packet.
// The two length bytes are filled in by Build.
func NewVariablePacketBuilder(opcode byte) *PacketBuilder {
	b := NewPacketBuilder(opcode)
	b.buf.Write([]byte{0, 0})
	b.variable = true
	return b
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a big-endian uint16.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteUint32 writes a big-endian uint32.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteASCII writes s into a fixed-width field, truncating or NUL-padding
// it to exactly width bytes.
func (b *PacketBuilder) WriteASCII(s string, width int) *PacketBuilder {
	data := []byte(s)
	if len(data) > width {
		data = data[:width]
	}
	b.buf.Write(data)
	for i := len(data); i < width; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteZero writes n zero bytes.
func (b *PacketBuilder) WriteZero(n int) *PacketBuilder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the packet. Builders from NewVariablePacketBuilder get
// their length field patched with the final size.
func (b *PacketBuilder) Build() []byte {
	data := b.buf.Bytes()
	if b.variable {
		binary.BigEndian.PutUint16(data[1:3], uint16(len(data)))
	}
	return data
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

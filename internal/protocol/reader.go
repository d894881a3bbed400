package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read would run past the end of the
// packet. Callers treat it as a truncated or corrupt packet.
var ErrOutOfBounds = errors.New("read past end of packet")

// Reader is a sequential cursor over a packet buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// NewBodyReader creates a reader positioned after the packet header:
// one byte for fixed packets, three for variable packets.
func NewBodyReader(pkt []byte) *Reader {
	r := &Reader{buf: pkt}
	if len(pkt) == 0 {
		return r
	}
	if n, ok := PacketLength(pkt[0]); ok && n == Variable {
		r.pos = VariableHeaderSize
	} else {
		r.pos = 1
	}
	if r.pos > len(pkt) {
		r.pos = len(pkt)
	}
	return r
}

// Position returns the cursor offset from the start of the buffer.
func (r *Reader) Position() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrOutOfBounds, n, r.pos, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint32LE reads a little-endian uint32. Only IPv4 fields use it.
func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadASCII reads a fixed-width text field and returns it cut at the first
// NUL. The cursor always advances by width bytes.
func (r *Reader) ReadASCII(width int) (string, error) {
	b, err := r.take(width)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

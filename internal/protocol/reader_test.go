package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderPrimitives(t *testing.T) {
	r := NewReader([]byte{
		0x7F,
		0x12, 0x34,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x01, 0x00, 0x00, 0x7F,
	})

	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x7F), b)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	le, err := r.ReadUint32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7F000001), le)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderASCIIAdvancesFullWidth(t *testing.T) {
	field := make([]byte, 10)
	copy(field, "abc\x00garbage")
	r := NewReader(append(field, 0x42))

	s, err := r.ReadASCII(10)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
	assert.Equal(t, 10, r.Position())

	next, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x42), next)
}

func TestReaderASCIIWithoutTerminator(t *testing.T) {
	r := NewReader([]byte("exactly"))
	s, err := r.ReadASCII(7)
	require.NoError(t, err)
	assert.Equal(t, "exactly", s)
}

func TestReaderOutOfBounds(t *testing.T) {
	r := NewReader([]byte{0x01})

	_, err := r.ReadUint16()
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, 0, r.Position(), "failed read must not move the cursor")

	_, err = r.ReadASCII(30)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	assert.ErrorIs(t, r.Skip(2), ErrOutOfBounds)
	assert.NoError(t, r.Skip(1))
}

func TestBodyReaderSkipsHeader(t *testing.T) {
	fixed := NewBodyReader([]byte{PktRelay, 1, 2})
	assert.Equal(t, 1, fixed.Position())

	variable := NewBodyReader([]byte{PktServerList, 0x00, 0x04, 0x5D})
	assert.Equal(t, 3, variable.Position())

	empty := NewBodyReader(nil)
	assert.Equal(t, 0, empty.Remaining())
}

func TestBuilderFixedASCII(t *testing.T) {
	pkt := NewPacketBuilder(PktFirstLogin).
		WriteASCII("a-very-long-account-name-that-overflows", AccountFieldSize).
		Build()
	assert.Len(t, pkt, 1+AccountFieldSize)

	pkt = NewPacketBuilder(PktFirstLogin).WriteASCII("acct", 6).Build()
	assert.Equal(t, []byte{PktFirstLogin, 'a', 'c', 'c', 't', 0, 0}, pkt)
}

func TestBuilderPatchesVariableLength(t *testing.T) {
	pkt := NewVariablePacketBuilder(PktGeneralInfo).
		WriteUint16(0x0024).
		WriteByte(1).
		Build()
	require.Len(t, pkt, 6)
	assert.Equal(t, []byte{0x00, 0x06}, pkt[1:3])
}

func TestBuilderLeavesFixedHeaderBodyAlone(t *testing.T) {
	pkt := NewPacketBuilder(PktGeneralInfo).
		WriteUint16(0xABCD).
		WriteByte(1).
		Build()
	assert.Equal(t, []byte{PktGeneralInfo, 0xAB, 0xCD, 0x01}, pkt)
}

func TestParseClientVersion(t *testing.T) {
	v, err := ParseClientVersion("7.0.95.0")
	require.NoError(t, err)
	assert.Equal(t, ClientVersion{7, 0, 95, 0}, v)
	assert.True(t, v.AtLeast(VersionSeedPacket))
	assert.True(t, v.AtLeast(VersionNewCities))
	assert.Equal(t, uint32(0x07005F00), v.Packed())

	old, err := ParseClientVersion("5.0.9")
	require.NoError(t, err)
	assert.False(t, old.AtLeast(VersionSeedPacket))
	assert.Equal(t, "5.0.9.0", old.String())

	_, err = ParseClientVersion("7.x")
	assert.Error(t, err)
	_, err = ParseClientVersion("1.2.3.4.5")
	assert.Error(t, err)
}

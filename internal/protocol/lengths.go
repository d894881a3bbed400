package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Variable marks an opcode whose 16-bit length follows the opcode byte.
const Variable = -1

var (
	// ErrUnknownPacket is returned when an opcode has no registered length,
	// so the frame boundary cannot be found.
	ErrUnknownPacket = errors.New("unknown packet opcode")

	// ErrBadLength is returned when a variable packet declares a length
	// smaller than its own header.
	ErrBadLength = errors.New("invalid packet length")

	// ErrPacketTooLarge is returned for outbound packets over MaxPacketSize.
	ErrPacketTooLarge = errors.New("packet too large")
)

var (
	lengthsMu sync.RWMutex
	lengths   = map[byte]int{
		PktSeed:                 21,
		PktFirstLogin:           62,
		PktSelectServer:         3,
		PktSecondLogin:          65,
		PktSelectCharacter:      73,
		PktDeleteCharacter:      39,
		PktPing:                 2,
		PktServerList:           Variable,
		PktRelay:                11,
		PktCharacterList:        Variable,
		PktUpdatedCharacterList: Variable,
		PktLoginError:           2,
		PktDeleteResult:         2,
		PktPopupMessage:         2,
		PktLoginDelay:           2,
		PktEnableFeatures:       5,
		PktLoginConfirm:         37,
		PktLoginComplete:        1,
		PktClientVersion:        Variable,
		PktGeneralInfo:          Variable,
	}
)

// PacketLength returns the frame length for opcode, or Variable.
func PacketLength(opcode byte) (int, bool) {
	lengthsMu.RLock()
	defer lengthsMu.RUnlock()
	n, ok := lengths[opcode]
	return n, ok
}

// RegisterPacketLength declares the frame length of an opcode owned by a
// collaborator. Use Variable for length-prefixed packets.
func RegisterPacketLength(opcode byte, length int) {
	lengthsMu.Lock()
	defer lengthsMu.Unlock()
	lengths[opcode] = length
}

// ReadFrame reads one complete packet, opcode included, from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [VariableHeaderSize]byte
	if _, err := io.ReadFull(r, head[:1]); err != nil {
		return nil, err
	}

	opcode := head[0]
	size, ok := PacketLength(opcode)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownPacket, opcode)
	}

	if size == Variable {
		if _, err := io.ReadFull(r, head[1:3]); err != nil {
			return nil, fmt.Errorf("failed to read length of packet 0x%02X: %w", opcode, err)
		}
		size = int(binary.BigEndian.Uint16(head[1:3]))
		if size < VariableHeaderSize {
			return nil, fmt.Errorf("%w: packet 0x%02X declares %d bytes", ErrBadLength, opcode, size)
		}
		pkt := make([]byte, size)
		copy(pkt, head[:])
		if _, err := io.ReadFull(r, pkt[VariableHeaderSize:]); err != nil {
			return nil, fmt.Errorf("failed to read packet 0x%02X body (%d bytes): %w", opcode, size, err)
		}
		return pkt, nil
	}

	if size < 1 {
		return nil, fmt.Errorf("%w: packet 0x%02X registered with %d bytes", ErrBadLength, opcode, size)
	}
	pkt := make([]byte, size)
	pkt[0] = opcode
	if _, err := io.ReadFull(r, pkt[1:]); err != nil {
		return nil, fmt.Errorf("failed to read packet 0x%02X body (%d bytes): %w", opcode, size, err)
	}
	return pkt, nil
}

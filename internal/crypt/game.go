package crypt

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/twofish"
)

const gameTableSize = 256

// gameStream is the game server key stream: a 256-byte table enciphered
// with Twofish in ECB blocks and re-enciphered every time it is used up.
type gameStream struct {
	block cipher.Block
	table [gameTableSize]byte
	pos   int
}

func newGameStream(seed uint32) (*gameStream, error) {
	key := make([]byte, 16)
	for i := 0; i < len(key); i += 4 {
		binary.BigEndian.PutUint32(key[i:], seed)
	}
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create twofish cipher: %w", err)
	}

	s := &gameStream{block: block}
	for i := range s.table {
		s.table[i] = byte(i)
	}
	s.refill()
	return s, nil
}

func (s *gameStream) refill() {
	bs := s.block.BlockSize()
	for i := 0; i < gameTableSize; i += bs {
		s.block.Encrypt(s.table[i:i+bs], s.table[i:i+bs])
	}
	s.pos = 0
}

func (s *gameStream) XORKeyStream(dst, src []byte) {
	for i, v := range src {
		if s.pos == gameTableSize {
			s.refill()
		}
		dst[i] = v ^ s.table[s.pos]
		s.pos++
	}
}

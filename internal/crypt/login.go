package crypt

import "github.com/uolink-project/uolink/internal/protocol"

// loginKeys are the three mask words derived from the client version.
type loginKeys struct {
	key1, key2, key3 uint32
}

// deriveLoginKeys computes the per-version masks from the first three
// version components.
func deriveLoginKeys(v protocol.ClientVersion) loginKeys {
	a, b, c := v.Major&0xFF, v.Minor&0xFF, v.Revision&0xFF

	temp := ((((a << 9) | b) << 10) | c) ^ ((c * c) << 5)
	key2 := (temp << 4) ^ (b * b) ^ (b * 0x0B000000) ^ (c * 0x380000) ^ 0x2C13A5FD

	temp = (((((a << 9) | c) << 10) | b) * 8) ^ (c * c * 0x0c00)
	key3 := temp ^ b ^ (b * 0x6800000) ^ (c * 0x1c0000) ^ 0xA31D527F

	return loginKeys{key1: key2 - 1, key2: key2, key3: key3}
}

// loginStream is the two-register key stream used towards the login
// server. It implements cipher.Stream.
type loginStream struct {
	keys   loginKeys
	k0, k1 uint32
}

func newLoginStream(seed uint32, keys loginKeys) *loginStream {
	return &loginStream{
		keys: keys,
		k0:   ((^seed ^ 0x1357) << 16) | ((seed ^ 0xffffaaaa) & 0xffff),
		k1:   ((seed ^ 0x43210000) >> 16) | ((^seed ^ 0xabcdffff) & 0xffff0000),
	}
}

func (s *loginStream) XORKeyStream(dst, src []byte) {
	for i, v := range src {
		dst[i] = v ^ byte(s.k0)

		k0, k1 := s.k0, s.k1
		s.k1 = (((((k1 >> 1) | (k0 << 31)) ^ s.keys.key1) >> 1) | (k0 << 31)) ^ s.keys.key2
		s.k0 = ((k0 >> 1) | (k1 << 31)) ^ s.keys.key3
	}
}

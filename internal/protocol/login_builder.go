package protocol

import (
	"encoding/binary"
	"net"
)

// BuildRawSeed returns the 4-byte big-endian seed sent in clear before any
// encrypted traffic. Legacy login servers and every game server expect it.
func BuildRawSeed(seed uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, seed)
	return out
}

// BuildSeed creates the versioned seed packet (0xEF).
// Format: [0xEF][seed:4][major:4][minor:4][revision:4][prototype:4]
func BuildSeed(seed uint32, v ClientVersion) []byte {
	return NewPacketBuilder(PktSeed).
		WriteUint32(seed).
		WriteUint32(v.Major).
		WriteUint32(v.Minor).
		WriteUint32(v.Revision).
		WriteUint32(v.Prototype).
		Build()
}

// BuildFirstLogin creates the account login packet (0x80).
// Format: [0x80][account:30][password:30][next_login_key:1]
func BuildFirstLogin(account, password string) []byte {
	return NewPacketBuilder(PktFirstLogin).
		WriteASCII(account, AccountFieldSize).
		WriteASCII(password, PasswordFieldSize).
		WriteByte(0xFF).
		Build()
}

// BuildSelectServer creates the shard selection packet (0xA0).
func BuildSelectServer(index uint16) []byte {
	return NewPacketBuilder(PktSelectServer).
		WriteUint16(index).
		Build()
}

// BuildSecondLogin creates the game server login packet (0x91).
// Format: [0x91][seed:4][account:30][password:30]
func BuildSecondLogin(seed uint32, account, password string) []byte {
	return NewPacketBuilder(PktSecondLogin).
		WriteUint32(seed).
		WriteASCII(account, AccountFieldSize).
		WriteASCII(password, PasswordFieldSize).
		Build()
}

// BuildSelectCharacter creates the play-character packet (0x5D).
// Format: [0x5D][0xEDEDEDED:4][name:30][unknown:2][client_flags:4]
//
//	[unknown:4][login_count:4][unknown:16][slot:4][client_ip:4]
func BuildSelectCharacter(slot uint32, name string, clientFlags uint32, localIP net.IP) []byte {
	return NewPacketBuilder(PktSelectCharacter).
		WriteUint32(SelectCharacterMagic).
		WriteASCII(name, CharacterNameSize).
		WriteZero(2).
		WriteUint32(clientFlags).
		WriteZero(4).
		WriteUint32(1).
		WriteZero(16).
		WriteUint32(slot).
		WriteBytes(ipv4Bytes(localIP)).
		Build()
}

// BuildDeleteCharacter creates the delete-character packet (0x83).
// Format: [0x83][password:30][slot:4][client_ip:4]
func BuildDeleteCharacter(slot uint32, password string, localIP net.IP) []byte {
	return NewPacketBuilder(PktDeleteCharacter).
		WriteASCII(password, PasswordFieldSize).
		WriteUint32(slot).
		WriteBytes(ipv4Bytes(localIP)).
		Build()
}

// BuildPing creates a ping request (0x73) with a sequence byte.
func BuildPing(seq byte) []byte {
	return NewPacketBuilder(PktPing).
		WriteByte(seq).
		Build()
}

// SeedFromIP packs an IPv4 address into the 32-bit login seed.
func SeedFromIP(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ipv4Bytes(ip))
}

func ipv4Bytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return []byte(v4)
	}
	return []byte{0, 0, 0, 0}
}

// Package protocol implements the wire codecs for the login and handshake
// part of the Ultima Online protocol. Every message starts with a 1-byte
// opcode; multi-byte integers are big-endian unless a field says otherwise
// and text fields are fixed-width, NUL-padded ASCII.
package protocol

// Packets sent by the client during login.
const (
	PktSeed            byte = 0xEF // Versioned seed: seed + 4 version words
	PktFirstLogin      byte = 0x80 // Account + password to the login server
	PktSelectServer    byte = 0xA0 // Shard index chosen from the server list
	PktSecondLogin     byte = 0x91 // Game server login: relay seed + account + password
	PktSelectCharacter byte = 0x5D // Play character from slot
	PktDeleteCharacter byte = 0x83 // Delete character from slot
	PktPing            byte = 0x73 // Ping request / echo, 1-byte sequence
)

// Packets received from the server that the handshake consumes.
const (
	PktServerList           byte = 0xA8 // Count-prefixed shard list
	PktRelay                byte = 0x8C // Redirect to game server: ip, port, seed
	PktCharacterList        byte = 0xA9 // Characters, cities, flags
	PktUpdatedCharacterList byte = 0x86 // Characters only
	PktLoginError           byte = 0x82 // Login denied, 1-byte reason
	PktDeleteResult         byte = 0x85 // Character delete failed, 1-byte reason
	PktPopupMessage         byte = 0x53 // Generic login popup, 1-byte reason
	PktLoginDelay           byte = 0xFD // Advisory wait window, 1 byte
)

// Packets framed by the core but left to collaborators.
const (
	PktEnableFeatures byte = 0xB9
	PktLoginConfirm   byte = 0x1B
	PktLoginComplete  byte = 0x55
	PktClientVersion  byte = 0xBD
	PktGeneralInfo    byte = 0xBF
)

// MaxPacketSize is the largest frame a 16-bit length field can describe.
const MaxPacketSize = 0xFFFF

// Field widths.
const (
	AccountFieldSize   = 30
	PasswordFieldSize  = 30
	CharacterNameSize  = 30
	ServerNameSize     = 32
	OldCityNameSize    = 31
	NewCityNameSize    = 32
	VariableHeaderSize = 3
)

// SelectCharacterMagic prefixes the select-character body.
const SelectCharacterMagic uint32 = 0xEDEDEDED

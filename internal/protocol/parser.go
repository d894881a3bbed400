package protocol

import (
	"fmt"
	"net"
)

// ServerRecord is one shard entry of the server list (0xA8).
type ServerRecord struct {
	Index       uint16
	Name        string
	PercentFull uint8
	Timezone    uint8
	// Address is the 4 address bytes read little-endian.
	Address uint32
}

// IP renders Address most-significant octet first. This is the address
// both shown to the user and probed with ICMP.
func (s ServerRecord) IP() net.IP {
	a := s.Address
	return net.IPv4(byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// ServerList is the parsed body of packet 0xA8.
type ServerList struct {
	Flags   uint8
	Servers []ServerRecord
}

// Relay is the parsed body of packet 0x8C.
type Relay struct {
	// IP is the 4 address bytes read little-endian.
	IP   uint32
	Port uint16
	Seed uint32
}

// Address renders the relay IP with the least significant byte first,
// which is the wire order of the octets.
func (r Relay) Address() net.IP {
	a := r.IP
	return net.IPv4(byte(a), byte(a>>8), byte(a>>16), byte(a>>24))
}

// CityRecord is one starting location from the character list.
type CityRecord struct {
	Index         uint8
	Name          string
	Building      string
	X             uint16
	Y             uint16
	Z             int8
	Map           uint32
	DescriptionID uint32
	NewFormat     bool
}

// CharacterList is the parsed body of packet 0xA9.
type CharacterList struct {
	Names  []string
	Cities []CityRecord
	Flags  uint32
}

// LoginError is the parsed body of 0x82, 0x85 and 0x53.
type LoginError struct {
	PacketID byte
	Code     byte
}

// ParseServerList parses packet 0xA8.
// Format: [0xA8][len:2][flags:1][count:2]
//
//	count * [index:2][name:32][percent_full:1][timezone:1][address:4 LE]
func ParseServerList(pkt []byte) (*ServerList, error) {
	r := NewBodyReader(pkt)

	flags, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to parse server list flags: %w", err)
	}
	count, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("failed to parse server list count: %w", err)
	}

	list := &ServerList{
		Flags:   flags,
		Servers: make([]ServerRecord, 0, count),
	}
	for i := 0; i < int(count); i++ {
		var s ServerRecord
		if s.Index, err = r.ReadUint16(); err != nil {
			return nil, fmt.Errorf("failed to parse server %d index: %w", i, err)
		}
		if s.Name, err = r.ReadASCII(ServerNameSize); err != nil {
			return nil, fmt.Errorf("failed to parse server %d name: %w", i, err)
		}
		if s.PercentFull, err = r.ReadUint8(); err != nil {
			return nil, fmt.Errorf("failed to parse server %d load: %w", i, err)
		}
		if s.Timezone, err = r.ReadUint8(); err != nil {
			return nil, fmt.Errorf("failed to parse server %d timezone: %w", i, err)
		}
		if s.Address, err = r.ReadUint32LE(); err != nil {
			return nil, fmt.Errorf("failed to parse server %d address: %w", i, err)
		}
		list.Servers = append(list.Servers, s)
	}

	return list, nil
}

// ParseRelay parses packet 0x8C.
// Format: [0x8C][ip:4 LE][port:2][seed:4]
func ParseRelay(pkt []byte) (*Relay, error) {
	r := NewBodyReader(pkt)

	var (
		relay Relay
		err   error
	)
	if relay.IP, err = r.ReadUint32LE(); err != nil {
		return nil, fmt.Errorf("failed to parse relay ip: %w", err)
	}
	if relay.Port, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("failed to parse relay port: %w", err)
	}
	if relay.Seed, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("failed to parse relay seed: %w", err)
	}
	return &relay, nil
}

// ReadCharacterNames reads a count byte followed by count 30-byte names.
// The cursor advances by exactly 1 + 30*count bytes.
func ReadCharacterNames(r *Reader) ([]string, error) {
	count, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to parse character count: %w", err)
	}

	names := make([]string, count)
	for i := range names {
		if names[i], err = r.ReadASCII(CharacterNameSize); err != nil {
			return nil, fmt.Errorf("failed to parse character %d: %w", i, err)
		}
	}
	return names, nil
}

// Old-format city records carry no coordinates. Clients place them by
// record position using this table.
var oldCityLocations = [9]struct {
	x, y uint16
	z    int8
}{
	{633, 858, 0},    // Yew
	{2476, 413, 15},  // Minoc
	{1496, 1628, 10}, // Britain
	{4404, 1169, 0},  // Moonglow
	{1843, 2745, 0},  // Trinsic
	{3734, 2222, 20}, // Magincia
	{1374, 3826, 0},  // Jhelom
	{618, 2234, 0},   // Skara Brae
	{2771, 976, 0},   // Vesper
}

// ReadCities reads a count byte followed by city records in the old or
// new layout.
//
// Old: [index:1][name:31][building:31]
// New: [index:1][name:32][building:32][x:4][y:4][z:4][map:4][cliloc:4][reserved:4]
func ReadCities(r *Reader, newFormat bool) ([]CityRecord, error) {
	count, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to parse city count: %w", err)
	}

	cities := make([]CityRecord, count)
	for i := range cities {
		c := &cities[i]
		c.NewFormat = newFormat
		if c.Index, err = r.ReadUint8(); err != nil {
			return nil, fmt.Errorf("failed to parse city %d index: %w", i, err)
		}

		if !newFormat {
			if c.Name, err = r.ReadASCII(OldCityNameSize); err != nil {
				return nil, fmt.Errorf("failed to parse city %d name: %w", i, err)
			}
			if c.Building, err = r.ReadASCII(OldCityNameSize); err != nil {
				return nil, fmt.Errorf("failed to parse city %d building: %w", i, err)
			}
			loc := oldCityLocations[i%len(oldCityLocations)]
			c.X, c.Y, c.Z, c.Map = loc.x, loc.y, loc.z, 0
			continue
		}

		if c.Name, err = r.ReadASCII(NewCityNameSize); err != nil {
			return nil, fmt.Errorf("failed to parse city %d name: %w", i, err)
		}
		if c.Building, err = r.ReadASCII(NewCityNameSize); err != nil {
			return nil, fmt.Errorf("failed to parse city %d building: %w", i, err)
		}

		var words [5]uint32
		for w := range words {
			if words[w], err = r.ReadUint32(); err != nil {
				return nil, fmt.Errorf("failed to parse city %d location: %w", i, err)
			}
		}
		c.X = uint16(words[0])
		c.Y = uint16(words[1])
		c.Z = int8(words[2])
		c.Map = words[3]
		c.DescriptionID = words[4]

		if err := r.Skip(4); err != nil {
			return nil, fmt.Errorf("failed to parse city %d: %w", i, err)
		}
	}
	return cities, nil
}

// ParseCharacterList parses packet 0xA9: names, cities, then a flags word.
// Servers that omit the flags word yield zero flags.
func ParseCharacterList(pkt []byte, newCityFormat bool) (*CharacterList, error) {
	r := NewBodyReader(pkt)

	names, err := ReadCharacterNames(r)
	if err != nil {
		return nil, err
	}
	cities, err := ReadCities(r, newCityFormat)
	if err != nil {
		return nil, err
	}

	list := &CharacterList{Names: names, Cities: cities}
	if r.Remaining() >= 4 {
		if list.Flags, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("failed to parse character list flags: %w", err)
		}
	}
	return list, nil
}

// ParseUpdatedCharacterList parses packet 0x86.
func ParseUpdatedCharacterList(pkt []byte) ([]string, error) {
	return ReadCharacterNames(NewBodyReader(pkt))
}

// ParseLoginError parses 0x82, 0x85 and 0x53. The packet id is the first
// raw byte of the buffer.
func ParseLoginError(pkt []byte) (LoginError, error) {
	if len(pkt) < 2 {
		return LoginError{}, fmt.Errorf("%w: error packet has %d bytes", ErrOutOfBounds, len(pkt))
	}
	return LoginError{PacketID: pkt[0], Code: pkt[1]}, nil
}

// ParseLoginDelay parses 0xFD into an advisory (min, max) wait in seconds.
func ParseLoginDelay(pkt []byte) (minSeconds, maxSeconds int, err error) {
	r := NewBodyReader(pkt)
	b, err := r.ReadUint8()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse login delay: %w", err)
	}
	return (int(b) - 1) * 10, int(b) * 10, nil
}

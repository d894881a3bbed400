package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ClientVersion is the four-part client version the server negotiates
// features against.
type ClientVersion struct {
	Major     uint32
	Minor     uint32
	Revision  uint32
	Prototype uint32
}

// Version thresholds that change the wire format.
var (
	VersionSeedPacket = ClientVersion{6, 0, 5, 0}  // 0xEF seed instead of raw 4 bytes
	VersionNewCities  = ClientVersion{7, 0, 13, 0} // cities carry coordinates
)

// ParseClientVersion parses "major.minor.revision.prototype". Missing
// trailing parts are zero.
func ParseClientVersion(s string) (ClientVersion, error) {
	var v ClientVersion
	s = strings.TrimSpace(s)
	if s == "" {
		return v, fmt.Errorf("empty client version")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 4 {
		return v, fmt.Errorf("client version %q has more than 4 parts", s)
	}

	fields := []*uint32{&v.Major, &v.Minor, &v.Revision, &v.Prototype}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return v, fmt.Errorf("invalid client version %q: %w", s, err)
		}
		*fields[i] = uint32(n)
	}
	return v, nil
}

// Compare returns -1, 0 or 1.
func (v ClientVersion) Compare(o ClientVersion) int {
	a := [4]uint32{v.Major, v.Minor, v.Revision, v.Prototype}
	b := [4]uint32{o.Major, o.Minor, o.Revision, o.Prototype}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v >= o.
func (v ClientVersion) AtLeast(o ClientVersion) bool {
	return v.Compare(o) >= 0
}

// Packed returns the version as one byte per part, most significant first.
func (v ClientVersion) Packed() uint32 {
	return (v.Major&0xFF)<<24 | (v.Minor&0xFF)<<16 | (v.Revision&0xFF)<<8 | v.Prototype&0xFF
}

func (v ClientVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Prototype)
}

// Package login implements the login and handshake state machine: seed and
// credentials, shard selection, the relay to the game server and character
// selection, plus the reconnect policy.
package login

import (
	"net"
	"time"

	"github.com/uolink-project/uolink/internal/ping"
	"github.com/uolink-project/uolink/internal/protocol"
)

// Step is the current position in the login flow.
type Step int

const (
	Main Step = iota
	Connecting
	VerifyingAccount
	ServerSelection
	LoginInToServer
	CharacterSelection
	CharacterCreation
	EnteringWorld
	PopUpMessage
	Disposed
)

var stepNames = map[Step]string{
	Main:               "main",
	Connecting:         "connecting",
	VerifyingAccount:   "verifying_account",
	ServerSelection:    "server_selection",
	LoginInToServer:    "login_in_to_server",
	CharacterSelection: "character_selection",
	CharacterCreation:  "character_creation",
	EnteringWorld:      "entering_world",
	PopUpMessage:       "popup_message",
	Disposed:           "disposed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON serializes Step as a JSON string (e.g. "server_selection").
func (s Step) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ServerListEntry is one shard offered by the login server. Each entry
// owns the latency probe for its address.
type ServerListEntry struct {
	Index       uint16 `json:"index"`
	Name        string `json:"name"`
	PercentFull uint8  `json:"percent_full"`
	Timezone    uint8  `json:"timezone"`
	Address     uint32 `json:"-"`

	probe *ping.Probe
}

func newServerListEntry(rec protocol.ServerRecord) *ServerListEntry {
	return &ServerListEntry{
		Index:       rec.Index,
		Name:        rec.Name,
		PercentFull: rec.PercentFull,
		Timezone:    rec.Timezone,
		Address:     rec.Address,
	}
}

// IP returns the shard address.
func (e *ServerListEntry) IP() net.IP {
	return protocol.ServerRecord{Address: e.Address}.IP()
}

// Probe returns the latency probe, or nil when probing is off.
func (e *ServerListEntry) Probe() *ping.Probe {
	return e.probe
}

// Ping returns the probe results.
func (e *ServerListEntry) Ping() ping.Stats {
	if e.probe == nil {
		return ping.Stats{IP: e.IP().String(), LastMs: -1}
	}
	return e.probe.Stats()
}

func (e *ServerListEntry) dispose() {
	if e.probe != nil {
		e.probe.Dispose()
	}
}

// CityInfo is a starting location offered with the character list.
type CityInfo = protocol.CityRecord

// ErrorInfo is the message shown while in PopUpMessage. Server error
// packets fill PacketID and Code; transport failures only Message.
type ErrorInfo struct {
	PacketID byte   `json:"packet_id"`
	Code     byte   `json:"code"`
	Message  string `json:"message"`
}

// LoginDelay is the advisory wait window announced by the server.
type LoginDelay struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Options configures a Handshake.
type Options struct {
	Version        protocol.ClientVersion
	Encryption     bool
	IgnoreRelayIP  bool
	AutoLogin      bool
	LastServerName string
	ClientFlags    uint32

	Reconnect     bool
	ReconnectTime time.Duration

	RelayAttempts     int
	RelayTimeout      time.Duration
	DisconnectTimeout time.Duration

	// Pinger enables per-entry latency probes when set.
	Pinger ping.Pinger
}

// Defaults for the relay sequence and reconnect policy.
const (
	DefaultRelayAttempts     = 5
	DefaultRelayTimeout      = 3 * time.Second
	DefaultDisconnectTimeout = 2 * time.Second
	MinReconnectTime         = 1000 * time.Millisecond
)

func (o *Options) applyDefaults() {
	if o.RelayAttempts <= 0 {
		o.RelayAttempts = DefaultRelayAttempts
	}
	if o.RelayTimeout <= 0 {
		o.RelayTimeout = DefaultRelayTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
}

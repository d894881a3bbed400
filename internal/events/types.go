// Package events defines the events the login flow publishes to its
// collaborators (shell, HTTP API, telemetry, profile store).
package events

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	// Login flow events
	EventLoginStepChanged     EventType = "login_step_changed"
	EventConnectionFailed     EventType = "connection_failed"
	EventLoginError           EventType = "login_error"
	EventServerListUpdated    EventType = "server_list_updated"
	EventCharacterListUpdated EventType = "character_list_updated"
	EventServerSelected       EventType = "server_selected"
	EventCharacterSelected    EventType = "character_selected"
	EventRelayed              EventType = "relayed"

	// Prober events
	EventPingSample EventType = "ping_sample"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// StepChangedPayload is emitted on every login step transition.
type StepChangedPayload struct {
	From string
	To   string
}

// ConnectionFailedPayload carries the transport error that ended a
// connection or connect attempt.
type ConnectionFailedPayload struct {
	Reason  string
	Code    int
	Attempt int
	Message string
}

// LoginErrorPayload carries a server error packet.
type LoginErrorPayload struct {
	PacketID byte
	Code     byte
	Message  string
}

// ServerListPayload summarizes a received server list.
type ServerListPayload struct {
	Count int
	Names []string
}

// CharacterListPayload carries the character names of the account.
type CharacterListPayload struct {
	Names  []string
	Cities int
}

// ServerSelectedPayload is emitted when a shard is chosen.
type ServerSelectedPayload struct {
	Account string
	Index   uint16
	Name    string
}

// CharacterSelectedPayload is emitted when a character enters the world.
type CharacterSelectedPayload struct {
	Account string
	Server  string
	Slot    int
	Name    string
}

// RelayedPayload is emitted after the game server connection is up.
type RelayedPayload struct {
	Address string
	Seed    uint32
}

// PingSamplePayload is one prober sample for a server list entry.
type PingSamplePayload struct {
	Server     string
	IP         string
	Reachable  bool
	LastMs     int64
	AverageMs  int64
	PacketLoss int
	Completed  bool
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}

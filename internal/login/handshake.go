package login

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/ping"
	"github.com/uolink-project/uolink/internal/protocol"
)

// Handshake is the login flow of one client. Public methods are meant to
// be called from the client tick; transport callbacks may arrive on other
// goroutines and are serialized with the same lock.
type Handshake struct {
	mu      sync.Mutex
	ctx     context.Context
	opts    Options
	factory TransportFactory
	bus     *events.Bus
	now     func() time.Time
	logger  zerolog.Logger

	step      Step
	transport Transport
	session   *crypt.Session

	account   string
	password  string
	loginIP   string
	loginPort uint16
	address   string

	servers      []*ServerListEntry
	serverIndex  uint16
	serverName   string
	characters   []string
	cities       []CityInfo
	charFlags    uint32
	haveCharList bool

	lastErr *ErrorInfo
	delay   *LoginDelay

	reconnecting bool
	attempt      int
	reconnectAt  time.Time
}

// NewHandshake creates a handshake in the Main step. bus may be nil.
func NewHandshake(ctx context.Context, factory TransportFactory, bus *events.Bus, opts Options) *Handshake {
	opts.applyDefaults()
	return &Handshake{
		ctx:     ctx,
		opts:    opts,
		factory: factory,
		bus:     bus,
		now:     time.Now,
		logger:  log.With().Str("component", "login").Logger(),
		step:    Main,
	}
}

// SetClock replaces the time source of the reconnect policy.
func (h *Handshake) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// SetReconnect toggles the reconnect policy.
func (h *Handshake) SetReconnect(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.Reconnect = enabled
	if !enabled {
		h.reconnectAt = time.Time{}
		h.reconnecting = false
	}
}

func (h *Handshake) emit(t events.EventType, payload interface{}) {
	h.bus.Emit(h.ctx, events.Event{Type: t, Source: "login", Payload: payload})
}

func (h *Handshake) setStepLocked(s Step) {
	if h.step == s {
		return
	}
	from := h.step
	h.step = s
	h.logger.Debug().Str("from", from.String()).Str("to", s.String()).Msg("login step changed")
	h.emit(events.EventLoginStepChanged, events.StepChangedPayload{From: from.String(), To: s.String()})
}

func (h *Handshake) newSessionLocked() *crypt.Session {
	return crypt.NewSession(h.opts.Version, h.opts.Encryption)
}

// Connect starts a login to ip:port. It is a no-op while a connect is
// already pending. Any previous transport is detached and closed first.
func (h *Handshake) Connect(account, password, ip string, port uint16) {
	h.mu.Lock()
	if h.step == Connecting || h.step == Disposed {
		h.mu.Unlock()
		return
	}

	old := h.transport
	if old != nil {
		old.Unsubscribe()
	}

	h.account, h.password = account, password
	h.loginIP, h.loginPort = ip, port
	h.address = net.JoinHostPort(ip, strconv.Itoa(int(port)))
	h.lastErr = nil

	t := h.factory()
	h.session = h.newSessionLocked()
	t.SetSession(h.session)
	t.Subscribe(observer{h: h, t: t})
	h.transport = t

	if !h.reconnecting {
		h.setStepLocked(Connecting)
	}
	address := h.address
	h.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	h.logger.Info().Str("account", account).Str("address", address).Msg("connecting to login server")
	if err := t.Connect(h.ctx, address); err != nil {
		h.logger.Error().Err(err).Msg("failed to start connect")
		h.onDisconnected(t, network.Classify(err))
	}
}

func (h *Handshake) onConnected(t Transport) {
	if fault, err := h.startLogin(t); err != nil {
		h.logger.Error().Err(err).Str("fault", fault.String()).Msg("login handshake failed")
		t.Fault(fault)
	}
}

// startLogin sends the seed and the account login on a fresh connection.
// On failure it returns the fault to close the transport with; the caller
// raises it after h.mu is released.
func (h *Handshake) startLogin(t Transport) (network.SocketError, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transport != t || h.step == Disposed {
		return network.Success, nil
	}
	h.setStepLocked(VerifyingAccount)

	seed := protocol.SeedFromIP(t.LocalIP())
	if seed == 0 {
		seed = rand.Uint32() | 1
	}
	if err := h.session.Initialize(true, seed); err != nil {
		return network.CipherError, fmt.Errorf("failed to initialize login cipher: %w", err)
	}
	h.logger.Debug().Str("seed", strconv.FormatUint(uint64(seed), 16)).Msg("login cipher initialized")

	var seedPkt []byte
	if h.opts.Version.AtLeast(protocol.VersionSeedPacket) {
		seedPkt = protocol.BuildSeed(seed, h.opts.Version)
	} else {
		seedPkt = protocol.BuildRawSeed(seed)
	}
	if err := t.SendRaw(seedPkt); err != nil {
		return sendFault(err), fmt.Errorf("failed to send seed: %w", err)
	}
	if err := t.Send(protocol.BuildFirstLogin(h.account, h.password)); err != nil {
		return sendFault(err), fmt.Errorf("failed to send account login: %w", err)
	}

	h.attempt = 0
	h.reconnecting = false
	h.reconnectAt = time.Time{}
	return network.Success, nil
}

// sendFault maps a send error to a disconnect reason that is never a clean
// close.
func sendFault(err error) network.SocketError {
	if reason := network.Classify(err); reason != network.Success {
		return reason
	}
	return network.ConnectionReset
}

func (h *Handshake) onDisconnected(t Transport, reason network.SocketError) {
	h.mu.Lock()
	if h.transport != t || h.step == Disposed {
		h.mu.Unlock()
		return
	}
	if h.step == CharacterCreation || reason == network.Success {
		h.mu.Unlock()
		return
	}

	h.disposeListsLocked()

	var msg string
	if h.opts.Reconnect {
		delay := max(h.opts.ReconnectTime, MinReconnectTime)
		h.reconnectAt = h.now().Add(delay)
		msg = "Reconnecting, attempt " + strconv.Itoa(h.attempt+1)
	} else {
		msg = "Connection lost (" + reason.String() + ")"
	}
	h.lastErr = &ErrorInfo{Message: msg}
	h.setStepLocked(PopUpMessage)
	attempt := h.attempt
	h.mu.Unlock()

	h.logger.Warn().Str("reason", reason.String()).Int("attempt", attempt).Msg("disconnected from server")
	h.emit(events.EventConnectionFailed, events.ConnectionFailedPayload{
		Reason:  reason.String(),
		Code:    int(reason),
		Attempt: attempt,
		Message: msg,
	})
}

// HandleReconnect re-runs Connect with the last credentials once the
// retry deadline has passed. It is polled every tick and reports whether
// a reconnect was started.
func (h *Handshake) HandleReconnect() bool {
	h.mu.Lock()
	if !h.opts.Reconnect || h.reconnectAt.IsZero() {
		h.mu.Unlock()
		return false
	}
	if h.transport != nil && h.transport.IsConnected() {
		h.mu.Unlock()
		return false
	}
	if h.step != Main && h.step != PopUpMessage {
		h.mu.Unlock()
		return false
	}
	if h.now().Before(h.reconnectAt) {
		h.mu.Unlock()
		return false
	}

	h.attempt++
	h.reconnecting = true
	h.reconnectAt = time.Time{}
	account, password, ip, port := h.account, h.password, h.loginIP, h.loginPort
	attempt := h.attempt
	h.mu.Unlock()

	h.logger.Info().Int("attempt", attempt).Msg("reconnecting")
	h.Connect(account, password, ip, port)
	return true
}

// ReconnectDeadline returns when the next reconnect fires, or the zero
// time when none is armed.
func (h *Handshake) ReconnectDeadline() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnectAt
}

// ReconnectAttempt returns the attempt counter shown to the user.
func (h *Handshake) ReconnectAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempt
}

// SelectServer picks a shard. It only acts in ServerSelection. An empty
// name is filled in from the server list.
func (h *Handshake) SelectServer(index uint16, name string) {
	h.mu.Lock()
	if h.step != ServerSelection || h.transport == nil {
		h.mu.Unlock()
		return
	}
	if name == "" {
		for _, e := range h.servers {
			if e.Index == index {
				name = e.Name
				break
			}
		}
	}

	h.serverIndex, h.serverName = index, name
	h.opts.LastServerName = name
	if err := h.transport.Send(protocol.BuildSelectServer(index)); err != nil {
		h.logger.Error().Err(err).Msg("failed to send server selection")
	}
	h.setStepLocked(LoginInToServer)
	account := h.account
	h.mu.Unlock()

	h.logger.Info().Uint16("index", index).Str("server", name).Msg("server selected")
	h.emit(events.EventServerSelected, events.ServerSelectedPayload{Account: account, Index: index, Name: name})
}

// SendSelectCharacter enters the world with the character in slot index.
func (h *Handshake) SendSelectCharacter(index int) {
	h.mu.Lock()
	if len(h.characters) == 0 || index < 0 || index >= len(h.characters) || h.transport == nil {
		h.mu.Unlock()
		return
	}
	name := h.characters[index]
	pkt := protocol.BuildSelectCharacter(uint32(index), name, h.opts.ClientFlags, h.transport.LocalIP())
	if err := h.transport.Send(pkt); err != nil {
		h.logger.Error().Err(err).Msg("failed to send character selection")
	}
	h.setStepLocked(EnteringWorld)
	payload := events.CharacterSelectedPayload{Account: h.account, Server: h.serverName, Slot: index, Name: name}
	h.mu.Unlock()

	h.logger.Info().Int("slot", index).Str("character", name).Msg("entering world")
	h.emit(events.EventCharacterSelected, payload)
}

// SendDeleteCharacter asks the server to delete the character in slot index.
func (h *Handshake) SendDeleteCharacter(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.characters) == 0 || index < 0 || index >= len(h.characters) || h.transport == nil {
		return
	}
	pkt := protocol.BuildDeleteCharacter(uint32(index), h.password, h.transport.LocalIP())
	if err := h.transport.Send(pkt); err != nil {
		h.logger.Error().Err(err).Msg("failed to send character deletion")
		return
	}
	h.logger.Info().Int("slot", index).Msg("character deletion requested")
}

// StartCharacterCreation enters the creation step from character selection.
func (h *Handshake) StartCharacterCreation() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.step == CharacterSelection {
		h.setStepLocked(CharacterCreation)
	}
}

// CancelCharacterCreation returns to character selection.
func (h *Handshake) CancelCharacterCreation() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.step == CharacterCreation {
		h.setStepLocked(CharacterSelection)
	}
}

// Disconnect closes the connection on purpose. The reconnect policy is
// disarmed and the flow returns to Main.
func (h *Handshake) Disconnect() {
	h.mu.Lock()
	if h.step == Disposed {
		h.mu.Unlock()
		return
	}
	t := h.transport
	h.reconnectAt = time.Time{}
	h.reconnecting = false
	h.disposeListsLocked()
	h.setStepLocked(Main)
	h.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
}

// Dispose tears the flow down for good.
func (h *Handshake) Dispose() {
	h.mu.Lock()
	if h.step == Disposed {
		h.mu.Unlock()
		return
	}
	t := h.transport
	h.transport = nil
	h.disposeListsLocked()
	h.lastErr = nil
	h.password = ""
	h.setStepLocked(Disposed)
	h.mu.Unlock()

	if t != nil {
		t.Unsubscribe()
		t.Disconnect()
	}
}

func (h *Handshake) disposeServersLocked() {
	for _, e := range h.servers {
		e.dispose()
	}
	h.servers = nil
}

func (h *Handshake) disposeListsLocked() {
	h.disposeServersLocked()
	h.characters = nil
	h.cities = nil
	h.charFlags = 0
	h.haveCharList = false
}

func (h *Handshake) attachProbeLocked(e *ServerListEntry) {
	if h.opts.Pinger == nil {
		return
	}
	name := e.Name
	e.probe = ping.NewProbe(e.IP(), h.opts.Pinger, func(s ping.Stats) {
		h.emit(events.EventPingSample, events.PingSamplePayload{
			Server:     name,
			IP:         s.IP,
			Reachable:  s.Reachable,
			LastMs:     s.LastMs,
			AverageMs:  s.AverageMs,
			PacketLoss: s.PacketLoss,
			Completed:  s.Completed,
		})
	})
}

// Step returns the current step.
func (h *Handshake) Step() Step {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

// Account returns the account name of the current login.
func (h *Handshake) Account() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.account
}

// Address returns the host:port of the current connection target.
func (h *Handshake) Address() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.address
}

// IsConnected reports whether the current transport is connected.
func (h *Handshake) IsConnected() bool {
	h.mu.Lock()
	t := h.transport
	h.mu.Unlock()
	return t != nil && t.IsConnected()
}

// Send writes an encrypted packet through the current transport. It is
// the only way for collaborators to reach the connection.
func (h *Handshake) Send(pkt []byte) error {
	h.mu.Lock()
	t := h.transport
	h.mu.Unlock()
	if t == nil {
		return network.ErrNotConnected
	}
	return t.Send(pkt)
}

// Servers returns the current server list.
func (h *Handshake) Servers() []*ServerListEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*ServerListEntry(nil), h.servers...)
}

// Probes returns the latency probes of the current server list.
func (h *Handshake) Probes() []*ping.Probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	probes := make([]*ping.Probe, 0, len(h.servers))
	for _, e := range h.servers {
		if e.probe != nil {
			probes = append(probes, e.probe)
		}
	}
	return probes
}

// ServerIndexByName looks a shard up by name, ignoring case.
func (h *Handshake) ServerIndexByName(name string) (uint16, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverIndexByNameLocked(name)
}

func (h *Handshake) serverIndexByNameLocked(name string) (uint16, bool) {
	for _, e := range h.servers {
		if strings.EqualFold(e.Name, name) {
			return e.Index, true
		}
	}
	return 0, false
}

// SelectedServer returns the index and name of the chosen shard.
func (h *Handshake) SelectedServer() (uint16, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverIndex, h.serverName
}

// Characters returns the character names by slot.
func (h *Handshake) Characters() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.characters...)
}

// CharacterListFlags returns the flags word of the character list.
func (h *Handshake) CharacterListFlags() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.charFlags
}

// Cities returns the starting locations.
func (h *Handshake) Cities() []CityInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CityInfo(nil), h.cities...)
}

// City returns the starting location at position index.
func (h *Handshake) City(index int) (CityInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.cities) {
		return CityInfo{}, false
	}
	return h.cities[index], true
}

// LastError returns the message of the last failure.
func (h *Handshake) LastError() (ErrorInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastErr == nil {
		return ErrorInfo{}, false
	}
	return *h.lastErr, true
}

// LoginDelay returns the advisory wait window, if the server sent one.
func (h *Handshake) LoginDelay() (LoginDelay, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.delay == nil {
		return LoginDelay{}, false
	}
	return *h.delay, true
}

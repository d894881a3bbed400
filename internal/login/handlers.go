package login

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/protocol"
)

// Handle consumes the login packets and reports whether pkt was one of
// them. Other opcodes are left to the caller. A malformed login packet
// faults the transport with ProtocolError.
func (h *Handshake) Handle(pkt []byte) bool {
	if len(pkt) == 0 {
		return false
	}

	var err error
	switch pkt[0] {
	case protocol.PktServerList:
		err = h.handleServerList(pkt)
	case protocol.PktRelay:
		err = h.handleRelay(pkt)
	case protocol.PktCharacterList:
		err = h.handleCharacterList(pkt)
	case protocol.PktUpdatedCharacterList:
		err = h.handleUpdatedCharacterList(pkt)
	case protocol.PktLoginError, protocol.PktDeleteResult, protocol.PktPopupMessage:
		err = h.handleLoginError(pkt)
	case protocol.PktLoginDelay:
		err = h.handleLoginDelay(pkt)
	default:
		return false
	}

	if err != nil {
		h.logger.Error().Err(err).Str("packet", fmt.Sprintf("0x%02X", pkt[0])).Msg("malformed login packet")
		h.mu.Lock()
		t := h.transport
		h.mu.Unlock()
		if t != nil {
			t.Fault(network.ProtocolError)
		}
	}
	return true
}

func (h *Handshake) handleServerList(pkt []byte) error {
	list, err := protocol.ParseServerList(pkt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.disposeServersLocked()
	names := make([]string, 0, len(list.Servers))
	h.servers = make([]*ServerListEntry, 0, len(list.Servers))
	for _, rec := range list.Servers {
		e := newServerListEntry(rec)
		h.attachProbeLocked(e)
		h.servers = append(h.servers, e)
		names = append(names, e.Name)
	}
	h.setStepLocked(ServerSelection)

	var autoIndex uint16
	auto := false
	if h.opts.AutoLogin && h.opts.LastServerName != "" {
		autoIndex, auto = h.serverIndexByNameLocked(h.opts.LastServerName)
	}
	autoName := h.opts.LastServerName
	h.mu.Unlock()

	h.logger.Info().Int("servers", len(names)).Msg("server list received")
	h.emit(events.EventServerListUpdated, events.ServerListPayload{Count: len(names), Names: names})

	if auto {
		h.logger.Info().Str("server", autoName).Msg("auto selecting last server")
		h.SelectServer(autoIndex, "")
	}
	return nil
}

func (h *Handshake) handleRelay(pkt []byte) error {
	relay, err := protocol.ParseRelay(pkt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.step == Disposed {
		h.mu.Unlock()
		return nil
	}
	host := relay.Address().String()
	port := relay.Port
	if h.opts.IgnoreRelayIP || relay.IP == 0 {
		host, port = h.loginIP, h.loginPort
	}
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	old := h.transport
	h.transport = nil
	if old != nil {
		old.Unsubscribe()
	}
	opts := h.opts
	account, password := h.account, h.password
	h.mu.Unlock()

	h.logger.Info().Str("address", address).Msg("relaying to game server")
	if old != nil && !old.DisconnectWait(opts.DisconnectTimeout) {
		h.logger.Warn().Msg("login connection did not close in time")
	}

	var (
		t       Transport
		session *crypt.Session
		lastErr error
	)
	for attempt := 1; attempt <= opts.RelayAttempts; attempt++ {
		if lastErr = h.ctx.Err(); lastErr != nil {
			break
		}
		candidate := h.factory()
		candidateSession := crypt.NewSession(opts.Version, opts.Encryption)
		candidate.SetSession(candidateSession)

		lastErr = candidate.ConnectSync(h.ctx, address, opts.RelayTimeout)
		if lastErr == nil {
			t, session = candidate, candidateSession
			break
		}
		h.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("relay connect failed")
	}

	h.mu.Lock()
	if h.step == Disposed || h.transport != nil {
		// Disposed or reconnected while relaying.
		h.mu.Unlock()
		if t != nil {
			t.Disconnect()
		}
		return nil
	}

	if t == nil {
		reason := network.Classify(lastErr)
		msg := "Could not connect to the game server (" + reason.String() + ")"
		h.lastErr = &ErrorInfo{Message: msg}
		if opts.Reconnect {
			h.reconnectAt = h.now().Add(max(opts.ReconnectTime, MinReconnectTime))
		}
		h.setStepLocked(PopUpMessage)
		h.mu.Unlock()

		h.logger.Error().Err(lastErr).Str("address", address).Msg("relay failed")
		h.emit(events.EventConnectionFailed, events.ConnectionFailedPayload{
			Reason:  reason.String(),
			Code:    int(reason),
			Attempt: opts.RelayAttempts,
			Message: msg,
		})
		return nil
	}

	h.transport = t
	h.session = session
	h.address = address
	t.Subscribe(observer{h: h, t: t})

	if err := session.Initialize(false, relay.Seed); err != nil {
		h.mu.Unlock()
		h.logger.Error().Err(err).Msg("failed to initialize game cipher")
		t.Fault(network.CipherError)
		return nil
	}
	session.EnableCompression()

	sendErr := t.SendRaw(protocol.BuildRawSeed(relay.Seed))
	if sendErr == nil {
		sendErr = t.Send(protocol.BuildSecondLogin(relay.Seed, account, password))
	}
	h.mu.Unlock()

	if sendErr != nil {
		h.logger.Error().Err(sendErr).Msg("failed to send game server login")
	} else {
		h.logger.Info().Str("address", address).Msg("connected to game server")
		h.emit(events.EventRelayed, events.RelayedPayload{Address: address, Seed: relay.Seed})
	}

	// The link may have dropped before the observer was attached.
	if !t.IsConnected() {
		h.onDisconnected(t, network.ConnectionReset)
	}
	return nil
}

func (h *Handshake) handleCharacterList(pkt []byte) error {
	h.mu.Lock()
	first := !h.haveCharList
	newFormat := h.opts.Version.AtLeast(protocol.VersionNewCities)
	h.mu.Unlock()

	list, err := protocol.ParseCharacterList(pkt, newFormat)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.characters = list.Names
	if first {
		h.cities = list.Cities
		h.charFlags = list.Flags
		h.haveCharList = true
	}
	h.setStepLocked(CharacterSelection)
	payload := events.CharacterListPayload{Names: list.Names, Cities: len(h.cities)}
	h.mu.Unlock()

	h.logger.Info().Int("characters", len(list.Names)).Int("cities", len(list.Cities)).Msg("character list received")
	h.emit(events.EventCharacterListUpdated, payload)
	return nil
}

func (h *Handshake) handleUpdatedCharacterList(pkt []byte) error {
	names, err := protocol.ParseUpdatedCharacterList(pkt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.characters = names
	if h.step != PopUpMessage {
		h.lastErr = nil
	}
	h.setStepLocked(CharacterSelection)
	payload := events.CharacterListPayload{Names: names, Cities: len(h.cities)}
	h.mu.Unlock()

	h.logger.Debug().Int("characters", len(names)).Msg("character list updated")
	h.emit(events.EventCharacterListUpdated, payload)
	return nil
}

func (h *Handshake) handleLoginError(pkt []byte) error {
	le, err := protocol.ParseLoginError(pkt)
	if err != nil {
		return err
	}

	info := ErrorInfo{PacketID: le.PacketID, Code: le.Code, Message: le.Message()}
	h.mu.Lock()
	h.lastErr = &info
	h.delay = nil
	h.setStepLocked(PopUpMessage)
	h.mu.Unlock()

	h.logger.Warn().Str("packet", fmt.Sprintf("0x%02X", le.PacketID)).Uint8("code", le.Code).Msg(info.Message)
	h.emit(events.EventLoginError, events.LoginErrorPayload{PacketID: le.PacketID, Code: le.Code, Message: info.Message})
	return nil
}

func (h *Handshake) handleLoginDelay(pkt []byte) error {
	minSec, maxSec, err := protocol.ParseLoginDelay(pkt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.delay = &LoginDelay{
		Min: time.Duration(minSec) * time.Second,
		Max: time.Duration(maxSec) * time.Second,
	}
	h.mu.Unlock()

	h.logger.Info().Int("min_seconds", minSec).Int("max_seconds", maxSec).Msg("login delayed by server")
	return nil
}

package login

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/protocol"
)

// fakeTransport records traffic and raises lifecycle callbacks only when
// the test asks for them.
type fakeTransport struct {
	mu          sync.Mutex
	observer    network.Observer
	session     *crypt.Session
	connected   bool
	address     string
	syncErr     error
	sendErr     error
	raw         [][]byte
	sent        [][]byte
	faults      []network.SocketError
	disconnects int
}

func (f *fakeTransport) Subscribe(o network.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = o
}

func (f *fakeTransport) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = nil
}

func (f *fakeTransport) SetSession(s *crypt.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeTransport) Connect(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.address = address
	return nil
}

func (f *fakeTransport) ConnectSync(_ context.Context, address string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.address = address
	if f.syncErr != nil {
		return f.syncErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SendRaw(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.raw = append(f.raw, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeTransport) DisconnectWait(time.Duration) bool {
	f.Disconnect()
	return true
}

func (f *fakeTransport) Fault(code network.SocketError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, code)
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) LocalIP() net.IP {
	return net.IPv4(10, 0, 0, 1)
}

// up marks the transport connected and raises OnConnected.
func (f *fakeTransport) up() {
	f.mu.Lock()
	f.connected = true
	o := f.observer
	f.mu.Unlock()
	if o != nil {
		o.OnConnected()
	}
}

// down marks the transport closed and raises OnDisconnected.
func (f *fakeTransport) down(reason network.SocketError) {
	f.mu.Lock()
	f.connected = false
	o := f.observer
	f.mu.Unlock()
	if o != nil {
		o.OnDisconnected(reason)
	}
}

func (f *fakeTransport) sentPackets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) rawPackets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.raw...)
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	syncErr    error
}

func (ff *fakeFactory) New() Transport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	t := &fakeTransport{syncErr: ff.syncErr}
	ff.transports = append(ff.transports, t)
	return t
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.transports)
}

func (ff *fakeFactory) get(i int) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.transports[i]
}

var testVersion = protocol.ClientVersion{Major: 7, Minor: 0, Revision: 15, Prototype: 1}

func newTestHandshake(t *testing.T, opts Options) (*Handshake, *fakeFactory) {
	t.Helper()
	if opts.Version == (protocol.ClientVersion{}) {
		opts.Version = testVersion
	}
	ff := &fakeFactory{}
	h := NewHandshake(context.Background(), ff.New, nil, opts)
	t.Cleanup(h.Dispose)
	return h, ff
}

func serverListPacket(names ...string) []byte {
	b := protocol.NewVariablePacketBuilder(protocol.PktServerList).
		WriteByte(0x5D).
		WriteUint16(uint16(len(names)))
	for i, name := range names {
		b.WriteUint16(uint16(i)).
			WriteASCII(name, protocol.ServerNameSize).
			WriteByte(10).
			WriteByte(0).
			WriteBytes([]byte{byte(i + 1), 0, 0, 127})
	}
	return b.Build()
}

func relayPacket(ip [4]byte, port uint16, seed uint32) []byte {
	return protocol.NewPacketBuilder(protocol.PktRelay).
		WriteBytes(ip[:]).
		WriteUint16(port).
		WriteUint32(seed).
		Build()
}

func characterListPacket(names ...string) []byte {
	b := protocol.NewVariablePacketBuilder(protocol.PktCharacterList).
		WriteByte(byte(len(names)))
	for _, name := range names {
		b.WriteASCII(name, protocol.CharacterNameSize)
	}
	b.WriteByte(1).
		WriteByte(0).
		WriteASCII("New Haven", protocol.NewCityNameSize).
		WriteASCII("The Bountiful Harvest Inn", protocol.NewCityNameSize).
		WriteUint32(3503).
		WriteUint32(2574).
		WriteUint32(14).
		WriteUint32(1).
		WriteUint32(1150168).
		WriteZero(4).
		WriteUint32(0x1A8)
	return b.Build()
}

// loggedIn drives a handshake through connect so it is ready for the
// server list.
func loggedIn(t *testing.T, opts Options) (*Handshake, *fakeFactory, *fakeTransport) {
	t.Helper()
	h, ff := newTestHandshake(t, opts)
	h.Connect("account", "secret", "127.0.0.1", 2593)
	require.Equal(t, 1, ff.count())
	ft := ff.get(0)
	ft.up()
	return h, ff, ft
}

func TestConnectSendsSeedThenAccountLogin(t *testing.T) {
	h, ff := newTestHandshake(t, Options{Encryption: true})

	h.Connect("account", "secret", "127.0.0.1", 2593)
	assert.Equal(t, Connecting, h.Step())

	ft := ff.get(0)
	assert.Equal(t, "127.0.0.1:2593", ft.address)
	ft.up()

	assert.Equal(t, VerifyingAccount, h.Step())
	raw := ft.rawPackets()
	require.Len(t, raw, 1)
	assert.Equal(t, protocol.BuildSeed(0x0A000001, testVersion), raw[0])

	sent := ft.sentPackets()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.BuildFirstLogin("account", "secret"), sent[0])

	assert.Equal(t, crypt.ModeLogin, ft.session.Mode())
}

func TestConnectFaultsTransportWhenCipherFails(t *testing.T) {
	h, ff := newTestHandshake(t, Options{Encryption: true})
	h.Connect("account", "secret", "127.0.0.1", 2593)
	ft := ff.get(0)
	require.NoError(t, ft.session.Initialize(true, 1))

	ft.up()

	assert.Equal(t, []network.SocketError{network.CipherError}, ft.faults)
	assert.Empty(t, ft.rawPackets())
	assert.Empty(t, ft.sentPackets())
}

func TestConnectFaultsTransportWhenSeedSendFails(t *testing.T) {
	h, ff := newTestHandshake(t, Options{})
	h.Connect("account", "secret", "127.0.0.1", 2593)
	ft := ff.get(0)
	ft.sendErr = net.ErrClosed

	ft.up()

	assert.Equal(t, []network.SocketError{network.ConnectionReset}, ft.faults)
	assert.Empty(t, ft.sentPackets())
}

func TestConnectOldClientSendsRawSeed(t *testing.T) {
	h, ff := newTestHandshake(t, Options{Version: protocol.ClientVersion{Major: 5, Minor: 0, Revision: 9}})
	h.Connect("account", "secret", "127.0.0.1", 2593)
	ff.get(0).up()

	raw := ff.get(0).rawPackets()
	require.Len(t, raw, 1)
	assert.Equal(t, protocol.BuildRawSeed(0x0A000001), raw[0])
}

func TestConnectIgnoredWhileConnecting(t *testing.T) {
	h, ff := newTestHandshake(t, Options{})
	h.Connect("account", "secret", "127.0.0.1", 2593)
	h.Connect("account", "secret", "127.0.0.1", 2593)
	assert.Equal(t, 1, ff.count())
}

func TestServerListEntersServerSelection(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})

	require.True(t, h.Handle(serverListPacket("Atlantic", "Pacific")))
	assert.Equal(t, ServerSelection, h.Step())

	servers := h.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "Atlantic", servers[0].Name)
	assert.Equal(t, "127.0.0.1", servers[0].IP().String())
	assert.Equal(t, "127.0.0.2", servers[1].IP().String())

	idx, ok := h.ServerIndexByName("pacific")
	assert.True(t, ok)
	assert.Equal(t, uint16(1), idx)
	_, ok = h.ServerIndexByName("Europa")
	assert.False(t, ok)
}

func TestSelectServerOutsideServerSelectionIsIgnored(t *testing.T) {
	h, ff := newTestHandshake(t, Options{})
	h.SelectServer(0, "Atlantic")
	assert.Equal(t, Main, h.Step())
	assert.Zero(t, ff.count())
}

func TestSelectServerSendsIndex(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})
	h.Handle(serverListPacket("Atlantic", "Pacific"))

	h.SelectServer(1, "")
	assert.Equal(t, LoginInToServer, h.Step())
	idx, name := h.SelectedServer()
	assert.Equal(t, uint16(1), idx)
	assert.Equal(t, "Pacific", name)

	sent := ft.sentPackets()
	assert.Equal(t, protocol.BuildSelectServer(1), sent[len(sent)-1])
}

func TestAutoLoginSelectsLastServer(t *testing.T) {
	h, _, ft := loggedIn(t, Options{AutoLogin: true, LastServerName: "PACIFIC"})
	h.Handle(serverListPacket("Atlantic", "Pacific"))

	assert.Equal(t, LoginInToServer, h.Step())
	sent := ft.sentPackets()
	assert.Equal(t, protocol.BuildSelectServer(1), sent[len(sent)-1])
}

func TestRelayWithZeroAddressUsesLoginServer(t *testing.T) {
	h, ff, login := loggedIn(t, Options{Encryption: true})
	h.Handle(serverListPacket("Atlantic"))
	h.SelectServer(0, "")

	require.True(t, h.Handle(relayPacket([4]byte{}, 5000, 0xCAFEBABE)))

	require.Equal(t, 2, ff.count())
	game := ff.get(1)
	assert.Equal(t, "127.0.0.1:2593", game.address)
	assert.Equal(t, "127.0.0.1:2593", h.Address())
	assert.Equal(t, 1, login.disconnects)
	assert.Nil(t, login.observer)

	raw := game.rawPackets()
	require.Len(t, raw, 1)
	assert.Equal(t, protocol.BuildRawSeed(0xCAFEBABE), raw[0])
	sent := game.sentPackets()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.BuildSecondLogin(0xCAFEBABE, "account", "secret"), sent[0])

	assert.Equal(t, crypt.ModeGame, game.session.Mode())
	assert.True(t, game.session.Compressed())
	assert.NotNil(t, game.observer)
	assert.True(t, h.IsConnected())
}

func TestRelayAddressIsLeastSignificantByteFirst(t *testing.T) {
	h, ff, _ := loggedIn(t, Options{})
	h.Handle(relayPacket([4]byte{192, 168, 1, 20}, 5000, 1))
	assert.Equal(t, "192.168.1.20:5000", ff.get(1).address)
	assert.Equal(t, "192.168.1.20:5000", h.Address())
}

func TestReconnectAfterRelayTargetsLoginServer(t *testing.T) {
	h, ff, _ := loggedIn(t, Options{Reconnect: true})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return now })

	h.Handle(relayPacket([4]byte{192, 168, 1, 20}, 5000, 1))
	require.Equal(t, "192.168.1.20:5000", h.Address())

	ff.get(1).down(network.ConnectionReset)
	now = now.Add(2 * time.Second)
	require.True(t, h.HandleReconnect())

	require.Equal(t, 3, ff.count())
	assert.Equal(t, "127.0.0.1:2593", ff.get(2).address)
	assert.Equal(t, "127.0.0.1:2593", h.Address())
}

func TestRelayIgnoreRelayIP(t *testing.T) {
	h, ff, _ := loggedIn(t, Options{IgnoreRelayIP: true})
	h.Handle(relayPacket([4]byte{192, 168, 1, 20}, 5000, 1))
	assert.Equal(t, "127.0.0.1:2593", ff.get(1).address)
}

func TestRelayGivesUpAfterAttempts(t *testing.T) {
	h, ff, _ := loggedIn(t, Options{RelayAttempts: 3})
	ff.syncErr = &net.OpError{Op: "dial", Err: assert.AnError}

	h.Handle(relayPacket([4]byte{127, 0, 0, 1}, 5000, 1))

	assert.Equal(t, 4, ff.count())
	assert.Equal(t, PopUpMessage, h.Step())
	info, ok := h.LastError()
	require.True(t, ok)
	assert.Contains(t, info.Message, "game server")
}

func TestReconnectWaitsAtLeastOneSecond(t *testing.T) {
	h, ff, ft := loggedIn(t, Options{Reconnect: true, ReconnectTime: 500 * time.Millisecond})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return now })

	ft.down(network.ConnectionReset)
	assert.Equal(t, PopUpMessage, h.Step())
	assert.Equal(t, now.Add(time.Second), h.ReconnectDeadline())
	info, _ := h.LastError()
	assert.Equal(t, "Reconnecting, attempt 1", info.Message)

	now = now.Add(999 * time.Millisecond)
	assert.False(t, h.HandleReconnect())
	assert.Equal(t, 1, ff.count())

	now = now.Add(time.Millisecond)
	assert.True(t, h.HandleReconnect())
	assert.Equal(t, 1, h.ReconnectAttempt())
	require.Equal(t, 2, ff.count())
	assert.Equal(t, "127.0.0.1:2593", ff.get(1).address)
	assert.True(t, h.ReconnectDeadline().IsZero())

	ff.get(1).up()
	assert.Equal(t, VerifyingAccount, h.Step())
	assert.Zero(t, h.ReconnectAttempt())
}

func TestDisconnectWithoutReconnect(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})
	h.Handle(serverListPacket("Atlantic"))

	ft.down(network.ConnectionReset)
	assert.Equal(t, PopUpMessage, h.Step())
	assert.Empty(t, h.Servers())
	assert.True(t, h.ReconnectDeadline().IsZero())
	assert.False(t, h.HandleReconnect())
}

func TestCleanDisconnectIsNotAFailure(t *testing.T) {
	h, _, ft := loggedIn(t, Options{Reconnect: true})
	ft.down(network.Success)
	assert.Equal(t, VerifyingAccount, h.Step())
	assert.True(t, h.ReconnectDeadline().IsZero())
}

func TestStaleTransportCallbacksIgnored(t *testing.T) {
	h, ff, first := loggedIn(t, Options{})
	h.Handle(relayPacket([4]byte{127, 0, 0, 1}, 5000, 1))
	require.Equal(t, 2, ff.count())

	first.mu.Lock()
	first.observer = observer{h: h, t: first}
	first.mu.Unlock()
	first.down(network.ConnectionReset)

	assert.Equal(t, VerifyingAccount, h.Step())
}

func TestLoginErrorEntersPopUp(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})

	require.True(t, h.Handle([]byte{protocol.PktLoginError, 0x03}))
	assert.Equal(t, PopUpMessage, h.Step())

	info, ok := h.LastError()
	require.True(t, ok)
	assert.Equal(t, byte(0x82), info.PacketID)
	assert.Equal(t, byte(0x03), info.Code)
	assert.Equal(t, protocol.LoginError{PacketID: 0x82, Code: 0x03}.Message(), info.Message)
}

func TestLoginDelay(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})
	require.True(t, h.Handle([]byte{protocol.PktLoginDelay, 3}))

	d, ok := h.LoginDelay()
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, d.Min)
	assert.Equal(t, 30*time.Second, d.Max)

	h.Handle([]byte{protocol.PktPopupMessage, 1})
	_, ok = h.LoginDelay()
	assert.False(t, ok)
}

func TestCharacterListAndSelection(t *testing.T) {
	h, _, ft := loggedIn(t, Options{ClientFlags: 0x1F})

	require.True(t, h.Handle(characterListPacket("Alice", "", "Bob")))
	assert.Equal(t, CharacterSelection, h.Step())
	assert.Equal(t, []string{"Alice", "", "Bob"}, h.Characters())
	assert.Equal(t, uint32(0x1A8), h.CharacterListFlags())

	city, ok := h.City(0)
	require.True(t, ok)
	assert.Equal(t, "New Haven", city.Name)
	assert.Equal(t, uint16(3503), city.X)
	_, ok = h.City(1)
	assert.False(t, ok)

	h.SendSelectCharacter(2)
	assert.Equal(t, EnteringWorld, h.Step())
	sent := ft.sentPackets()
	assert.Equal(t, protocol.BuildSelectCharacter(2, "Bob", 0x1F, ft.LocalIP()), sent[len(sent)-1])
}

func TestCharacterListKeepsFirstCities(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})
	h.Handle(characterListPacket("Alice"))

	second := characterListPacket("Alice", "Bob")
	h.Handle(second)
	assert.Equal(t, []string{"Alice", "Bob"}, h.Characters())
	assert.Len(t, h.Cities(), 1)
}

func TestUpdatedCharacterList(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})
	h.Handle(characterListPacket("Alice", "Bob"))

	pkt := protocol.NewVariablePacketBuilder(protocol.PktUpdatedCharacterList).
		WriteByte(1).
		WriteASCII("Alice", protocol.CharacterNameSize).
		Build()
	require.True(t, h.Handle(pkt))
	assert.Equal(t, []string{"Alice"}, h.Characters())
	assert.Equal(t, CharacterSelection, h.Step())
}

func TestSelectCharacterRequiresValidSlot(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})
	before := len(ft.sentPackets())

	h.SendSelectCharacter(0)
	h.SendDeleteCharacter(0)
	assert.Len(t, ft.sentPackets(), before)

	h.Handle(characterListPacket("Alice"))
	h.SendSelectCharacter(5)
	h.SendSelectCharacter(-1)
	assert.Len(t, ft.sentPackets(), before)
	assert.Equal(t, CharacterSelection, h.Step())
}

func TestDeleteCharacterSendsPassword(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})
	h.Handle(characterListPacket("Alice"))

	h.SendDeleteCharacter(0)
	sent := ft.sentPackets()
	assert.Equal(t, protocol.BuildDeleteCharacter(0, "secret", ft.LocalIP()), sent[len(sent)-1])
}

func TestMalformedPacketFaultsTransport(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})

	require.True(t, h.Handle([]byte{protocol.PktServerList, 0x00, 0x05, 0x00}))
	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, []network.SocketError{network.ProtocolError}, ft.faults)
}

func TestHandleLeavesOtherPackets(t *testing.T) {
	h, _, _ := loggedIn(t, Options{})
	assert.False(t, h.Handle([]byte{protocol.PktLoginComplete}))
	assert.False(t, h.Handle(nil))
}

func TestCharacterCreationSuppressesDisconnect(t *testing.T) {
	h, _, ft := loggedIn(t, Options{Reconnect: true})
	h.Handle(characterListPacket("Alice"))

	h.StartCharacterCreation()
	require.Equal(t, CharacterCreation, h.Step())
	ft.down(network.ConnectionReset)
	assert.Equal(t, CharacterCreation, h.Step())

	h.CancelCharacterCreation()
	assert.Equal(t, CharacterSelection, h.Step())
}

func TestStepEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Stop()

	var (
		mu    sync.Mutex
		steps []string
	)
	bus.Subscribe(events.EventLoginStepChanged, "test", func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, ev.Payload.(events.StepChangedPayload).To)
		return nil
	})

	ff := &fakeFactory{}
	h := NewHandshake(context.Background(), ff.New, bus, Options{Version: testVersion})
	h.Connect("account", "secret", "127.0.0.1", 2593)
	ff.get(0).up()
	h.Handle(serverListPacket("Atlantic"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(steps) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"connecting", "verifying_account", "server_selection"}, steps)
}

func TestDisposeClosesTransport(t *testing.T) {
	h, _, ft := loggedIn(t, Options{})
	h.Dispose()

	assert.Equal(t, Disposed, h.Step())
	assert.Equal(t, 1, ft.disconnects)
	h.Connect("account", "secret", "127.0.0.1", 2593)
	assert.Equal(t, Disposed, h.Step())
}

package cli

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uolink-project/uolink/internal/client"
	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/login"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/protocol"
)

type stubTransport struct {
	mu        sync.Mutex
	observer  network.Observer
	connected bool
	address   string
	sent      [][]byte
}

func (s *stubTransport) Subscribe(o network.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

func (s *stubTransport) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = nil
}

func (s *stubTransport) SetSession(*crypt.Session) {}

func (s *stubTransport) Connect(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	return nil
}

func (s *stubTransport) ConnectSync(context.Context, string, time.Duration) error { return nil }

func (s *stubTransport) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *stubTransport) SendRaw([]byte) error { return nil }

func (s *stubTransport) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *stubTransport) DisconnectWait(time.Duration) bool {
	s.Disconnect()
	return true
}

func (s *stubTransport) Fault(network.SocketError) {}

func (s *stubTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubTransport) LocalIP() net.IP { return net.IPv4(10, 0, 0, 1) }

func (s *stubTransport) up() {
	s.mu.Lock()
	s.connected = true
	o := s.observer
	s.mu.Unlock()
	o.OnConnected()
}

func (s *stubTransport) lastSent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func (s *stubTransport) dialed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

type fixture struct {
	cli       *CLI
	cfg       *config.Config
	bus       *events.Bus
	client    *client.Client
	queue     *network.PacketQueue
	transport *stubTransport
	out       *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.Login.Username = "player"
	cfg.Login.IP = "192.168.1.5"

	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	f := &fixture{
		cfg:       cfg,
		bus:       bus,
		queue:     network.NewPacketQueue(0),
		transport: &stubTransport{},
		out:       &bytes.Buffer{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := login.NewHandshake(ctx, func() login.Transport { return f.transport }, bus,
		login.Options{Version: protocol.ClientVersion{Major: 7}})
	t.Cleanup(h.Dispose)

	f.client = client.New(h, f.queue, network.NewStatistics(), client.Options{TickInterval: time.Millisecond})
	go f.client.Run(ctx)

	f.cli = NewCLI(cfg, bus, f.client, strings.NewReader(""), f.out)
	return f
}

func (f *fixture) exec(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	parts := strings.Fields(line)
	f.cli.execute(context.Background(), parts[0], parts[1:])
	return f.out.String()
}

func (f *fixture) waitStep(t *testing.T, step login.Step) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.client.Handshake().Step() == step
	}, 2*time.Second, time.Millisecond, "waiting for %s", step)
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

func characterListPacket(names ...string) []byte {
	b := protocol.NewVariablePacketBuilder(protocol.PktCharacterList).WriteByte(byte(len(names)))
	for _, n := range names {
		b.WriteASCII(n, protocol.CharacterNameSize)
	}
	return b.WriteByte(0).Build()
}

func TestHelpAndUnknown(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.exec(t, "help"), "select <idx|name>")
	assert.Contains(t, f.exec(t, "frobnicate"), "Unknown command")
}

func TestShellLoginFlow(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.exec(t, "connect"), "Connecting to 192.168.1.5:2593 as player")
	assert.Equal(t, "192.168.1.5:2593", f.transport.dialed())
	f.transport.up()
	f.waitStep(t, login.VerifyingAccount)

	assert.Contains(t, f.exec(t, "select 0"), "not allowed")
	assert.Contains(t, f.exec(t, "servers"), "No server list")

	require.NoError(t, f.queue.Push(nil, serverListPacket("Atlantic", "Great Lakes")))
	f.waitStep(t, login.ServerSelection)

	out := f.exec(t, "servers")
	assert.Contains(t, out, "Atlantic")
	assert.Contains(t, out, "Great Lakes")

	assert.Contains(t, f.exec(t, "select nowhere"), "server not found")
	assert.Contains(t, f.exec(t, "select great lakes"), "Selected Great Lakes")
	assert.Equal(t, protocol.BuildSelectServer(1), f.transport.lastSent())

	require.NoError(t, f.queue.Push(nil, characterListPacket("Alice", "")))
	f.waitStep(t, login.CharacterSelection)

	out = f.exec(t, "chars")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "<empty>")

	assert.Contains(t, f.exec(t, "play 1"), "slot 1 is empty")
	assert.Contains(t, f.exec(t, "play x"), "invalid slot")
	assert.Contains(t, f.exec(t, "play 0"), "Entering world as Alice")
	assert.Equal(t, login.EnteringWorld, f.client.Handshake().Step())

	assert.Contains(t, f.exec(t, "status"), "entering_world")
	assert.Contains(t, f.exec(t, "disconnect"), "Disconnected")
	assert.Equal(t, login.Main, f.client.Handshake().Step())
}

func TestConnectWithCredentials(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.exec(t, "connect other pw"), "as other")
	assert.Equal(t, "other", f.client.Handshake().Account())
	assert.Contains(t, f.exec(t, "connect onlyuser"), "usage")
}

func TestReconnectToggle(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.exec(t, "reconnect on"), "Reconnect on")
	assert.True(t, f.cfg.GetReconnect().Enabled)
	assert.Contains(t, f.exec(t, "reconnect maybe"), "usage")
}

func TestSetConfig(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.exec(t, "setconfig network.packets_per_tick 40"), "Config updated")
	assert.Equal(t, 40, f.cfg.GetNetwork().PacketsPerTick)

	assert.Contains(t, f.exec(t, "setconfig network.packets_per_tick 0"), "Error")
	assert.Equal(t, 40, f.cfg.GetNetwork().PacketsPerTick)

	assert.Contains(t, f.exec(t, "setconfig login.client_version 7.0.20.0"), "Config updated")
	assert.Equal(t, "7.0.20.0", f.cfg.GetLogin().ClientVersion)

	assert.Contains(t, f.exec(t, "setconfig nodot 1"), "section.key")
}

func TestStartQuitEmitsShutdown(t *testing.T) {
	f := newFixture(t)

	shutdown := make(chan struct{}, 1)
	f.bus.Subscribe(events.EventShutdown, "test", func(context.Context, events.Event) error {
		shutdown <- struct{}{}
		return nil
	})

	f.cli.in = strings.NewReader("help\n\nquit\nstatus\n")
	done := make(chan struct{})
	go func() {
		f.cli.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not exit on quit")
	}
	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not delivered")
	}
}

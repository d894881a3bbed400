package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/login"
	"github.com/uolink-project/uolink/internal/network"
	"github.com/uolink-project/uolink/internal/protocol"
)

type stubTransport struct {
	mu        sync.Mutex
	observer  network.Observer
	connected bool
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

func (s *stubTransport) Connect(context.Context, string) error { return nil }

func (s *stubTransport) ConnectSync(context.Context, string, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

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

type fixture struct {
	client    *Client
	queue     *network.PacketQueue
	stats     *network.Statistics
	transport *stubTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:     network.NewPacketQueue(0),
		stats:     network.NewStatistics(),
		transport: &stubTransport{},
	}
	h := login.NewHandshake(context.Background(), func() login.Transport { return f.transport }, nil,
		login.Options{Version: protocol.ClientVersion{Major: 7}})
	t.Cleanup(h.Dispose)
	f.client = New(h, f.queue, f.stats, Options{})
	return f
}

func (f *fixture) push(t *testing.T, pkt []byte) {
	t.Helper()
	require.NoError(t, f.queue.Push(nil, pkt))
}

func characterList(names ...string) []byte {
	b := protocol.NewVariablePacketBuilder(protocol.PktCharacterList).WriteByte(byte(len(names)))
	for _, n := range names {
		b.WriteASCII(n, protocol.CharacterNameSize)
	}
	return b.WriteByte(0).Build()
}

func TestTickDrainsAtMostPacketsPerTick(t *testing.T) {
	f := newFixture(t)
	var handled atomic.Int32
	f.client.Dispatcher().Register(protocol.PktLoginComplete, "count", func([]byte) { handled.Add(1) })

	for i := 0; i < 100; i++ {
		f.push(t, []byte{protocol.PktLoginComplete})
	}

	assert.Equal(t, 25, f.client.Tick())
	assert.Equal(t, 75, f.queue.Len())

	for i := 0; i < 3; i++ {
		f.client.Tick()
	}
	assert.Zero(t, f.queue.Len())
	assert.Equal(t, int32(100), handled.Load())
	assert.Equal(t, uint64(100), f.client.Status().Processed)
}

func TestHandshakePacketsBypassDispatcher(t *testing.T) {
	f := newFixture(t)
	var called atomic.Bool
	f.client.Dispatcher().Register(protocol.PktCharacterList, "spy", func([]byte) { called.Store(true) })

	require.NoError(t, f.client.Post(func(h *login.Handshake) {
		h.Connect("account", "secret", "127.0.0.1", 2593)
	}))
	f.client.Tick()
	f.transport.up()

	f.push(t, characterList("Alice"))
	f.client.Tick()

	assert.Equal(t, login.CharacterSelection, f.client.Handshake().Step())
	assert.False(t, called.Load())
}

func TestExecWaitsForTick(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.client.Exec(ctx, func(h *login.Handshake) {
			h.Connect("account", "secret", "127.0.0.1", 2593)
		})
	}()

	require.Eventually(t, func() bool {
		f.client.Tick()
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, login.Connecting, f.client.Handshake().Step())
}

func TestExecHonorsContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.client.Exec(ctx, func(*login.Handshake) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostFailsWhenFull(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < DefaultMailboxSize; i++ {
		require.NoError(t, f.client.Post(func(*login.Handshake) {}))
	}
	assert.ErrorIs(t, f.client.Post(func(*login.Handshake) {}), ErrMailboxFull)
}

func TestCommandPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	var ran atomic.Bool
	require.NoError(t, f.client.Post(func(*login.Handshake) { panic("boom") }))
	require.NoError(t, f.client.Post(func(*login.Handshake) { ran.Store(true) }))

	assert.NotPanics(t, func() { f.client.Tick() })
	assert.True(t, ran.Load())
}

func TestKeepAlivePingUpdatesRTT(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.client.now = func() time.Time { return now }

	require.NoError(t, f.client.Post(func(h *login.Handshake) { h.Connect("account", "secret", "127.0.0.1", 2593) }))
	f.client.Tick()
	f.transport.up()
	f.push(t, characterList("Alice"))
	f.client.Tick()
	require.Equal(t, login.CharacterSelection, f.client.Handshake().Step())

	now = now.Add(DefaultKeepAlive)
	f.client.Tick()
	assert.Equal(t, protocol.BuildPing(1), f.transport.lastSent())

	now = now.Add(40 * time.Millisecond)
	f.push(t, []byte{protocol.PktPing, 2})
	f.client.Tick()
	assert.Zero(t, f.stats.Ping(), "mismatched sequence is ignored")

	f.push(t, []byte{protocol.PktPing, 1})
	f.client.Tick()
	assert.Equal(t, 40*time.Millisecond, f.stats.Ping())
}

func TestDispatcherRecoversAndUnregisters(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	var calls atomic.Int32
	d.Register(0x1B, "bad", func([]byte) { panic("boom") })
	d.Register(0x1B, "good", func([]byte) { calls.Add(1) })

	assert.NotPanics(t, func() { assert.True(t, d.Dispatch([]byte{0x1B})) })
	assert.Equal(t, int32(1), calls.Load())

	d.Unregister(0x1B, "good")
	d.Unregister(0x1B, "bad")
	assert.False(t, d.Dispatch([]byte{0x1B}))
	assert.False(t, d.Dispatch(nil))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.client.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.client.Status().Ticks > 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client loop did not stop")
	}
}

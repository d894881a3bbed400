// Package network implements the TCP transport of the client: one
// connection at a time, a framed receive loop feeding a PacketQueue and an
// ordered, encrypted send path.
package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/protocol"
)

const (
	readBufferSize   = 64 * 1024
	sendQueueSize    = 256
	defaultWriteTime = 10 * time.Second
	defaultDialTime  = 10 * time.Second
)

// State is the connection state of a Socket.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Observer receives connection lifecycle callbacks. Callbacks run on
// transport goroutines, never while the socket lock is held.
type Observer interface {
	OnConnected()
	OnDisconnected(reason SocketError)
}

// DialFunc opens the underlying stream connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a Socket.
type Option func(*Socket)

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(s *Socket) { s.dial = dial }
}

// WithConnectTimeout bounds asynchronous connects.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithWriteTimeout bounds each write on the connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithStatistics shares a statistics collector between sockets.
func WithStatistics(stats *Statistics) Option {
	return func(s *Socket) { s.stats = stats }
}

// link is one physical connection and its goroutines.
type link struct {
	conn    net.Conn
	session *crypt.Session
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// shutdown closes the connection. It reports true for the first caller,
// which owns the disconnect notification.
func (l *link) shutdown() bool {
	first := false
	l.once.Do(func() {
		first = true
		close(l.done)
		l.conn.Close()
	})
	return first
}

// Socket manages a single TCP connection to a login or game server.
type Socket struct {
	mu             sync.Mutex
	state          State
	link           *link
	cancelDial     context.CancelFunc
	attempt        uint64
	observer       Observer
	session        *crypt.Session
	queue          *PacketQueue
	stats          *Statistics
	dial           DialFunc
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         zerolog.Logger
}

// NewSocket creates a disconnected socket that pushes received packets
// into queue.
func NewSocket(queue *PacketQueue, opts ...Option) *Socket {
	s := &Socket{
		queue:          queue,
		stats:          NewStatistics(),
		connectTimeout: defaultDialTime,
		writeTimeout:   defaultWriteTime,
		logger:         log.With().Str("component", "socket").Logger(),
	}
	d := &net.Dialer{}
	s.dial = d.DialContext
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe sets the lifecycle observer, replacing any previous one.
func (s *Socket) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Unsubscribe removes the observer. Later lifecycle events are dropped.
func (s *Socket) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = nil
}

// SetSession sets the cipher session used by the next connection.
func (s *Socket) SetSession(session *crypt.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// Session returns the cipher session.
func (s *Socket) Session() *crypt.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Statistics returns the traffic counters.
func (s *Socket) Statistics() *Statistics {
	return s.stats
}

// State returns the connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether a connection is established.
func (s *Socket) IsConnected() bool {
	return s.State() == StateConnected
}

// LocalIP returns the local address of the live connection, or nil.
func (s *Socket) LocalIP() net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	if addr, ok := s.link.conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// Connect starts connecting to address in the background. The observer
// receives OnConnected on success or OnDisconnected with the failure
// reason.
func (s *Socket) Connect(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.session == nil {
		s.mu.Unlock()
		return fmt.Errorf("no cipher session set")
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	s.attempt++
	attempt := s.attempt
	s.state = StateConnecting
	s.cancelDial = cancel
	s.mu.Unlock()

	s.logger.Info().Str("address", address).Msg("connecting")

	go func() {
		defer cancel()

		conn, err := s.dial(dialCtx, "tcp", address)
		if err != nil {
			s.mu.Lock()
			current := s.attempt == attempt && s.state == StateConnecting
			if current {
				s.state = StateDisconnected
				s.cancelDial = nil
			}
			observer := s.observer
			s.mu.Unlock()

			if !current {
				return
			}
			reason := Classify(err)
			s.logger.Warn().Err(err).Str("address", address).Str("reason", reason.String()).Msg("connect failed")
			if observer != nil {
				observer.OnDisconnected(reason)
			}
			return
		}

		l, observer := s.attach(conn, attempt)
		if l == nil {
			conn.Close()
			return
		}
		if observer != nil {
			observer.OnConnected()
		}
		s.start(l)
	}()

	return nil
}

// ConnectSync connects to address and waits up to timeout. It raises no
// observer callbacks; the caller learns the outcome from the error.
func (s *Socket) ConnectSync(ctx context.Context, address string, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.session == nil {
		s.mu.Unlock()
		return fmt.Errorf("no cipher session set")
	}
	s.attempt++
	attempt := s.attempt
	s.state = StateConnecting
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", address)
	if err != nil {
		s.mu.Lock()
		if s.attempt == attempt && s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	l, _ := s.attach(conn, attempt)
	if l == nil {
		conn.Close()
		return fmt.Errorf("connect to %s aborted", address)
	}
	s.start(l)
	return nil
}

// attach installs conn as the live connection if attempt is still the
// pending one. The loops are started separately by start, so packets can
// be queued for sending before any reader runs.
func (s *Socket) attach(conn net.Conn, attempt uint64) (*link, Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt != attempt || s.state != StateConnecting {
		return nil, nil
	}

	l := &link{
		conn:    conn,
		session: s.session,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(2)
	s.link = l
	s.state = StateConnected
	s.cancelDial = nil
	s.stats.markConnected(time.Now())

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("connected")
	return l, s.observer
}

func (s *Socket) start(l *link) {
	go s.receiveLoop(l)
	go s.writeLoop(l)
}

// Send encrypts data and queues it for writing. Packets are written in
// the order Send is called.
func (s *Socket) Send(data []byte) error {
	return s.enqueue(data, true)
}

// SendRaw queues data without encryption. It is used for the seed.
func (s *Socket) SendRaw(data []byte) error {
	return s.enqueue(data, false)
}

func (s *Socket) enqueue(data []byte, encrypt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	if len(data) > protocol.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrPacketTooLarge, len(data))
	}
	l := s.link
	if l == nil {
		return ErrNotConnected
	}

	buf := append([]byte(nil), data...)
	if encrypt {
		if err := l.session.EncryptOutbound(buf); err != nil {
			return fmt.Errorf("failed to encrypt packet 0x%02X: %w", data[0], err)
		}
	}

	select {
	case l.send <- buf:
		return nil
	case <-l.done:
		return ErrNotConnected
	}
}

// Disconnect closes the connection and reports Success to the observer.
func (s *Socket) Disconnect() {
	s.closeWith(Success)
}

// DisconnectWait closes the connection and waits up to timeout for its
// goroutines to finish. It reports whether they did.
func (s *Socket) DisconnectWait(timeout time.Duration) bool {
	l := s.closeWith(Success)
	if l == nil {
		return true
	}

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("socket loops did not stop in time")
		return false
	}
}

// Fault closes the connection and reports code to the observer.
func (s *Socket) Fault(code SocketError) {
	s.closeWith(code)
}

func (s *Socket) closeWith(reason SocketError) *link {
	s.mu.Lock()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.attempt++
	l := s.link
	s.link = nil
	s.state = StateDisconnected
	observer := s.observer
	s.mu.Unlock()

	if l == nil {
		return nil
	}
	if l.shutdown() {
		s.finish(reason, observer)
	}
	return l
}

// drop is called by a loop that hit an error on l.
func (s *Socket) drop(l *link, err error) {
	if !l.shutdown() {
		return
	}

	s.mu.Lock()
	if s.link == l {
		s.link = nil
		s.state = StateDisconnected
	}
	observer := s.observer
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("connection lost")
	s.finish(Classify(err), observer)
}

func (s *Socket) finish(reason SocketError, observer Observer) {
	s.stats.markDisconnected()
	s.logger.Info().Str("reason", reason.String()).Msg("disconnected")
	if observer != nil {
		observer.OnDisconnected(reason)
	}
}

type countingReader struct {
	r     io.Reader
	stats *Statistics
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.stats.bytesReceived(n)
	return n, err
}

func (s *Socket) receiveLoop(l *link) {
	defer l.wg.Done()

	raw := bufio.NewReaderSize(countingReader{r: l.conn, stats: s.stats}, readBufferSize)
	in := l.session.NewInboundReader(raw)

	for {
		pkt, err := protocol.ReadFrame(in)
		if err != nil {
			s.drop(l, err)
			return
		}
		s.stats.packetReceived()

		if err := s.queue.Push(l.done, pkt); err != nil {
			return
		}
	}
}

func (s *Socket) writeLoop(l *link) {
	defer l.wg.Done()

	for {
		select {
		case buf := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if _, err := l.conn.Write(buf); err != nil {
				s.drop(l, err)
				return
			}
			s.stats.packetSent(len(buf))
		case <-l.done:
			return
		}
	}
}

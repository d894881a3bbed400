// Package crypt holds the per-connection stream cipher and the optional
// inbound compression of the game stream.
package crypt

import (
	"crypto/cipher"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/uolink-project/uolink/internal/protocol"
)

var (
	// ErrAlreadyInitialized is returned by a second Initialize call. A
	// session is bound to one physical connection.
	ErrAlreadyInitialized = errors.New("cipher session already initialized")

	// ErrNotInitialized is returned when traffic is transformed before the
	// seed has been applied.
	ErrNotInitialized = errors.New("cipher session not initialized")

	// ErrCompression is returned when the inbound stream cannot be inflated.
	ErrCompression = errors.New("inbound decompression failed")
)

// Mode is the phase a session was initialized for.
type Mode int

const (
	ModeNone Mode = iota
	ModeLogin
	ModeGame
)

func (m Mode) String() string {
	switch m {
	case ModeLogin:
		return "login"
	case ModeGame:
		return "game"
	default:
		return "none"
	}
}

// Session is the cipher state of one connection. Outbound and inbound
// directions keep independent key streams.
type Session struct {
	mu      sync.Mutex
	enabled bool
	keys    loginKeys
	mode    Mode
	out     cipher.Stream
	in      cipher.Stream

	compressed atomic.Bool
}

// NewSession creates an uninitialized session. With enabled false the
// session still tracks its mode but leaves bytes untouched.
func NewSession(version protocol.ClientVersion, enabled bool) *Session {
	return &Session{
		enabled: enabled,
		keys:    deriveLoginKeys(version),
	}
}

// Initialize derives the key streams from seed. login selects the login
// server cipher, which only encrypts outbound traffic; otherwise the game
// cipher is set up for both directions. It may be called once.
func (s *Session) Initialize(login bool, seed uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeNone {
		return ErrAlreadyInitialized
	}

	if login {
		s.mode = ModeLogin
		if s.enabled {
			s.out = newLoginStream(seed, s.keys)
		}
		return nil
	}

	if s.enabled {
		out, err := newGameStream(seed)
		if err != nil {
			return err
		}
		in, err := newGameStream(seed)
		if err != nil {
			return err
		}
		s.out, s.in = out, in
	}
	s.mode = ModeGame
	return nil
}

// Mode returns the phase the session was initialized for.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Enabled reports whether the session transforms bytes at all.
func (s *Session) Enabled() bool {
	return s.enabled
}

// EncryptOutbound transforms buf in place.
func (s *Session) EncryptOutbound(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeNone {
		return ErrNotInitialized
	}
	if s.out != nil {
		s.out.XORKeyStream(buf, buf)
	}
	return nil
}

// DecryptInbound transforms buf in place. Login servers send in the clear,
// so a login-mode session leaves buf untouched and only game-mode sessions
// satisfy Decrypt(Encrypt(x)) == x.
func (s *Session) DecryptInbound(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeNone {
		return ErrNotInitialized
	}
	if s.in != nil {
		s.in.XORKeyStream(buf, buf)
	}
	return nil
}

// EnableCompression makes the inbound reader inflate everything after the
// bytes already consumed. It cannot be turned off again.
func (s *Session) EnableCompression() {
	s.compressed.Store(true)
}

// Compressed reports whether inbound compression is on.
func (s *Session) Compressed() bool {
	return s.compressed.Load()
}

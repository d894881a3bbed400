package network

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/protocol"
)

// SocketError is the reason a connection ended or failed to start.
type SocketError int

const (
	Success SocketError = iota
	ConnectionRefused
	TimedOut
	ConnectionReset
	ProtocolError
	CipherError
	HostUnreachable
	Unknown
)

func (e SocketError) String() string {
	switch e {
	case Success:
		return "success"
	case ConnectionRefused:
		return "connection refused"
	case TimedOut:
		return "timed out"
	case ConnectionReset:
		return "connection reset"
	case ProtocolError:
		return "protocol error"
	case CipherError:
		return "cipher error"
	case HostUnreachable:
		return "host unreachable"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected     = errors.New("socket is not connected")
	ErrAlreadyConnected = errors.New("socket is already connected or connecting")
	ErrQueueClosed      = errors.New("packet queue push aborted")
)

// Classify maps a dial, read or write error to a SocketError.
func Classify(err error) SocketError {
	if err == nil {
		return Success
	}

	switch {
	case errors.Is(err, crypt.ErrCompression), errors.Is(err, crypt.ErrNotInitialized):
		return CipherError
	case errors.Is(err, protocol.ErrUnknownPacket), errors.Is(err, protocol.ErrBadLength),
		errors.Is(err, protocol.ErrPacketTooLarge), errors.Is(err, protocol.ErrOutOfBounds):
		return ProtocolError
	case errors.Is(err, net.ErrClosed):
		return Success
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE):
		return ConnectionReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return HostUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}
	return Unknown
}

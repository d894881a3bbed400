package login

import (
	"context"
	"net"
	"time"

	"github.com/uolink-project/uolink/internal/crypt"
	"github.com/uolink-project/uolink/internal/network"
)

// Transport is the connection the handshake drives. *network.Socket
// implements it.
type Transport interface {
	Subscribe(o network.Observer)
	Unsubscribe()
	SetSession(s *crypt.Session)
	Connect(ctx context.Context, address string) error
	ConnectSync(ctx context.Context, address string, timeout time.Duration) error
	Send(data []byte) error
	SendRaw(data []byte) error
	Disconnect()
	DisconnectWait(timeout time.Duration) bool
	Fault(code network.SocketError)
	IsConnected() bool
	LocalIP() net.IP
}

// TransportFactory creates a fresh transport for each connection.
type TransportFactory func() Transport

// SocketFactory returns a factory of sockets feeding queue.
func SocketFactory(queue *network.PacketQueue, opts ...network.Option) TransportFactory {
	return func() Transport {
		return network.NewSocket(queue, opts...)
	}
}

// observer binds lifecycle callbacks to the transport they came from, so
// callbacks of a replaced transport are discarded.
type observer struct {
	h *Handshake
	t Transport
}

func (o observer) OnConnected() {
	o.h.onConnected(o.t)
}

func (o observer) OnDisconnected(reason network.SocketError) {
	o.h.onDisconnected(o.t, reason)
}

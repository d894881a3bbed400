// Package ping probes shard latency with ICMP echo and keeps a rolling
// loss window per server list entry.
package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Probe profile defaults.
const (
	DefaultTimeout     = 1000 * time.Millisecond
	DefaultPayloadSize = 32
	DefaultTTL         = 64
)

// ErrTimeout is returned when no echo reply arrives in time.
var ErrTimeout = errors.New("echo request timed out")

var errNoSyscallConn = errors.New("connection does not expose its socket")

// Pinger sends a single echo request.
type Pinger interface {
	Ping(ctx context.Context, ip net.IP) (time.Duration, error)
}

// ICMPPinger implements Pinger with x/net/icmp. Unprivileged mode uses
// datagram ICMP sockets ("udp4"), privileged mode raw sockets. DontFragment
// sets the DF bit on echo requests.
type ICMPPinger struct {
	Timeout      time.Duration
	PayloadSize  int
	TTL          int
	DontFragment bool
	Privileged   bool

	seq atomic.Uint32
}

// NewICMPPinger returns a pinger with the default profile.
func NewICMPPinger(privileged bool) *ICMPPinger {
	return &ICMPPinger{
		Timeout:      DefaultTimeout,
		PayloadSize:  DefaultPayloadSize,
		TTL:          DefaultTTL,
		DontFragment: true,
		Privileged:   privileged,
	}
}

func (p *ICMPPinger) Ping(ctx context.Context, ip net.IP) (time.Duration, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %v", ip)
	}

	network := "udp4"
	var dst net.Addr = &net.UDPAddr{IP: v4}
	if p.Privileged {
		network = "ip4:icmp"
		dst = &net.IPAddr{IP: v4}
	}

	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return 0, fmt.Errorf("failed to open icmp socket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if p.TTL > 0 {
		if err := conn.IPv4PacketConn().SetTTL(p.TTL); err != nil {
			return 0, fmt.Errorf("failed to set ttl: %w", err)
		}
	}
	if p.DontFragment {
		if err := setDontFragment(conn.IPv4PacketConn().PacketConn); err != nil {
			return 0, fmt.Errorf("failed to set don't fragment: %w", err)
		}
	}

	seq := int(p.seq.Add(1) & 0xFFFF)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xFFFF,
			Seq:  seq,
			Data: make([]byte, p.PayloadSize),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to encode echo request: %w", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, fmt.Errorf("failed to send echo request: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("failed to read echo reply: %w", err)
		}

		reply, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), rb[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// Datagram sockets rewrite the identifier, so only the sequence
		// number is matched.
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.Seq == seq {
			return time.Since(start), nil
		}
	}
}

//go:build linux

package ping

import (
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDontFragmentEnablesPMTUDiscovery(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, setDontFragment(conn))

	raw, err := conn.(*net.UDPConn).SyscallConn()
	require.NoError(t, err)
	var got int
	var optErr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		got, optErr = syscall.GetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MTU_DISCOVER)
	}))
	require.NoError(t, optErr)
	assert.Equal(t, syscall.IP_PMTUDISC_DO, got)
}

type plainPacketConn struct{ net.PacketConn }

func TestSetDontFragmentNeedsSocket(t *testing.T) {
	assert.ErrorIs(t, setDontFragment(plainPacketConn{}), errNoSyscallConn)
}

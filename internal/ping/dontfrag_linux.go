//go:build linux

package ping

import (
	"net"
	"syscall"
)

// setDontFragment sets the DF bit on every datagram sent through c by
// forcing path MTU discovery on the socket.
func setDontFragment(c net.PacketConn) error {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return errNoSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		opErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MTU_DISCOVER, syscall.IP_PMTUDISC_DO)
	})
	if err != nil {
		return err
	}
	return opErr
}

//go:build windows

package ping

import (
	"net"
	"syscall"
)

const ipDontFragment = 14

// setDontFragment sets the DF bit on every datagram sent through c.
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
		opErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.IPPROTO_IP, ipDontFragment, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

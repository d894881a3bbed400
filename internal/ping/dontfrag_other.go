//go:build !linux && !windows

package ping

import "net"

func setDontFragment(net.PacketConn) error { return nil }

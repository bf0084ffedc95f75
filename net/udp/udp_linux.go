//go:build linux

package udp

import (
	"net"

	"golang.org/x/sys/unix"
)

// SetDSCP marks traffic on conn with the given differentiated services code
// point; dscp must be in range [0, 63].
func SetDSCP(conn *net.UDPConn, dscp uint8) error {
	sconn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var res struct {
		err error
	}
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	err = sconn.Control(func(fd uintptr) {
		if localAddr.IP.To4() != nil {
			res.err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS,
				int(dscp)<<2)
		} else {
			res.err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS,
				int(dscp)<<2)
		}
	})
	if err != nil {
		return err
	}
	return res.err
}

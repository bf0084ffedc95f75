//go:build !linux

package udp

import (
	"net"
)

func SetDSCP(conn *net.UDPConn, dscp uint8) error {
	return nil
}

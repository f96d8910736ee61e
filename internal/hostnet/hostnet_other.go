//go:build !linux

package hostnet

import "net"

func BoundUDPPorts(net.IP) ([]int, error) {
	return nil, ErrUnsupported
}

func CheckLoopback() (LoopbackStatus, error) {
	return LoopbackStatus{}, ErrUnsupported
}

// Package hostnet inspects the host's network state to explain socket
// failures: which local UDP ports are taken and whether the loopback
// interface the sockets bind to is usable.
package hostnet

import (
	"errors"
	"net"
	"slices"
)

var ErrUnsupported = errors.New("not supported on this platform")

// A LoopbackStatus describes the link that carries traffic for 127.0.0.1.
type LoopbackStatus struct {
	Interface string
	Up        bool
	// Namespace identifies the network namespace. Loopback sockets can only
	// reach peers in the same namespace.
	Namespace string
}

// Usable reports whether sockets bound to 127.0.0.1 can exchange datagrams.
func (s LoopbackStatus) Usable() bool {
	return s.Up
}

// socketsConflict returns true if a socket bound to ip blocks binding the
// same port on listen.
func socketsConflict(ip, listen net.IP) bool {
	return ip.IsUnspecified() || ip.Equal(listen)
}

func sortedPorts(ports map[int]struct{}) []int {
	portList := make([]int, 0, len(ports))
	for port := range ports {
		portList = append(portList, port)
	}
	slices.Sort(portList)
	return portList
}

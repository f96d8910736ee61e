package hostnet

import (
	"fmt"
	"net"

	"github.com/prometheus/procfs"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// BoundUDPPorts lists the UDP ports that sockets on this host already hold
// on address listenIP, either directly or through the wildcard address.
func BoundUDPPorts(listenIP net.IP) ([]int, error) {
	// Open the proc filesystem to read open ports
	pfs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening proc filesystem: %w", err)
	}

	// Read the UDP connection information
	ipv4UdpConns, err := pfs.NetUDP()
	if err != nil {
		return nil, fmt.Errorf("reading UDP connection information for IPv4: %w", err)
	}

	// UDP has no LISTEN state, every socket with an inode holds its port.
	ports := make(map[int]struct{})
	for _, conn := range ipv4UdpConns {
		if conn.Inode != 0 && socketsConflict(conn.LocalAddr, listenIP) {
			ports[int(conn.LocalPort)] = struct{}{}
		}
	}

	return sortedPorts(ports), nil
}

// CheckLoopback resolves the route to 127.0.0.1 and reports the state of the
// link it uses in the current network namespace.
func CheckLoopback() (LoopbackStatus, error) {
	var status LoopbackStatus

	currentNetns, err := netns.Get()
	if err != nil {
		return status, fmt.Errorf("get current netns: %w", err)
	}
	defer currentNetns.Close()
	status.Namespace = currentNetns.UniqueId()

	routes, err := netlink.RouteGet(net.IPv4(127, 0, 0, 1))
	if err != nil {
		return status, fmt.Errorf("getting route to 127.0.0.1: %w", err)
	}
	if len(routes) == 0 {
		return status, fmt.Errorf("no route to 127.0.0.1 found")
	}

	link, err := netlink.LinkByIndex(routes[0].LinkIndex)
	if err != nil {
		return status, fmt.Errorf("getting link %d: %w", routes[0].LinkIndex, err)
	}

	attrs := link.Attrs()
	status.Interface = attrs.Name
	status.Up = attrs.Flags&net.FlagUp != 0
	return status, nil
}

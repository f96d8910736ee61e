//go:build unix

package socket

import (
	"errors"

	"golang.org/x/sys/unix"
)

// handle is a socket file descriptor.
type handle = int

const invalidHandle handle = -1

func startup() error {
	return nil
}

func sysSocket() (handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return invalidHandle, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func sysBind(fd handle, local Endpoint) error {
	return unix.Bind(fd, sockaddr(local))
}

func sysLocalEndpoint(fd handle) (Endpoint, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa), nil
}

func sysClose(fd handle) error {
	return unix.Close(fd)
}

func sysSendTo(fd handle, data []byte, to Endpoint) (int, error) {
	return unix.SendmsgN(fd, data, nil, sockaddr(to), 0)
}

func sysPoll(fd handle, timeoutMillis int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, unix.EBADF
	}
	// POLLERR also counts as ready: recvfrom reports the pending error.
	return true, nil
}

func sysRecvFrom(fd handle, buf []byte) (int, Endpoint, error) {
	n, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, Endpoint{}, err
	}
	return n, endpointOf(sa), nil
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func sockaddr(e Endpoint) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(e.Port), Addr: e.Octets()}
}

func endpointOf(sa unix.Sockaddr) Endpoint {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return Endpoint{IP: ipFromOctets(sa4.Addr), Port: uint16(sa4.Port)}
	}
	return Endpoint{}
}

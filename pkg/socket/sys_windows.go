//go:build windows

package socket

import (
	"errors"
	"fmt"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

// handle is a Winsock SOCKET.
type handle = windows.Handle

const invalidHandle = windows.InvalidHandle

// Winsock constants that golang.org/x/sys/windows does not export.
const (
	wsaEINTR     windows.Errno = 10004
	wsaENOTSOCK  windows.Errno = 10038
	socketError                = -1
	pollRdNorm                 = 0x0100
	pollNval                   = 0x0004
	winsockMajor               = 2
	winsockMinor               = 2
)

var (
	modws2_32   = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAPoll = modws2_32.NewProc("WSAPoll")
)

// wsaPollFd mirrors WSAPOLLFD.
type wsaPollFd struct {
	fd      windows.Handle
	events  int16
	revents int16
}

// startup calls WSAStartup. Winsock counts the calls, so repeating it is
// harmless.
func startup() error {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(winsockMinor<<8|winsockMajor), &data); err != nil {
		return fmt.Errorf("WSAStartup: %w", err)
	}
	return nil
}

func sysSocket() (handle, error) {
	return windows.Socket(windows.AF_INET, windows.SOCK_DGRAM, windows.IPPROTO_UDP)
}

func sysBind(fd handle, local Endpoint) error {
	return windows.Bind(fd, sockaddr(local))
}

func sysLocalEndpoint(fd handle) (Endpoint, error) {
	sa, err := windows.Getsockname(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointOf(sa), nil
}

func sysClose(fd handle) error {
	return windows.Closesocket(fd)
}

// sysSendTo reports the whole payload as sent: a successful sendto on a
// datagram socket never transmits a partial datagram.
func sysSendTo(fd handle, data []byte, to Endpoint) (int, error) {
	if err := windows.Sendto(fd, data, 0, sockaddr(to)); err != nil {
		return 0, err
	}
	return len(data), nil
}

func sysPoll(fd handle, timeoutMillis int) (bool, error) {
	pfd := wsaPollFd{fd: fd, events: pollRdNorm}
	r, _, errno := procWSAPoll.Call(uintptr(unsafe.Pointer(&pfd)), 1, uintptr(int32(timeoutMillis)))
	switch n := int32(r); {
	case n == socketError:
		return false, errno
	case n == 0:
		return false, nil
	}
	if pfd.revents&pollNval != 0 {
		return false, wsaENOTSOCK
	}
	return true, nil
}

// sysRecvFrom uses WSARecvFrom rather than recvfrom so the sender address is
// still filled in when Winsock reports WSAEMSGSIZE for a truncated datagram.
func sysRecvFrom(fd handle, buf []byte) (int, Endpoint, error) {
	var (
		wsaBuf  = windows.WSABuf{Len: uint32(len(buf))}
		recvd   uint32
		flags   uint32
		from    windows.RawSockaddrAny
		fromLen = int32(unsafe.Sizeof(from))
	)
	if len(buf) > 0 {
		wsaBuf.Buf = &buf[0]
	}

	err := windows.WSARecvFrom(fd, &wsaBuf, 1, &recvd, &flags, &from, &fromLen, nil, nil)
	if err != nil && !isMessageTooLong(err) {
		return 0, Endpoint{}, err
	}
	n := int(recvd)
	if err != nil {
		n = len(buf)
	}

	sa, err := from.Sockaddr()
	if err != nil {
		// The datagram was consumed, so it is still delivered, just without
		// a sender.
		log.WithError(err).WithField("family", from.Addr.Family).Debug("Could not decode sender address")
		return n, Endpoint{}, nil
	}
	return n, endpointOf(sa), nil
}

func isMessageTooLong(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE)
}

func isInterrupted(err error) bool {
	return errors.Is(err, wsaEINTR)
}

func sockaddr(e Endpoint) *windows.SockaddrInet4 {
	return &windows.SockaddrInet4{Port: int(e.Port), Addr: e.Octets()}
}

func endpointOf(sa windows.Sockaddr) Endpoint {
	if sa4, ok := sa.(*windows.SockaddrInet4); ok {
		return Endpoint{IP: ipFromOctets(sa4.Addr), Port: uint16(sa4.Port)}
	}
	return Endpoint{}
}

package forward

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// isTransientReceiveError reports errors Winsock attaches to an unconnected
// datagram socket after an ICMP error for an earlier send, most commonly
// WSAECONNRESET once a peer has gone away.
func isTransientReceiveError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case
			windows.WSAENETRESET,
			windows.WSAECONNRESET,
			windows.WSAECONNABORTED,
			windows.WSAECONNREFUSED,
			windows.WSAENETUNREACH,
			windows.WSAETIMEDOUT:
			return true
		}
	}
	return false
}

//go:build unix

package forward

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// isTransientReceiveError reports errors a datagram socket picks up from ICMP
// messages about earlier sends. They concern one peer, not the socket.
func isTransientReceiveError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case
			unix.ECONNREFUSED,
			unix.ECONNRESET,
			unix.ENETUNREACH,
			unix.EHOSTUNREACH,
			unix.ETIMEDOUT:
			return true
		}
	}
	return false
}

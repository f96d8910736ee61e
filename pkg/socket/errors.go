package socket

import (
	"errors"
	"fmt"
	"syscall"

	log "github.com/sirupsen/logrus"
)

var (
	ErrCreation = errors.New("socket creation failed")
	ErrBind     = errors.New("bind failed")
	ErrClose    = errors.New("close failed")
	ErrSend     = errors.New("send failed")
	ErrWait     = errors.New("wait for readability failed")
	ErrReceive  = errors.New("receive failed")
	ErrParse    = errors.New("invalid IPv4 literal")

	// ErrClosed is returned by every operation on a socket that has already
	// been closed.
	ErrClosed = errors.New("use of closed socket")
)

// Op names the OS call that failed.
type Op string

const (
	OpSocket      Op = "socket"
	OpBind        Op = "bind"
	OpGetsockname Op = "getsockname"
	OpClose       Op = "close"
	OpSendTo      Op = "sendto"
	OpPoll        Op = "poll"
	OpRecvFrom    Op = "recvfrom"
)

// sentinel maps an Op onto the error class callers match with errors.Is.
func (op Op) sentinel() error {
	switch op {
	case OpSocket:
		return ErrCreation
	case OpBind, OpGetsockname:
		return ErrBind
	case OpClose:
		return ErrClose
	case OpSendTo:
		return ErrSend
	case OpPoll:
		return ErrWait
	case OpRecvFrom:
		return ErrReceive
	}
	return nil
}

// An OpError is returned by every socket operation the OS rejected. Err holds
// the platform error code, usually a syscall.Errno.
type OpError struct {
	Op       Op
	Endpoint Endpoint // local endpoint for bind, destination for sendto, zero otherwise
	Err      error
}

func (e *OpError) Error() string {
	if e.Endpoint != (Endpoint{}) {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error class of the failed operation, so
// that errors.Is(err, ErrBind) works on the result of Open.
func (e *OpError) Is(target error) bool {
	return target != nil && target == e.Op.sentinel()
}

// Errno returns the platform error code carried by err, if any. It replaces
// the errno / WSAGetLastError side channel: the code travels with the error
// returned from the failing call instead of living in thread-local state.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// opError builds the error for a failed OS call and logs it where it happened.
func opError(op Op, endpoint Endpoint, err error) error {
	entry := log.WithField("op", op).WithError(err)
	if endpoint != (Endpoint{}) {
		entry = entry.WithField("endpoint", endpoint.String())
	}
	if errno, ok := Errno(err); ok {
		entry = entry.WithField("errno", int(errno))
	}
	entry.Debug("Socket operation failed")

	return &OpError{Op: op, Endpoint: endpoint, Err: err}
}

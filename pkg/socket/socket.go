package socket

import (
	"math"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// Forever makes ReceiveFrom wait until a datagram arrives.
const Forever time.Duration = -1

// A UDPSocket is an IPv4 datagram socket bound to the loopback address. It
// owns its OS handle exclusively.
//
// Every method blocks the calling goroutine. A UDPSocket must not be used by
// several goroutines at once unless the caller synchronizes them; closing it
// from another goroutine is not guaranteed to wake a pending ReceiveFrom.
type UDPSocket struct {
	fd     handle
	local  Endpoint
	closed bool
}

// A Reception is the outcome of a ReceiveFrom that did not fail. Either
// TimedOut is set and nothing was read, or N bytes from From were copied into
// the caller's buffer.
type Reception struct {
	N        int
	From     Endpoint
	TimedOut bool
}

// Startup performs the one-time network stack initialization some platforms
// need before sockets can be used. It is a no-op on unix and may be called
// any number of times. A returned error means sockets cannot be used.
func Startup() error {
	if err := startup(); err != nil {
		log.WithError(err).Warn("Network stack initialization failed")
		return err
	}
	return nil
}

// Open creates a UDP socket bound to 127.0.0.1:localPort. Port 0 lets the OS
// pick an ephemeral port, which LocalEndpoint reports.
func Open(localPort uint16) (*UDPSocket, error) {
	requested := Loopback(localPort)

	fd, err := sysSocket()
	if err != nil {
		return nil, opError(OpSocket, Endpoint{}, err)
	}

	if err := sysBind(fd, requested); err != nil {
		sysClose(fd)
		return nil, opError(OpBind, requested, err)
	}

	local, err := sysLocalEndpoint(fd)
	if err != nil {
		sysClose(fd)
		return nil, opError(OpGetsockname, requested, err)
	}

	s := &UDPSocket{fd: fd, local: local}
	runtime.SetFinalizer(s, (*UDPSocket).release)

	log.WithField("local", local.String()).Debug("Opened socket")
	return s, nil
}

// LocalEndpoint returns the address the socket is bound to.
func (s *UDPSocket) LocalEndpoint() Endpoint {
	return s.local
}

// Close releases the OS handle. The handle counts as released even when an
// error is returned. Calling Close again, or any other method afterwards,
// returns ErrClosed.
func (s *UDPSocket) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)

	fd := s.fd
	s.fd = invalidHandle
	if err := sysClose(fd); err != nil {
		return opError(OpClose, Endpoint{}, err)
	}

	log.WithField("local", s.local.String()).Debug("Closed socket")
	return nil
}

// release is the finalizer for sockets that were never closed.
func (s *UDPSocket) release() {
	if s.closed {
		return
	}
	log.WithField("local", s.local.String()).Warn("Releasing socket that was not closed")
	s.closed = true
	sysClose(s.fd)
}

// SendTo sends data as a single datagram to the endpoint and returns the
// number of bytes sent. Nothing is retried.
func (s *UDPSocket) SendTo(data []byte, to Endpoint) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	n, err := sysSendTo(s.fd, data, to)
	runtime.KeepAlive(s)
	if err != nil {
		return 0, opError(OpSendTo, to, err)
	}
	return n, nil
}

// ReceiveFrom waits up to timeout for a datagram and reads it into buf. A
// negative timeout waits forever and a zero timeout only checks whether a
// datagram is already queued. Positive timeouts are rounded up to whole
// milliseconds.
//
// Expiry of the timeout is not an error: it yields a Reception with TimedOut
// set. A datagram larger than buf is truncated to len(buf).
func (s *UDPSocket) ReceiveFrom(buf []byte, timeout time.Duration) (Reception, error) {
	if s.closed {
		return Reception{}, ErrClosed
	}

	ready, err := s.waitReadable(timeout)
	if err != nil {
		return Reception{}, opError(OpPoll, Endpoint{}, err)
	}
	if !ready {
		return Reception{TimedOut: true}, nil
	}

	for {
		n, from, err := sysRecvFrom(s.fd, buf)
		runtime.KeepAlive(s)
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			return Reception{}, opError(OpRecvFrom, Endpoint{}, err)
		}
		return Reception{N: n, From: from}, nil
	}
}

// waitReadable polls the socket until it is readable or the timeout expires.
// Signals interrupt poll on every thread the Go runtime owns, so EINTR resumes
// the wait with whatever is left of the timeout.
func (s *UDPSocket) waitReadable(timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ready, err := sysPoll(s.fd, pollTimeout(timeout))
		runtime.KeepAlive(s)
		if err == nil {
			return ready, nil
		}
		if !isInterrupted(err) {
			return false, err
		}
		if timeout > 0 {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return false, nil
			}
		}
	}
}

// maxPollTimeout is the longest wait poll(2) takes as an int32 of
// milliseconds. Longer timeouts wait forever.
const maxPollTimeout = math.MaxInt32 * time.Millisecond

// pollTimeout converts a timeout into the millisecond argument of poll(2).
func pollTimeout(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	case timeout > maxPollTimeout:
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

package socket

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// LoopbackIP is 127.0.0.1. Every socket opened by this package is bound to it.
const LoopbackIP uint32 = 0x7f000001

// An Endpoint identifies a UDP peer. IP is the big-endian packing of the four
// address octets, so 127.0.0.1 is 0x7f000001. Port is a plain port number.
type Endpoint struct {
	IP   uint32
	Port uint16
}

// Loopback returns the endpoint 127.0.0.1:port.
func Loopback(port uint16) Endpoint {
	return Endpoint{IP: LoopbackIP, Port: port}
}

// EndpointFromAddrPort converts an IPv4 (or IPv4-mapped IPv6) address and port.
// Other address families are rejected.
func EndpointFromAddrPort(ap netip.AddrPort) (Endpoint, error) {
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return Endpoint{}, fmt.Errorf("not an IPv4 address: %s", ap.Addr())
	}
	return Endpoint{IP: ipFromOctets(addr.As4()), Port: ap.Port()}, nil
}

func (e Endpoint) Octets() [4]byte {
	var octets [4]byte
	binary.BigEndian.PutUint32(octets[:], e.IP)
	return octets
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(e.Octets()), e.Port)
}

func (e Endpoint) String() string {
	return e.AddrPort().String()
}

func ipFromOctets(octets [4]byte) uint32 {
	return binary.BigEndian.Uint32(octets[:])
}

// A ParseError describes text that is not an accepted IPv4 literal or
// endpoint. It matches ErrParse.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", ErrParse, e.Text, e.Err)
	}
	return fmt.Sprintf("%v %q", ErrParse, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ParseIP parses a dotted-decimal IPv4 literal such as "192.168.0.1". Each of
// the four octets must be a decimal number from 0 to 255 without leading
// zeros. Shorthand forms like "127.1", hexadecimal or octal octets and IPv6
// literals are rejected. Since failure is reported through the error, every
// address including 255.255.255.255 is a valid result.
func ParseIP(text string) (uint32, error) {
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return 0, &ParseError{Text: text, Err: err}
	}
	if !addr.Is4() {
		return 0, &ParseError{Text: text}
	}
	return ipFromOctets(addr.As4()), nil
}

// ParseEndpoint parses "a.b.c.d:port".
func ParseEndpoint(text string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(text)
	if err != nil {
		return Endpoint{}, &ParseError{Text: text, Err: err}
	}
	ip, err := ParseIP(host)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, &ParseError{Text: text, Err: fmt.Errorf("port: %w", err)}
	}
	return Endpoint{IP: ip, Port: uint16(port)}, nil
}

package filter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// A Filter is a set of rules for received datagrams.
type Filter interface {
	// Matches returns true if the datagram is accepted by the rules of the filter.
	Matches(datagram []byte, from socket.Endpoint) bool
}

// A SenderFilter only accepts datagrams from one peer. A zero port in Sender
// accepts every port of the sender's address.
type SenderFilter struct {
	Sender *socket.Endpoint
}

func (f *SenderFilter) Matches(_ []byte, from socket.Endpoint) bool {
	if f.Sender == nil {
		return true
	}
	if f.Sender.IP != from.IP {
		return false
	}
	return f.Sender.Port == 0 || f.Sender.Port == from.Port
}

// A PortFilter drops datagrams whose sender port is ignored.
type PortFilter struct {
	IgnoredPorts []int
}

func (f *PortFilter) Matches(_ []byte, from socket.Endpoint) bool {
	return !slices.Contains(f.IgnoredPorts, int(from.Port))
}

// A LayerFilter accepts datagrams whose payload decodes cleanly as a given
// application protocol, e.g. DNS.
type LayerFilter struct {
	LayerType gopacket.LayerType
}

func (f *LayerFilter) Matches(data []byte, _ socket.Endpoint) bool {
	packet := gopacket.NewPacket(data, f.LayerType, gopacket.NoCopy)

	// A payload that fails to decode shows up as a DecodeFailure first layer.
	// Failures further in (e.g. the inner frame of a Geneve packet) don't
	// matter.
	decoded := packet.Layers()
	return len(decoded) > 0 && decoded[0].LayerType() == f.LayerType
}

// All accepts a datagram only if every filter does. An empty All accepts
// everything.
type All []Filter

func (a All) Matches(data []byte, from socket.Endpoint) bool {
	for _, f := range a {
		if !f.Matches(data, from) {
			return false
		}
	}
	return true
}

var layerTypes = map[string]gopacket.LayerType{
	"dns":    layers.LayerTypeDNS,
	"ntp":    layers.LayerTypeNTP,
	"geneve": layers.LayerTypeGeneve,
	"vxlan":  layers.LayerTypeVXLAN,
}

// LayerTypeByName resolves the protocol names accepted on the command line.
func LayerTypeByName(name string) (gopacket.LayerType, error) {
	if lt, ok := layerTypes[strings.ToLower(name)]; ok {
		return lt, nil
	}
	names := make([]string, 0, len(layerTypes))
	for n := range layerTypes {
		names = append(names, n)
	}
	slices.Sort(names)
	return 0, fmt.Errorf("unknown layer %q, expected one of %s", name, strings.Join(names, ", "))
}

// Describe returns a one-line summary of the decoded layers of a datagram for
// debug logging.
func Describe(data []byte, lt gopacket.LayerType) string {
	packet := gopacket.NewPacket(data, lt, gopacket.NoCopy)
	names := make([]string, 0, len(packet.Layers()))
	for _, l := range packet.Layers() {
		names = append(names, l.LayerType().String())
	}
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		names = append(names, fmt.Sprintf("error(%v)", errLayer.Error()))
	}
	return strings.Join(names, "/")
}

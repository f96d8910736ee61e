package forward

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/filter"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
	"github.com/google/gopacket"
	log "github.com/sirupsen/logrus"
)

// MaxBufferSize is the largest UDP payload and the default receive buffer
// size, so by default nothing the forwarder relays is truncated.
const MaxBufferSize = 65535

// pollInterval bounds how long the forwarder waits for a datagram before it
// checks its context again.
const pollInterval = 100 * time.Millisecond

// A Conn is the part of a socket the forwarder needs. *socket.UDPSocket
// implements it.
type Conn interface {
	SendTo(data []byte, to socket.Endpoint) (int, error)
	ReceiveFrom(buf []byte, timeout time.Duration) (socket.Reception, error)
}

// Stats are the counters of a Forwarder.
type Stats struct {
	Received  uint64
	Forwarded uint64
	Dropped   uint64
}

// A Forwarder relays datagrams arriving on a socket. Each datagram goes to
// the destination the rules name for its sender port. Without a matching
// rule or default target it is echoed back to the sender.
type Forwarder struct {
	conn          Conn
	rules         *RuleStore
	receiveFilter filter.Filter
	decodeLayer   gopacket.LayerType
	bufferSize    int

	received, forwarded, dropped atomic.Uint64
}

// NewForwarder creates a forwarder on conn. A nil filter accepts everything.
func NewForwarder(conn Conn, rules *RuleStore, receiveFilter filter.Filter) *Forwarder {
	if rules == nil {
		rules = NewRuleStore()
	}
	if receiveFilter == nil {
		receiveFilter = filter.All{}
	}
	return &Forwarder{
		conn:          conn,
		rules:         rules,
		receiveFilter: receiveFilter,
		bufferSize:    MaxBufferSize,
	}
}

// SetBufferSize sets the receive buffer size. Longer datagrams are truncated
// to it before they are filtered and relayed.
func (f *Forwarder) SetBufferSize(size int) error {
	if size < 1 || size > MaxBufferSize {
		return fmt.Errorf("buffer size out of range: %v", size)
	}
	f.bufferSize = size
	return nil
}

// SetDecodeLayer makes debug logging include the decoded layers of every
// datagram, read as the given protocol.
func (f *Forwarder) SetDecodeLayer(lt gopacket.LayerType) {
	f.decodeLayer = lt
}

func (f *Forwarder) Stats() Stats {
	return Stats{
		Received:  f.received.Load(),
		Forwarded: f.forwarded.Load(),
		Dropped:   f.dropped.Load(),
	}
}

// Forward is a blocking function that relays datagrams until ctx is done.
// Failed sends and receive errors caused by ICMP reports about one peer are
// logged and counted as dropped. Any other receive error ends forwarding.
func (f *Forwarder) Forward(ctx context.Context) error {
	packet := make([]byte, f.bufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		reception, err := f.conn.ReceiveFrom(packet, pollInterval)
		if err != nil {
			if isTransientReceiveError(err) {
				f.dropped.Add(1)
				log.WithError(err).Debug("Ignoring receive error reported for an earlier send")
				continue
			}
			return fmt.Errorf("receive from socket: %w", err)
		}
		if reception.TimedOut {
			continue
		}
		f.received.Add(1)

		data := packet[:reception.N]
		if !f.receiveFilter.Matches(data, reception.From) {
			f.dropped.Add(1)
			log.WithField("from", reception.From.String()).Debug("Datagram rejected by filter")
			continue
		}

		destination, err := f.rules.Destination(int(reception.From.Port))
		if errors.Is(err, ErrNoDefaultTarget) {
			destination = reception.From
		}

		entry := log.
			WithField("from", reception.From.String()).
			WithField("to", destination.String()).
			WithField("data", hex.EncodeToString(data))
		if f.decodeLayer != 0 {
			entry = entry.WithField("layers", filter.Describe(data, f.decodeLayer))
		}
		entry.Debug("Forwarding datagram")

		nWrite, err := f.conn.SendTo(data, destination)
		if err != nil {
			f.dropped.Add(1)
			entry.WithError(err).Warn("Sending datagram failed")
			continue
		}
		if nWrite != len(data) {
			f.dropped.Add(1)
			entry.WithField("written", nWrite).Warn("Could not write full datagram")
			continue
		}
		f.forwarded.Add(1)
	}
}

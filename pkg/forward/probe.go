package forward

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var ErrProbeTimeout = errors.New("no echo received before the timeout")

// Probe sends a datagram carrying a fresh UUID to target and waits until the
// same bytes come back from it, returning the round-trip time. Unrelated
// datagrams arriving in the meantime are discarded.
func Probe(conn Conn, target socket.Endpoint, timeout time.Duration) (time.Duration, error) {
	id := uuid.New()
	payload := id[:]

	start := time.Now()
	if _, err := conn.SendTo(payload, target); err != nil {
		return 0, fmt.Errorf("sending probe: %w", err)
	}

	deadline := start.Add(timeout)
	buffer := make([]byte, len(payload)+1)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrProbeTimeout
		}

		reception, err := conn.ReceiveFrom(buffer, remaining)
		if err != nil {
			if isTransientReceiveError(err) {
				log.WithError(err).Debug("Ignoring receive error reported for an earlier send")
				continue
			}
			return 0, fmt.Errorf("waiting for echo: %w", err)
		}
		if reception.TimedOut {
			return 0, ErrProbeTimeout
		}

		if reception.From == target && bytes.Equal(buffer[:reception.N], payload) {
			rtt := time.Since(start)
			log.WithField("probe", id.String()).WithField("rtt", rtt).Debug("Probe answered")
			return rtt, nil
		}

		log.WithField("from", reception.From.String()).Debug("Ignoring unrelated datagram")
	}
}

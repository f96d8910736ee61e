package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/filter"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/forward"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
	"github.com/google/gopacket"
	"github.com/sirupsen/logrus"
)

const (
	modeEcho    = "echo"
	modeForward = "forward"
	modeProbe   = "probe"
)

type arguments struct {
	Mode         string
	Port         uint16
	Target       *socket.Endpoint
	Sender       *socket.Endpoint
	Rules        []forward.ForwardingRule
	BufferSize   int
	Timeout      time.Duration
	Count        int
	DecodeLayer  gopacket.LayerType
	LogLevel     logrus.Level
	IgnoredPorts []int
}

func parseArgs() arguments {
	result, err := parseArgsFrom(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	return result
}

func parseArgsFrom(fs *flag.FlagSet, args []string) (arguments, error) {
	var result arguments
	var port uint
	var loglevel, target, sender, decode string

	defaultLevel := os.Getenv("LOOPUDP_LOGLEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}

	fs.StringVar(&result.Mode, "mode", modeEcho, "what to do: echo datagrams back, forward them to -target, or probe -target")
	fs.UintVar(&port, "port", 0, "local port to bind on 127.0.0.1, 0 picks a free one")
	fs.StringVar(&target, "target", "", "target endpoint as a.b.c.d:port")
	fs.StringVar(&sender, "sender", "", "only accept datagrams from this sender, as a.b.c.d or a.b.c.d:port")
	fs.IntVar(&result.BufferSize, "buffer", forward.MaxBufferSize, "receive buffer size in bytes, longer datagrams are truncated")
	fs.DurationVar(&result.Timeout, "timeout", time.Second, "how long a probe waits for its echo")
	fs.IntVar(&result.Count, "count", 3, "number of probes to send")
	fs.StringVar(&decode, "decode", "", "protocol to decode payloads as (dns, geneve, ntp, vxlan); non-matching datagrams are dropped")
	fs.StringVar(&loglevel, "loglevel", defaultLevel, "log level to use. See https://github.com/sirupsen/logrus#level-logging for available levels.")
	fs.Func("rule", "forward datagrams from a sender port to a target, as port=a.b.c.d:port (repeatable)",
		func(s string) error {
			rule, err := parseRule(s)
			if err != nil {
				return err
			}
			result.Rules = append(result.Rules, rule)
			return nil
		})
	fs.Func("ignoredPorts", "sender ports whose datagrams are dropped, as comma-separated ports or ranges",
		func(s string) (err error) { result.IgnoredPorts, err = parsePortRanges(s); return err })
	if err := fs.Parse(args); err != nil {
		return result, err
	}

	if port >= 0x10000 {
		return result, fmt.Errorf("port out of range: %v", port)
	}
	result.Port = uint16(port)

	if target != "" {
		endpoint, err := socket.ParseEndpoint(target)
		if err != nil {
			return result, fmt.Errorf("invalid target: %w", err)
		}
		result.Target = &endpoint
	}

	if sender != "" {
		endpoint, err := parseSender(sender)
		if err != nil {
			return result, fmt.Errorf("invalid sender: %w", err)
		}
		result.Sender = &endpoint
	}

	if result.BufferSize < 1 || result.BufferSize > forward.MaxBufferSize {
		return result, fmt.Errorf("buffer size out of range: %v", result.BufferSize)
	}

	switch result.Mode {
	case modeEcho:
		if result.Target != nil || len(result.Rules) > 0 {
			return result, fmt.Errorf("mode %s echoes to the sender and takes no -target or -rule", result.Mode)
		}
	case modeForward:
		if result.Target == nil && len(result.Rules) == 0 {
			return result, fmt.Errorf("mode %s needs -target or -rule", result.Mode)
		}
	case modeProbe:
		if result.Target == nil {
			return result, fmt.Errorf("mode %s needs -target", result.Mode)
		}
		if result.Count < 1 {
			return result, fmt.Errorf("count must be positive: %v", result.Count)
		}
	default:
		return result, fmt.Errorf("unknown mode: %q", result.Mode)
	}

	if decode != "" {
		layerType, err := filter.LayerTypeByName(decode)
		if err != nil {
			return result, err
		}
		result.DecodeLayer = layerType
	}

	logrusLevel, err := logrus.ParseLevel(loglevel)
	if err != nil {
		return result, fmt.Errorf("invalid loglevel: %w", err)
	}
	result.LogLevel = logrusLevel

	return result, nil
}

// parseSender accepts an address alone, which matches every port, or a full
// endpoint.
func parseSender(s string) (socket.Endpoint, error) {
	if !strings.Contains(s, ":") {
		ip, err := socket.ParseIP(s)
		if err != nil {
			return socket.Endpoint{}, err
		}
		return socket.Endpoint{IP: ip}, nil
	}
	return socket.ParseEndpoint(s)
}

func parseRule(s string) (forward.ForwardingRule, error) {
	portStr, targetStr, found := strings.Cut(s, "=")
	if !found {
		return forward.ForwardingRule{}, fmt.Errorf("rule %q is not port=a.b.c.d:port", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return forward.ForwardingRule{}, err
	}
	if port < 1 || port >= 0x10000 {
		return forward.ForwardingRule{}, fmt.Errorf("rule port out of range: %v", port)
	}
	target, err := socket.ParseEndpoint(targetStr)
	if err != nil {
		return forward.ForwardingRule{}, err
	}
	return forward.ForwardingRule{Port: port, Target: target}, nil
}

func parsePortRanges(portRangesStr string) (ports []int, err error) {
	ports = []int{}
	portRanges := strings.Split(portRangesStr, ",")
	for _, portRange := range portRanges {
		if portRange == "" {
			continue
		}
		startStr, endStr, found := strings.Cut(portRange, "-")
		start, err := strconv.Atoi(startStr)
		if err != nil {
			return nil, err
		}
		if start < 1 || start >= 0x10000 {
			return nil, fmt.Errorf("start port out of range: %v", start)
		}
		if found {
			end, err := strconv.Atoi(endStr)
			if err != nil {
				return nil, err
			}
			if end < 1 || end >= 0x10000 {
				return nil, fmt.Errorf("end port out of range: %v", end)
			}
			if end < start {
				return nil, fmt.Errorf("empty port range: %v", portRange)
			}
			for p := 0; p < end-start+1; p++ {
				ports = append(ports, p+start)
			}
		} else {
			ports = append(ports, start)
		}
	}
	return ports, nil
}

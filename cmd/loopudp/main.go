package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/internal/hostnet"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/filter"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/forward"
	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
	log "github.com/sirupsen/logrus"
)

func main() {
	args := parseArgs()
	log.SetLevel(args.LogLevel)

	log.Info("Starting...")

	err := run(args)
	if err != nil {
		log.WithError(err).Fatal("failed to run")
	}
	log.Info("Quitting...")
}

func run(args arguments) error {
	if err := socket.Startup(); err != nil {
		return fmt.Errorf("initializing network stack: %w", err)
	}
	checkLoopback()

	sock, err := socket.Open(args.Port)
	if err != nil {
		if errors.Is(err, socket.ErrBind) {
			explainBindFailure(args.Port)
		}
		return fmt.Errorf("opening socket: %w", err)
	}
	defer sock.Close()

	log.WithField("local", sock.LocalEndpoint().String()).WithField("mode", args.Mode).Info("Socket ready")

	if args.Mode == modeProbe {
		return probe(sock, args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errorChannel := make(chan error, 1)
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, os.Interrupt, syscall.SIGTERM)

	forwarder, err := newForwarder(sock, args)
	if err != nil {
		return fmt.Errorf("creating forwarder: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := forwarder.Forward(ctx); err != nil {
			errorChannel <- err
		}
	}()

	select {
	case <-signalChannel:
		cancel()
		<-done
	case err := <-errorChannel:
		return fmt.Errorf("forward: %w", err)
	}

	stats := forwarder.Stats()
	log.
		WithField("received", stats.Received).
		WithField("forwarded", stats.Forwarded).
		WithField("dropped", stats.Dropped).
		Info("Forwarder stopped")
	return nil
}

func newForwarder(sock *socket.UDPSocket, args arguments) (*forward.Forwarder, error) {
	// Without a target or rules the forwarder echoes to the sender.
	rules := forward.NewRuleStore()
	if args.Mode == modeForward {
		if args.Target != nil {
			rules.SetDefaultTarget(*args.Target)
		}
		rules.UpdateForwardingRules(args.Rules)
	}

	filters := filter.All{}
	if args.Sender != nil {
		filters = append(filters, &filter.SenderFilter{Sender: args.Sender})
	}
	if len(args.IgnoredPorts) > 0 {
		filters = append(filters, &filter.PortFilter{IgnoredPorts: args.IgnoredPorts})
	}
	if args.DecodeLayer != 0 {
		filters = append(filters, &filter.LayerFilter{LayerType: args.DecodeLayer})
	}

	forwarder := forward.NewForwarder(sock, rules, filters)
	if args.BufferSize != 0 {
		if err := forwarder.SetBufferSize(args.BufferSize); err != nil {
			return nil, err
		}
	}
	if args.DecodeLayer != 0 {
		forwarder.SetDecodeLayer(args.DecodeLayer)
	}
	return forwarder, nil
}

func probe(sock *socket.UDPSocket, args arguments) error {
	answered := 0
	for i := 0; i < args.Count; i++ {
		log := log.WithField("target", args.Target.String()).WithField("seq", i)

		rtt, err := forward.Probe(sock, *args.Target, args.Timeout)
		if errors.Is(err, forward.ErrProbeTimeout) {
			log.Warn("Probe timed out")
			continue
		}
		if err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		answered++
		log.WithField("rtt", rtt).Info("Probe answered")
	}

	if answered == 0 {
		return fmt.Errorf("no probe to %s was answered", args.Target)
	}
	return nil
}

// checkLoopback only logs: the socket calls report the actual failure.
func checkLoopback() {
	status, err := hostnet.CheckLoopback()
	if errors.Is(err, hostnet.ErrUnsupported) {
		return
	}
	if err != nil {
		log.WithError(err).Warn("Could not inspect loopback interface")
		return
	}

	log := log.WithField("interface", status.Interface).WithField("netns", status.Namespace)
	if !status.Usable() {
		log.Warn("Loopback interface is down")
		return
	}
	log.Debug("Loopback interface is up")
}

func explainBindFailure(port uint16) {
	if port == 0 {
		return
	}
	ports, err := hostnet.BoundUDPPorts(net.IPv4(127, 0, 0, 1))
	if err != nil {
		if !errors.Is(err, hostnet.ErrUnsupported) {
			log.WithError(err).Debug("Could not list bound UDP ports")
		}
		return
	}
	for _, p := range ports {
		if p == int(port) {
			log.WithField("port", port).Error("Port is already bound by another socket on 127.0.0.1")
			return
		}
	}
}

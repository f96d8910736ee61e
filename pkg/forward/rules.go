package forward

import (
	"errors"
	"sync"

	"github.com/Cybersecurity-and-Enterprise-Security/loopudp/pkg/socket"
)

var (
	ErrNoDefaultTarget = errors.New("no default target configured")
)

// A ForwardingRule sends datagrams from one sender port to a fixed target.
type ForwardingRule struct {
	Port   int
	Target socket.Endpoint
}

// A RuleStore maps sender ports to targets. It is safe for concurrent use, so
// rules can be replaced while a Forwarder runs.
type RuleStore struct {
	sync.Mutex

	defaultTarget *socket.Endpoint
	store         map[int]socket.Endpoint
}

func NewRuleStore() *RuleStore {
	return &RuleStore{
		Mutex: sync.Mutex{},
		store: map[int]socket.Endpoint{},
	}
}

func (r *RuleStore) SetDefaultTarget(target socket.Endpoint) {
	r.Lock()
	defer r.Unlock()

	r.defaultTarget = &target
}

func (r *RuleStore) UpdateForwardingRules(newRules []ForwardingRule) {
	// Swap in a fresh map, Go never shrinks the old one.
	newStore := make(map[int]socket.Endpoint, len(newRules))
	for _, rule := range newRules {
		newStore[rule.Port] = rule.Target
	}

	r.Lock()
	defer r.Unlock()
	r.store = newStore
}

// Destination returns the target for datagrams from senderPort, falling back
// to the default target.
func (r *RuleStore) Destination(senderPort int) (socket.Endpoint, error) {
	r.Lock()
	defer r.Unlock()

	if destination, ok := r.store[senderPort]; ok {
		return destination, nil
	}
	if r.defaultTarget == nil {
		return socket.Endpoint{}, ErrNoDefaultTarget
	}
	return *r.defaultTarget, nil
}

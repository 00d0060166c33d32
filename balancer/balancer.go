// Package balancer selects a concrete instance for a service using a
// pluggable strategy over healthy registry snapshots.
//
// Two entry points exist: Pick is pure selection, Acquire additionally takes
// a load slot on the chosen node and hands back a Lease whose Release must be
// called on both success and failure paths. Least-connections is only
// meaningful when every acquisition is paired with a release.
package balancer

import (
	"sync"

	"github.com/kbukum/orchestra/errors"
	"github.com/kbukum/orchestra/registry"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	// RoundRobin cycles through healthy instances in order.
	RoundRobin Strategy = "round_robin"
	// LeastConn selects the healthy instance with the lowest load, ties
	// broken by earliest registration.
	LeastConn Strategy = "least_conn"
	// Weighted selects randomly in proportion to per-node weights set at
	// registration time.
	Weighted Strategy = "weighted"
	// IPHash maps a caller-supplied key onto a consistent hash ring so the
	// same key keeps hitting the same instance while the pool is stable.
	IPHash Strategy = "ip_hash"
)

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{RoundRobin, LeastConn, Weighted, IPHash}
}

// Valid reports whether the strategy is one of the supported set.
func (s Strategy) Valid() bool {
	for _, known := range Strategies() {
		if s == known {
			return true
		}
	}
	return false
}

type pickOptions struct {
	hashKey string
}

// PickOption customizes a single selection.
type PickOption func(*pickOptions)

// WithHashKey supplies the hash key for the ip_hash strategy. The key source
// is deliberately the caller's choice (client IP, sender name, session id);
// ip_hash selections without a key are rejected.
func WithHashKey(key string) PickOption {
	return func(o *pickOptions) { o.hashKey = key }
}

// picker is a single selection algorithm over a healthy snapshot.
// The snapshot is never empty when pick is called.
type picker interface {
	pick(nodes []registry.ServiceNode, opts pickOptions) (registry.ServiceNode, error)
}

// Balancer resolves a service name to one healthy instance.
type Balancer struct {
	registry *registry.Registry
	strategy Strategy
	picker   picker
}

// New creates a Balancer over the given registry.
func New(reg *registry.Registry, strategy Strategy) (*Balancer, error) {
	var p picker
	switch strategy {
	case RoundRobin:
		p = &roundRobinPicker{}
	case LeastConn:
		p = &leastConnPicker{}
	case Weighted:
		p = newWeightedPicker()
	case IPHash:
		p = &ipHashPicker{replicas: defaultHashReplicas}
	default:
		return nil, errors.InvalidRegistration("strategy", "unknown load balancing strategy "+string(strategy))
	}
	return &Balancer{registry: reg, strategy: strategy, picker: p}, nil
}

// Strategy returns the configured strategy name.
func (b *Balancer) Strategy() Strategy {
	return b.strategy
}

// Pick selects one healthy instance of the named service without touching
// its load counter. An unknown service yields NOT_FOUND; a known service with
// zero healthy instances yields NO_HEALTHY_INSTANCE.
func (b *Balancer) Pick(service string, opts ...PickOption) (registry.ServiceNode, error) {
	var options pickOptions
	for _, opt := range opts {
		opt(&options)
	}

	nodes, err := b.registry.Instances(service, true)
	if err != nil {
		return registry.ServiceNode{}, err
	}
	if len(nodes) == 0 {
		return registry.ServiceNode{}, errors.NoHealthyInstance(service)
	}
	return b.picker.pick(nodes, options)
}

// Acquire selects an instance and takes a load slot on it. The returned
// Lease must be released exactly once when the caller is done with the
// instance, whether the use succeeded or failed.
func (b *Balancer) Acquire(service string, opts ...PickOption) (*Lease, error) {
	// The node can be deregistered between the snapshot and the load
	// increment; one re-pick absorbs that race.
	for attempt := 0; attempt < 2; attempt++ {
		node, err := b.Pick(service, opts...)
		if err != nil {
			return nil, err
		}
		if err := b.registry.Acquire(node.ID); err != nil {
			continue
		}
		node.Load++
		return &Lease{Node: node, registry: b.registry}, nil
	}
	return nil, errors.NoHealthyInstance(service)
}

// Lease is a scoped hold on one instance's load slot.
type Lease struct {
	// Node is a snapshot of the selected instance at acquisition time.
	Node registry.ServiceNode

	registry *registry.Registry
	once     sync.Once
}

// Release returns the load slot. Safe to call more than once; only the first
// call decrements.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.Release(l.Node.ID)
	})
}

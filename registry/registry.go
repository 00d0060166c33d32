// Package registry implements the in-memory service instance registry.
//
// The registry is the single source of truth for which instances exist and
// whether they are healthy. All mutation and iteration is serialized by one
// exclusive lock; no I/O ever happens while the lock is held. Callers that
// need to iterate receive point-in-time copies, never live views.
package registry

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/orchestra/errors"
)

// Health represents the last-known health of a service instance.
type Health string

const (
	// Healthy means the instance may receive traffic.
	Healthy Health = "HEALTHY"
	// Unhealthy means the instance failed its last probe.
	Unhealthy Health = "UNHEALTHY"
)

// ServiceNode is one running replica of a named service.
type ServiceNode struct {
	ID           string    `json:"id"`
	Service      string    `json:"service"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Health       Health    `json:"health"`
	Load         int       `json:"load"`
	Weight       int       `json:"weight"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Addr returns the host:port address of the node.
func (n ServiceNode) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// RegisterOption customizes a registration.
type RegisterOption func(*ServiceNode)

// WithWeight sets the node's load-balancing weight. Weights below 1 are
// treated as 1 by the weighted strategy.
func WithWeight(w int) RegisterOption {
	return func(n *ServiceNode) { n.Weight = w }
}

// Registry is a thread-safe store mapping a service name to its instances.
// Instances are kept in registration order per service, which the
// least-connections strategy relies on for deterministic tie-breaking.
type Registry struct {
	mu       sync.Mutex
	services map[string][]*ServiceNode
	byID     map[string]*ServiceNode
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		services: make(map[string][]*ServiceNode),
		byID:     make(map[string]*ServiceNode),
	}
}

// Register adds a new instance of the named service and returns its id.
// New instances start HEALTHY with zero load; the health checker takes it
// from there.
func (r *Registry) Register(service, host string, port int, opts ...RegisterOption) string {
	node := &ServiceNode{
		ID:           uuid.NewString(),
		Service:      service,
		Host:         host,
		Port:         port,
		Health:       Healthy,
		Weight:       1,
		RegisteredAt: time.Now(),
	}
	for _, opt := range opts {
		opt(node)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = append(r.services[service], node)
	r.byID[node.ID] = node
	return node.ID
}

// Deregister removes the instance with the given id.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return errors.NotFound("instance", id)
	}
	delete(r.byID, id)

	nodes := r.services[node.Service]
	for i, n := range nodes {
		if n.ID == id {
			r.services[node.Service] = append(nodes[:i], nodes[i+1:]...)
			break
		}
	}
	if len(r.services[node.Service]) == 0 {
		delete(r.services, node.Service)
	}
	return nil
}

// Instances returns a point-in-time copy of the named service's instances in
// registration order. With healthyOnly set, unhealthy nodes are filtered out.
// An unknown service yields NOT_FOUND so callers can distinguish it from a
// known service with zero healthy instances.
func (r *Registry) Instances(service string, healthyOnly bool) ([]ServiceNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, ok := r.services[service]
	if !ok {
		return nil, errors.NotFound("service", service)
	}

	out := make([]ServiceNode, 0, len(nodes))
	for _, n := range nodes {
		if healthyOnly && n.Health != Healthy {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

// SetHealth updates the last-known health of an instance. Invoked by the
// health checker after each probe round.
func (r *Registry) SetHealth(id string, status Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return errors.NotFound("instance", id)
	}
	node.Health = status
	return nil
}

// HealthOf returns the last-known health of an instance.
func (r *Registry) HealthOf(id string) (Health, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return "", errors.NotFound("instance", id)
	}
	return node.Health, nil
}

// Acquire increments the load counter of an instance. The caller owns the
// acquired slot and must pair it with exactly one Release.
func (r *Registry) Acquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return errors.NotFound("instance", id)
	}
	node.Load++
	return nil
}

// Release decrements the load counter of an instance. Releasing an already
// deregistered instance is a no-op; the load floor is zero.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return
	}
	if node.Load > 0 {
		node.Load--
	}
}

// LoadOf returns the current load counter of an instance.
func (r *Registry) LoadOf(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.byID[id]
	if !ok {
		return 0, errors.NotFound("instance", id)
	}
	return node.Load, nil
}

// Services returns the names of all registered services.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a point-in-time copy of every registered instance.
func (r *Registry) Snapshot() []ServiceNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServiceNode, 0, len(r.byID))
	for _, nodes := range r.services {
		for _, n := range nodes {
			out = append(out, *n)
		}
	}
	return out
}

// Len returns the total number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

package balancer

import (
	"sync/atomic"

	"github.com/kbukum/orchestra/registry"
)

// roundRobinPicker cycles through the healthy snapshot with an atomic
// counter. Over a stable pool of k healthy instances, k consecutive picks
// visit each instance exactly once.
type roundRobinPicker struct {
	counter atomic.Uint64
}

func (p *roundRobinPicker) pick(nodes []registry.ServiceNode, _ pickOptions) (registry.ServiceNode, error) {
	idx := (p.counter.Add(1) - 1) % uint64(len(nodes))
	return nodes[idx], nil
}

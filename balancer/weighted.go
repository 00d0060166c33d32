package balancer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/kbukum/orchestra/registry"
)

// weightedPicker selects randomly in proportion to node weights. The weight
// source is the per-node Weight set at registration; non-positive weights
// count as 1 so a misconfigured node still receives traffic.
type weightedPicker struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newWeightedPicker() *weightedPicker {
	return &weightedPicker{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *weightedPicker) pick(nodes []registry.ServiceNode, _ pickOptions) (registry.ServiceNode, error) {
	totalWeight := 0
	for _, n := range nodes {
		totalWeight += effectiveWeight(n)
	}

	p.mu.Lock()
	roll := p.r.Intn(totalWeight)
	p.mu.Unlock()

	for _, n := range nodes {
		roll -= effectiveWeight(n)
		if roll < 0 {
			return n, nil
		}
	}
	return nodes[len(nodes)-1], nil
}

func effectiveWeight(n registry.ServiceNode) int {
	if n.Weight <= 0 {
		return 1
	}
	return n.Weight
}

package balancer

import "github.com/kbukum/orchestra/registry"

// leastConnPicker selects the instance with the minimum load. The snapshot
// arrives in registration order, so keeping the first strict minimum makes
// ties deterministic: earliest registration wins.
type leastConnPicker struct{}

func (p *leastConnPicker) pick(nodes []registry.ServiceNode, _ pickOptions) (registry.ServiceNode, error) {
	selected := nodes[0]
	for _, n := range nodes[1:] {
		if n.Load < selected.Load {
			selected = n
		}
	}
	return selected, nil
}
